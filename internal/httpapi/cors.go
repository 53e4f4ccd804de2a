package httpapi

import (
	"net/http"
	"slices"
	"strings"
)

// CORSPolicy is the cross-origin policy of the API. Origins are matched
// exactly; there is no wildcard.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
}

// CORS returns middleware enforcing p.
//
//   - Requests without an Origin header are passed through untouched.
//   - Requests from an origin not on the allow-list get 403.
//   - OPTIONS requests are answered with 204 and the allowed methods and
//     headers; they never reach next.
func CORS(p CORSPolicy) func(http.Handler) http.Handler {
	methods := strings.Join(p.AllowedMethods, ", ")
	headers := strings.Join(p.AllowedHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if !slices.Contains(p.AllowedOrigins, origin) {
					writeError(w, http.StatusForbidden, "Origin "+origin+" not allowed by CORS")
					return
				}
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				if p.AllowCredentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				h := w.Header()
				h.Set("Access-Control-Allow-Methods", methods)
				if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); headers == "" && reqHeaders != "" {
					h.Set("Access-Control-Allow-Headers", reqHeaders)
				} else if headers != "" {
					h.Set("Access-Control-Allow-Headers", headers)
				}
				h.Set("Content-Length", "0")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
