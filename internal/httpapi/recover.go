package httpapi

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/MrWong99/talkinghead/internal/observe"
)

// Recover turns a panic in next into a 500 response so that one bad request
// cannot take the server down.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(v)
			}
			observe.Logger(r.Context()).Error("panic serving request",
				"method", r.Method,
				"path", r.URL.Path,
				"panic", v,
				"stack", string(debug.Stack()))
			writeError(w, http.StatusInternalServerError, "Something broke!")
		}()
		next.ServeHTTP(w, r)
	})
}
