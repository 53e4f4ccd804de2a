// Package httpapi is the HTTP boundary of the talking-head server.
//
// It decodes JSON requests, hands them to the orchestrator, and encodes the
// assembled segments, voice catalogue, and conversation log back to the
// client. Cross-cutting concerns (CORS, panic recovery, body limits) are
// plain [net/http] middleware so the caller can compose them with tracing and
// metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/MrWong99/talkinghead/internal/orchestrator"
	"github.com/MrWong99/talkinghead/pkg/provider/tts"
	"github.com/MrWong99/talkinghead/pkg/types"
)

// DefaultMaxBodyBytes is the request body limit when none is configured.
const DefaultMaxBodyBytes = 50 << 20

// Conversation answers questions. *orchestrator.Orchestrator implements it.
type Conversation interface {
	HandleText(ctx context.Context, req orchestrator.TextRequest) (*orchestrator.Reply, error)
	HandleAudio(ctx context.Context, req orchestrator.AudioRequest) (*orchestrator.Reply, error)
}

// VoiceLister lists the voices of the synthesizer.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]tts.VoiceProfile, error)
}

// History exposes the conversation log.
type History interface {
	Snapshot() []types.Turn
}

var _ Conversation = (*orchestrator.Orchestrator)(nil)

// Server holds the API handlers and their dependencies.
type Server struct {
	conv         Conversation
	voices       VoiceLister
	history      History
	defaultVoice string
	maxBody      int64
}

// Option is a functional option for [New].
type Option func(*Server)

// WithDefaultVoice sets the voice used when a request names none.
func WithDefaultVoice(id string) Option {
	return func(s *Server) { s.defaultVoice = id }
}

// WithMaxBodyBytes caps request bodies. Non-positive values are ignored.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// New creates a Server.
func New(conv Conversation, voices VoiceLister, history History, opts ...Option) *Server {
	s := &Server{
		conv:    conv,
		voices:  voices,
		history: history,
		maxBody: DefaultMaxBodyBytes,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /voices", s.handleVoices)
	mux.HandleFunc("POST /tts", s.handleTTS)
	mux.HandleFunc("POST /sts", s.handleSTS)
	mux.HandleFunc("GET /chat-history", s.handleHistory)
}

// Handler returns the API routes behind panic recovery and the CORS policy.
// extra registers additional routes (health, metrics) on the same mux.
func (s *Server) Handler(policy CORSPolicy, extra ...func(*http.ServeMux)) http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	for _, fn := range extra {
		fn(mux)
	}
	return Recover(CORS(policy)(mux))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorDTO{Error: msg})
}
