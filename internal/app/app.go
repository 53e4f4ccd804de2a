// Package app wires all talkinghead subsystems into a running application.
//
// The App struct owns the full lifecycle: New loads the canned catalogue and
// connects the providers to the orchestrator and the HTTP API, Run serves
// requests until the context is cancelled, and Shutdown drains in-flight
// requests and tears everything down in order.
//
// For testing, inject mock providers through [Providers] and test doubles
// through functional options (WithMetrics, WithMetricsHandler).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/talkinghead/internal/assemble"
	"github.com/MrWong99/talkinghead/internal/canned"
	"github.com/MrWong99/talkinghead/internal/config"
	"github.com/MrWong99/talkinghead/internal/health"
	"github.com/MrWong99/talkinghead/internal/history"
	"github.com/MrWong99/talkinghead/internal/httpapi"
	"github.com/MrWong99/talkinghead/internal/observe"
	"github.com/MrWong99/talkinghead/internal/orchestrator"
	"github.com/MrWong99/talkinghead/internal/resilience"
	"github.com/MrWong99/talkinghead/internal/responder"
	"github.com/MrWong99/talkinghead/pkg/provider/lipsync"
	"github.com/MrWong99/talkinghead/pkg/provider/llm"
	"github.com/MrWong99/talkinghead/pkg/provider/stt"
	"github.com/MrWong99/talkinghead/pkg/provider/tts"
)

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM     llm.Provider
	STT     stt.Provider
	TTS     tts.Provider
	LipSync lipsync.Provider
}

// selfChecker is implemented by providers that can verify their own
// prerequisites, such as a local binary being installed.
type selfChecker interface {
	Check() error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics        *observe.Metrics
	metricsHandler http.Handler

	// Subsystems, initialised in New.
	catalog *canned.Catalog
	log     *history.Log
	breaker *resilience.CircuitBreaker
	orch    *orchestrator.Orchestrator
	health  *health.Handler
	handler http.Handler
	server  *http.Server

	mu   sync.Mutex
	addr net.Addr

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records metrics to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at /metrics when telemetry.metrics is enabled.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithCloser registers fn to run during Shutdown after the HTTP server has
// stopped. Closers run in registration order.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). cfg must already
// have defaults applied.
//
// New performs all initialisation synchronously. A canned asset that cannot
// be read is a startup error.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       history.New(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if providers.TTS == nil {
		return nil, errors.New("app: no tts provider configured")
	}
	if providers.LipSync == nil {
		return nil, errors.New("app: no lipsync provider configured")
	}

	// ── 1. Canned catalogue ──────────────────────────────────────────────
	if err := a.initCatalog(); err != nil {
		return nil, fmt.Errorf("app: init canned catalogue: %w", err)
	}

	// ── 2. Orchestrator ──────────────────────────────────────────────────
	a.initOrchestrator()

	// ── 3. Health probes ─────────────────────────────────────────────────
	a.initHealth()

	// ── 4. HTTP API ──────────────────────────────────────────────────────
	a.initHTTP()

	slog.InfoContext(ctx, "application initialised",
		"canned_entries", a.catalog.Len(),
		"canned_policy", a.catalog.Policy(),
		"responder", a.cfg.Providers.LLM.Name,
		"transcriber", a.cfg.Providers.STT.Name,
	)
	return a, nil
}

func (a *App) initCatalog() error {
	c := a.cfg.Canned
	cat, err := canned.Load(c.Dir, c.Entries, c.Policy, canned.WithFuzzyThreshold(c.FuzzyThreshold))
	if err != nil {
		return err
	}
	a.catalog = cat
	return nil
}

func (a *App) initOrchestrator() {
	cfg := a.cfg
	pipe := cfg.Pipeline

	asm := assemble.New(a.providers.TTS, a.providers.LipSync,
		assemble.WithConcurrency(pipe.Concurrency),
		assemble.WithTimeouts(pipe.Timeouts.Synthesize, pipe.Timeouts.Animate),
		assemble.WithProviderNames(cfg.Providers.TTS.Name, cfg.Providers.LipSync.Name),
		assemble.WithMetrics(a.metrics),
	)

	opts := []orchestrator.Option{
		orchestrator.WithFallback(cfg.Responder.Fallback),
		orchestrator.WithLogCannedHits(cfg.Canned.LogHits),
		orchestrator.WithTimeouts(pipe.Timeouts.Transcribe, pipe.Timeouts.Respond),
		orchestrator.WithMetrics(a.metrics),
	}
	// The breaker is opt-in: without it every non-canned question makes
	// exactly one Responder attempt.
	if cb := cfg.Responder.CircuitBreaker; cb.MaxFailures > 0 {
		a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "responder",
			MaxFailures:  cb.MaxFailures,
			ResetTimeout: cb.ResetTimeout,
			HalfOpenMax:  cb.HalfOpenMax,
			OnStateChange: func(name string, _, to resilience.State) {
				a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		})
		opts = append(opts, orchestrator.WithBreaker(a.breaker))
	}
	if name := cfg.Providers.LLM.Name; name != "" {
		opts = append(opts, orchestrator.WithResponderName(name))
	}
	if a.providers.STT != nil {
		opts = append(opts, orchestrator.WithTranscriber(a.providers.STT, cfg.Providers.STT.Name))
	}

	// A nil Responder interface makes every reply degrade to the fallback.
	var resp orchestrator.Responder
	if a.providers.LLM != nil {
		resp = responder.New(a.providers.LLM,
			responder.WithSystemPrompt(cfg.Responder.SystemPrompt),
			responder.WithTemperature(cfg.Responder.Temperature),
			responder.WithMaxTokens(cfg.Responder.MaxTokens),
			responder.WithMaxSegments(cfg.Responder.MaxSegments),
		)
	}

	a.orch = orchestrator.New(a.catalog, resp, asm, a.log, opts...)
}

func (a *App) initHealth() {
	checkers := []health.Checker{
		{
			Name: "canned",
			Check: func(context.Context) error {
				if a.catalog == nil {
					return errors.New("catalogue not loaded")
				}
				return nil
			},
		},
	}
	if sc, ok := a.providers.LipSync.(selfChecker); ok {
		checkers = append(checkers, health.Checker{
			Name:  "lipsync",
			Check: func(context.Context) error { return sc.Check() },
		})
	}
	a.health = health.New(checkers...)
}

func (a *App) initHTTP() {
	cfg := a.cfg.Server
	api := httpapi.New(a.orch, a.providers.TTS, a.log,
		httpapi.WithDefaultVoice(a.cfg.Voice.DefaultVoiceID),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
	)

	extra := []func(*http.ServeMux){a.health.Register}
	if a.cfg.Telemetry.MetricsEnabled() && a.metricsHandler != nil {
		extra = append(extra, func(mux *http.ServeMux) {
			mux.Handle("GET /metrics", a.metricsHandler)
		})
	}

	a.handler = observe.Middleware(a.metrics)(api.Handler(corsPolicy(cfg.CORS), extra...))
	a.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// History returns the conversation log.
func (a *App) History() *history.Log { return a.log }

// Addr returns the address the server is listening on, or nil before Run
// has bound its listener.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on server.listen_addr and serves HTTP until ctx is cancelled
// or the server fails. It returns ctx.Err() on cancellation; the caller is
// expected to call [App.Shutdown] afterwards.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Serve(ln) }()

	slog.Info("http server listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting connections, waits for in-flight requests, and
// then runs the registered closers. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// corsPolicy converts a config.CORSConfig to httpapi.CORSPolicy.
func corsPolicy(c config.CORSConfig) httpapi.CORSPolicy {
	return httpapi.CORSPolicy{
		AllowedOrigins:   c.AllowedOrigins,
		AllowedMethods:   c.AllowedMethods,
		AllowedHeaders:   c.AllowedHeaders,
		AllowCredentials: c.AllowCredentials == nil || *c.AllowCredentials,
	}
}
