// Package orchestrator answers one conversational turn end to end.
//
// For a text question the [Orchestrator] first consults the canned catalogue.
// On a miss it asks the Responder for a reply plan, substituting the fallback
// plan when the Responder fails, voices the plan with the Assembler and
// finally records the exchange in the conversation log. Audio questions are
// transcribed first and never hit the catalogue.
//
// The log is only written after assembly succeeds, and the user turn and
// the assistant turn are appended together.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/talkinghead/internal/history"
	"github.com/MrWong99/talkinghead/internal/observe"
	"github.com/MrWong99/talkinghead/internal/resilience"
	"github.com/MrWong99/talkinghead/internal/responder"
	"github.com/MrWong99/talkinghead/pkg/provider/stt"
	"github.com/MrWong99/talkinghead/pkg/types"
)

var (
	// ErrNoVoice is returned when a reply must be synthesised but the request
	// names no voice.
	ErrNoVoice = errors.New("orchestrator: no voice selected")

	// ErrNoAudio is returned by HandleAudio for an empty clip.
	ErrNoAudio = errors.New("orchestrator: no audio provided")

	// ErrNoTranscriber is returned by HandleAudio when no STT provider is
	// configured.
	ErrNoTranscriber = errors.New("orchestrator: no transcriber configured")
)

// DefaultFallback is the plan served when the Responder fails and no other
// fallback was configured.
var DefaultFallback = []types.ReplySegment{{
	Text:    "I'm sorry, there seems to be an error with my brain, or I didn't understand. Could you please repeat your question?",
	Emotion: "sad",
}}

// Catalog looks up canned replies.
type Catalog interface {
	Match(message string) (name string, segments []types.SpokenSegment, ok bool)
}

// Responder produces reply plans.
type Responder interface {
	Respond(ctx context.Context, question, emotion string) (types.ReplyPlan, error)
}

// Assembler voices reply plans.
type Assembler interface {
	Assemble(ctx context.Context, plan types.ReplyPlan, voiceID string) ([]types.SpokenSegment, error)
}

// TextRequest is a typed question.
type TextRequest struct {
	Message string
	Emotion string
	VoiceID string
}

// AudioRequest is a spoken question.
type AudioRequest struct {
	Audio   []byte
	Emotion string
	VoiceID string
}

// Reply is the answer to one turn.
type Reply struct {
	Segments []types.SpokenSegment

	// Analysis is the Responder's analysis; nil for canned and degraded replies.
	Analysis json.RawMessage

	// Canned is set when the reply came from the catalogue.
	Canned bool

	// Degraded is set when the fallback plan was served.
	Degraded bool

	// Transcript is the recognised text of an audio question.
	Transcript string
}

// Orchestrator runs conversational turns. It is safe for concurrent use.
type Orchestrator struct {
	catalog   Catalog
	responder Responder
	assembler Assembler
	log       *history.Log

	transcriber     stt.Provider
	transcriberName string
	responderName   string
	breaker         *resilience.CircuitBreaker
	fallback        []types.ReplySegment
	logCannedHits   bool
	transcribeDL    time.Duration
	respondDL       time.Duration
	metrics         *observe.Metrics
}

// Option is a functional option for [New].
type Option func(*Orchestrator)

// WithTranscriber enables [Orchestrator.HandleAudio]. name labels metrics.
func WithTranscriber(p stt.Provider, name string) Option {
	return func(o *Orchestrator) {
		o.transcriber = p
		o.transcriberName = name
	}
}

// WithResponderName labels Responder metrics and spans. Default: "llm".
func WithResponderName(name string) Option {
	return func(o *Orchestrator) { o.responderName = name }
}

// WithBreaker guards Responder calls with cb. While cb is open the fallback
// plan is served without calling the Responder.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(o *Orchestrator) { o.breaker = cb }
}

// WithFallback replaces [DefaultFallback]. An empty plan is ignored.
func WithFallback(segs []types.ReplySegment) Option {
	return func(o *Orchestrator) {
		if len(segs) > 0 {
			o.fallback = slices.Clone(segs)
		}
	}
}

// WithLogCannedHits records canned exchanges in the conversation log.
func WithLogCannedHits(on bool) Option {
	return func(o *Orchestrator) { o.logCannedHits = on }
}

// WithTimeouts bounds the Transcriber and Responder calls. Zero means no bound.
func WithTimeouts(transcribe, respond time.Duration) Option {
	return func(o *Orchestrator) {
		o.transcribeDL = transcribe
		o.respondDL = respond
	}
}

// WithMetrics records metrics to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New returns an Orchestrator. catalog and responder may be nil: a nil
// catalogue never hits and a nil responder always degrades.
func New(catalog Catalog, resp Responder, asm Assembler, log *history.Log, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		catalog:       catalog,
		responder:     resp,
		assembler:     asm,
		log:           log,
		responderName: "llm",
		fallback:      DefaultFallback,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// HandleText answers a typed question.
func (o *Orchestrator) HandleText(ctx context.Context, req TextRequest) (*Reply, error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "orchestrator.HandleText")
	defer span.End()

	if o.catalog != nil {
		if name, segs, ok := o.catalog.Match(req.Message); ok {
			o.metrics.RecordCannedHit(ctx, name)
			if o.logCannedHits {
				o.appendExchange(ctx, req.Message, nil, req.Emotion, segs)
			}
			o.recordReply(ctx, "canned", start)
			return &Reply{Segments: segs, Canned: true}, nil
		}
	}

	if req.VoiceID == "" {
		return nil, ErrNoVoice
	}
	return o.reply(ctx, req.Message, req.Emotion, req.VoiceID, start)
}

// HandleAudio transcribes a spoken question and answers it. The canned
// catalogue is not consulted. An empty transcript is a transcription failure.
func (o *Orchestrator) HandleAudio(ctx context.Context, req AudioRequest) (*Reply, error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "orchestrator.HandleAudio")
	defer span.End()

	if len(req.Audio) == 0 {
		return nil, ErrNoAudio
	}
	if req.VoiceID == "" {
		return nil, ErrNoVoice
	}
	if o.transcriber == nil {
		return nil, ErrNoTranscriber
	}

	text, err := o.transcribe(ctx, req.Audio)
	if err != nil {
		return nil, err
	}

	reply, err := o.reply(ctx, text, req.Emotion, req.VoiceID, start)
	if err != nil {
		return nil, err
	}
	reply.Transcript = text
	return reply, nil
}

// reply runs CALL_RESPONDER, DEGRADE, ASSEMBLE and LOG.
func (o *Orchestrator) reply(ctx context.Context, question, emotion, voiceID string, start time.Time) (*Reply, error) {
	outcome := o.respond(ctx, question, emotion)

	plan := outcome.Plan()
	source := "responder"
	if !outcome.IsOk() {
		reason := degradeReason(outcome.Reason())
		observe.Logger(ctx).Warn("responder failed, serving fallback reply",
			"reason", reason,
			"err", outcome.Reason())
		o.metrics.RecordDegraded(ctx, reason)
		plan = types.ReplyPlan{Segments: slices.Clone(o.fallback)}
		source = "fallback"
	}

	segs, err := o.assembler.Assemble(ctx, plan, voiceID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	o.appendExchange(ctx, question, plan.Analysis, emotion, segs)
	o.recordReply(ctx, source, start)
	return &Reply{
		Segments: segs,
		Analysis: plan.Analysis,
		Degraded: !outcome.IsOk(),
	}, nil
}

// respond calls the Responder under its timeout and the circuit breaker.
func (o *Orchestrator) respond(ctx context.Context, question, emotion string) Outcome {
	if o.responder == nil {
		return Err(errNoResponder)
	}

	ctx, cancel := withTimeout(ctx, o.respondDL)
	defer cancel()
	ctx, finish := observe.StartStage(ctx, observe.StageRespond, o.responderName)
	began := time.Now()

	call := func(ctx context.Context) (types.ReplyPlan, error) {
		return o.responder.Respond(ctx, question, emotion)
	}
	var (
		plan types.ReplyPlan
		err  error
	)
	if o.breaker != nil {
		plan, err = resilience.Call(ctx, o.breaker, call)
	} else {
		plan, err = call(ctx)
	}

	if !errors.Is(err, resilience.ErrCircuitOpen) {
		o.metrics.RecordStage(ctx, observe.StageRespond, o.responderName, time.Since(began), err)
	}
	finish(err)
	if err != nil {
		return Err(err)
	}
	return Ok(plan)
}

func (o *Orchestrator) transcribe(ctx context.Context, audio []byte) (text string, err error) {
	ctx, cancel := withTimeout(ctx, o.transcribeDL)
	defer cancel()
	ctx, finish := observe.StartStage(ctx, observe.StageTranscribe, o.transcriberName)
	began := time.Now()
	defer func() {
		o.metrics.RecordStage(ctx, observe.StageTranscribe, o.transcriberName, time.Since(began), err)
		finish(err)
	}()

	text, err = o.transcriber.Transcribe(ctx, stt.NewClip(audio))
	if err != nil {
		return "", fmt.Errorf("orchestrator: transcribe: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("orchestrator: transcribe: %w", stt.ErrEmptyTranscript)
	}
	return text, nil
}

// appendExchange records the user turn and the assistant turn together.
func (o *Orchestrator) appendExchange(ctx context.Context, question string, analysis json.RawMessage, emotion string, segs []types.SpokenSegment) {
	o.log.Append(
		types.Turn{Kind: types.TurnUser, Text: question, Analysis: analysis, Emotion: emotion},
		types.Turn{Kind: types.TurnAssistant, Segments: segs},
	)
	o.metrics.RecordTurns(ctx, string(types.TurnUser), 1)
	o.metrics.RecordTurns(ctx, string(types.TurnAssistant), 1)
}

func (o *Orchestrator) recordReply(ctx context.Context, source string, start time.Time) {
	o.metrics.ReplyDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("source", source)))
}

var errNoResponder = errors.New("orchestrator: no responder configured")

// degradeReason classifies a Responder failure for logs and metrics.
func degradeReason(err error) string {
	switch {
	case errors.Is(err, errNoResponder):
		return "no_responder"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, responder.ErrMalformedReply):
		return "malformed"
	}
	return "error"
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
