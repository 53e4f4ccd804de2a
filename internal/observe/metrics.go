// Package observe provides application-wide observability primitives for the
// talking-head server: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/talkinghead"

// Stage names used as the "stage" attribute and in span names.
const (
	StageTranscribe = "transcribe"
	StageRespond    = "respond"
	StageSynthesize = "synthesize"
	StageAnimate    = "animate"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscribeDuration tracks speech-to-text latency per clip.
	TranscribeDuration metric.Float64Histogram

	// RespondDuration tracks Responder (LLM) latency per question.
	RespondDuration metric.Float64Histogram

	// SynthesizeDuration tracks text-to-speech latency per segment.
	SynthesizeDuration metric.Float64Histogram

	// AnimateDuration tracks lip-sync latency per segment.
	AnimateDuration metric.Float64Histogram

	// ReplyDuration tracks end-to-end latency of one conversational turn.
	// Use with attribute.String("source", "canned"|"responder"|"fallback").
	ReplyDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// CannedHits counts questions answered from the canned catalogue. Use
	// with attribute.String("entry", ...).
	CannedHits metric.Int64Counter

	// ResponderDegraded counts fallback replies. Use with
	// attribute.String("reason", ...).
	ResponderDegraded metric.Int64Counter

	// HistoryTurns counts turns appended to the conversation log. Use with
	// attribute.String("kind", "user"|"assistant").
	HistoryTurns metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attribute.String("name", ...), attribute.String("to", ...).
	BreakerTransitions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Full
// replies with several synthesised segments routinely take many seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.TranscribeDuration, "talkinghead.transcribe.duration", "Latency of speech-to-text transcription."},
		{&met.RespondDuration, "talkinghead.respond.duration", "Latency of Responder inference."},
		{&met.SynthesizeDuration, "talkinghead.synthesize.duration", "Latency of text-to-speech synthesis per segment."},
		{&met.AnimateDuration, "talkinghead.animate.duration", "Latency of lip-sync generation per segment."},
		{&met.ReplyDuration, "talkinghead.reply.duration", "End-to-end latency of one conversational turn."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "talkinghead.provider.requests", "Total provider API requests by provider, kind, and status."},
		{&met.ProviderErrors, "talkinghead.provider.errors", "Total provider errors by provider and kind."},
		{&met.CannedHits, "talkinghead.canned.hits", "Questions answered from the canned catalogue."},
		{&met.ResponderDegraded, "talkinghead.responder.degraded", "Replies served from the fallback plan."},
		{&met.HistoryTurns, "talkinghead.history.turns", "Turns appended to the conversation log."},
		{&met.BreakerTransitions, "talkinghead.breaker.transitions", "Circuit breaker state changes."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("talkinghead.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path, and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// StageHistogram returns the latency histogram for a pipeline stage, or nil
// for an unknown stage.
func (m *Metrics) StageHistogram(stage string) metric.Float64Histogram {
	switch stage {
	case StageTranscribe:
		return m.TranscribeDuration
	case StageRespond:
		return m.RespondDuration
	case StageSynthesize:
		return m.SynthesizeDuration
	case StageAnimate:
		return m.AnimateDuration
	}
	return nil
}

// RecordStage records one provider call for a pipeline stage: its latency,
// a request counter increment, and an error counter increment when err is
// non-nil.
func (m *Metrics) RecordStage(ctx context.Context, stage, provider string, elapsed time.Duration, err error) {
	if h := m.StageHistogram(stage); h != nil {
		h.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("provider", provider)))
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, stage)
	}
	m.RecordProviderRequest(ctx, provider, stage, status)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordCannedHit records a canned catalogue hit.
func (m *Metrics) RecordCannedHit(ctx context.Context, entry string) {
	m.CannedHits.Add(ctx, 1, metric.WithAttributes(attribute.String("entry", entry)))
}

// RecordDegraded records a fallback reply.
func (m *Metrics) RecordDegraded(ctx context.Context, reason string) {
	m.ResponderDegraded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTurns records appended conversation turns by kind.
func (m *Metrics) RecordTurns(ctx context.Context, kind string, n int) {
	m.HistoryTurns.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("name", name),
			attribute.String("to", to),
		),
	)
}
