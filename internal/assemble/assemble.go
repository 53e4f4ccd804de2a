// Package assemble turns a [types.ReplyPlan] into spoken, animated segments.
//
// Each plan segment is synthesised and then animated. Segments are processed
// concurrently up to a limit, but the result is always in plan order. The
// first failure cancels the remaining work and fails the whole assembly, so a
// caller never receives a partially voiced reply.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/talkinghead/internal/observe"
	"github.com/MrWong99/talkinghead/pkg/provider/lipsync"
	"github.com/MrWong99/talkinghead/pkg/provider/tts"
	"github.com/MrWong99/talkinghead/pkg/types"
)

// ErrEmptyPlan is returned when asked to assemble a plan with no segments.
var ErrEmptyPlan = errors.New("assemble: empty plan")

// Assembler voices reply plans. It is safe for concurrent use.
type Assembler struct {
	tts       tts.Provider
	lipsync   lipsync.Provider
	ttsName   string
	lipName   string
	limit     int
	synthDL   time.Duration
	animateDL time.Duration
	metrics   *observe.Metrics
}

// Option is a functional option for [New].
type Option func(*Assembler)

// WithConcurrency limits how many segments are processed at once. Values
// below 1 mean 1. Default: 3.
func WithConcurrency(n int) Option {
	return func(a *Assembler) { a.limit = max(n, 1) }
}

// WithTimeouts bounds each Synthesize and Animate call. Zero means no bound.
func WithTimeouts(synthesize, animate time.Duration) Option {
	return func(a *Assembler) {
		a.synthDL = synthesize
		a.animateDL = animate
	}
}

// WithProviderNames sets the provider labels used in metrics and spans.
func WithProviderNames(ttsName, lipsyncName string) Option {
	return func(a *Assembler) {
		a.ttsName = ttsName
		a.lipName = lipsyncName
	}
}

// WithMetrics records stage metrics to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assembler) { a.metrics = m }
}

// New returns an Assembler that synthesises with t and animates with l.
func New(t tts.Provider, l lipsync.Provider, opts ...Option) *Assembler {
	a := &Assembler{
		tts:     t,
		lipsync: l,
		ttsName: "tts",
		lipName: "lipsync",
		limit:   3,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// Assemble voices every segment of plan with voiceID. The result has one
// complete segment per plan segment, in plan order.
func (a *Assembler) Assemble(ctx context.Context, plan types.ReplyPlan, voiceID string) ([]types.SpokenSegment, error) {
	if len(plan.Segments) == 0 {
		return nil, ErrEmptyPlan
	}

	voice := tts.VoiceProfile{ID: voiceID, Provider: a.ttsName}
	out := make([]types.SpokenSegment, len(plan.Segments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.limit)
	for i, seg := range plan.Segments {
		g.Go(func() error {
			spoken, err := a.segment(gctx, seg, voice)
			if err != nil {
				return fmt.Errorf("assemble: segment %d: %w", i, err)
			}
			out[i] = spoken
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Assembler) segment(ctx context.Context, seg types.ReplySegment, voice tts.VoiceProfile) (types.SpokenSegment, error) {
	audio, err := a.synthesize(ctx, seg.Text, voice)
	if err != nil {
		return types.SpokenSegment{}, err
	}
	timing, err := a.animate(ctx, audio, seg.Text)
	if err != nil {
		return types.SpokenSegment{}, err
	}
	return types.SpokenSegment{
		Text:    seg.Text,
		Audio:   audio,
		Timing:  timing,
		Emotion: seg.Emotion,
	}, nil
}

func (a *Assembler) synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (audio []byte, err error) {
	ctx, cancel := withTimeout(ctx, a.synthDL)
	defer cancel()
	ctx, finish := observe.StartStage(ctx, observe.StageSynthesize, a.ttsName)
	start := time.Now()
	defer func() {
		a.metrics.RecordStage(ctx, observe.StageSynthesize, a.ttsName, time.Since(start), err)
		finish(err)
	}()

	audio, err = a.tts.Synthesize(ctx, text, voice)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("synthesize: %w", tts.ErrNoAudio)
	}
	return audio, nil
}

func (a *Assembler) animate(ctx context.Context, audio []byte, text string) (timing []byte, err error) {
	ctx, cancel := withTimeout(ctx, a.animateDL)
	defer cancel()
	ctx, finish := observe.StartStage(ctx, observe.StageAnimate, a.lipName)
	start := time.Now()
	defer func() {
		a.metrics.RecordStage(ctx, observe.StageAnimate, a.lipName, time.Since(start), err)
		finish(err)
	}()

	timing, err = a.lipsync.Animate(ctx, audio, text)
	if err != nil {
		return nil, fmt.Errorf("animate: %w", err)
	}
	if len(timing) == 0 {
		return nil, errors.New("animate: empty timing document")
	}
	return timing, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
