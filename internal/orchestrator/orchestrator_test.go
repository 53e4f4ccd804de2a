package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/talkinghead/internal/assemble"
	"github.com/MrWong99/talkinghead/internal/history"
	"github.com/MrWong99/talkinghead/internal/observe"
	"github.com/MrWong99/talkinghead/internal/resilience"
	lipsyncmock "github.com/MrWong99/talkinghead/pkg/provider/lipsync/mock"
	"github.com/MrWong99/talkinghead/pkg/provider/stt"
	sttmock "github.com/MrWong99/talkinghead/pkg/provider/stt/mock"
	"github.com/MrWong99/talkinghead/pkg/provider/tts"
	ttsmock "github.com/MrWong99/talkinghead/pkg/provider/tts/mock"
	"github.com/MrWong99/talkinghead/pkg/types"
)

// ─── test doubles ────────────────────────────────────────────────────────────

type stubCatalog struct {
	trigger string
	segs    []types.SpokenSegment
}

func (c *stubCatalog) Match(message string) (string, []types.SpokenSegment, bool) {
	if message == c.trigger {
		return "stub", types.CloneSegments(c.segs), true
	}
	return "", nil, false
}

type stubResponder struct {
	mu     sync.Mutex
	calls  []string
	plan   types.ReplyPlan
	err    error
	delay  time.Duration
	delays map[string]time.Duration

	// PlanFunc, if set, builds the plan from the question instead of plan.
	PlanFunc func(question string) types.ReplyPlan
}

func (r *stubResponder) Respond(ctx context.Context, question, _ string) (types.ReplyPlan, error) {
	r.mu.Lock()
	r.calls = append(r.calls, question)
	plan, err, delay := r.plan, r.err, r.delay
	if d, ok := r.delays[question]; ok {
		delay = d
	}
	if r.PlanFunc != nil {
		plan = r.PlanFunc(question)
	}
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return types.ReplyPlan{}, ctx.Err()
		}
	}
	return plan, err
}

func (r *stubResponder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fixture struct {
	orch  *Orchestrator
	log   *history.Log
	resp  *stubResponder
	synth *ttsmock.Provider
	stt   *sttmock.Provider
}

var cannedSegs = []types.SpokenSegment{
	{Text: "Hi!", Audio: []byte("canned-wav"), Timing: json.RawMessage(`{"c":1}`), Emotion: "smile"},
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &fixture{
		log: history.New(),
		resp: &stubResponder{plan: types.ReplyPlan{
			Segments: []types.ReplySegment{{Text: "one", Emotion: "smile"}, {Text: "two"}, {Text: "three"}},
			Analysis: json.RawMessage(`{"intent":"greeting"}`),
		}},
		synth: &ttsmock.Provider{SynthesizeFunc: func(text string, _ tts.VoiceProfile) ([]byte, error) {
			return []byte("wav:" + text), nil
		}},
		stt: &sttmock.Provider{Text: "what is your name?"},
	}
	asm := assemble.New(f.synth, &lipsyncmock.Provider{}, assemble.WithMetrics(m))
	base := []Option{WithMetrics(m), WithTranscriber(f.stt, "mock")}
	f.orch = New(&stubCatalog{trigger: "", segs: cannedSegs}, f.resp, asm, f.log, append(base, opts...)...)
	return f
}

func texts(segs []types.SpokenSegment) string {
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.Text
	}
	return strings.Join(out, "|")
}

// ─── HandleText ──────────────────────────────────────────────────────────────

func TestHandleText_CannedHitSkipsResponder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	reply, err := f.orch.HandleText(context.Background(), TextRequest{Message: ""})
	if err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if !reply.Canned {
		t.Error("Canned = false, want true")
	}
	if reply.Analysis != nil {
		t.Errorf("Analysis = %s, want nil", reply.Analysis)
	}
	if string(reply.Segments[0].Audio) != "canned-wav" {
		t.Errorf("segments = %+v", reply.Segments)
	}
	if n := len(f.resp.Calls()); n != 0 {
		t.Errorf("responder calls = %d, want 0", n)
	}
	if n := len(f.synth.Calls()); n != 0 {
		t.Errorf("synthesizer calls = %d, want 0", n)
	}
	if f.log.Len() != 0 {
		t.Errorf("log length = %d, want 0", f.log.Len())
	}
}

func TestHandleText_CannedHitLoggedWhenEnabled(t *testing.T) {
	t.Parallel()
	f := newFixture(t, WithLogCannedHits(true))

	if _, err := f.orch.HandleText(context.Background(), TextRequest{Emotion: "happy"}); err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	turns := f.log.Snapshot()
	if len(turns) != 2 {
		t.Fatalf("log length = %d, want 2", len(turns))
	}
	if turns[0].Kind != types.TurnUser || turns[0].Emotion != "happy" || turns[0].Analysis != nil {
		t.Errorf("user turn = %+v", turns[0])
	}
	if turns[1].Kind != types.TurnAssistant || texts(turns[1].Segments) != "Hi!" {
		t.Errorf("assistant turn = %+v", turns[1])
	}
}

func TestHandleText_ResponderPath(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	reply, err := f.orch.HandleText(context.Background(), TextRequest{Message: "hello", Emotion: "curious", VoiceID: "v1"})
	if err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if calls := f.resp.Calls(); len(calls) != 1 || calls[0] != "hello" {
		t.Fatalf("responder calls = %v, want exactly [hello]", calls)
	}
	if got := texts(reply.Segments); got != "one|two|three" {
		t.Errorf("segments = %s, want one|two|three", got)
	}
	if reply.Canned || reply.Degraded {
		t.Errorf("Canned=%v Degraded=%v, want false/false", reply.Canned, reply.Degraded)
	}
	if string(reply.Analysis) != `{"intent":"greeting"}` {
		t.Errorf("Analysis = %s", reply.Analysis)
	}

	turns := f.log.Snapshot()
	if len(turns) != 2 {
		t.Fatalf("log length = %d, want 2", len(turns))
	}
	user, asst := turns[0], turns[1]
	if user.Kind != types.TurnUser || user.Text != "hello" || user.Emotion != "curious" {
		t.Errorf("user turn = %+v", user)
	}
	if string(user.Analysis) != `{"intent":"greeting"}` {
		t.Errorf("user analysis = %s", user.Analysis)
	}
	if asst.Kind != types.TurnAssistant || texts(asst.Segments) != "one|two|three" {
		t.Errorf("assistant turn = %+v", asst)
	}
	for _, c := range f.synth.Calls() {
		if c.Voice.ID != "v1" {
			t.Errorf("voice = %q, want v1", c.Voice.ID)
		}
	}
}

func TestHandleText_DegradesOnResponderError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.resp.err = errors.New("llm down")

	reply, err := f.orch.HandleText(context.Background(), TextRequest{Message: "hello", VoiceID: "v"})
	if err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if !reply.Degraded {
		t.Error("Degraded = false, want true")
	}
	if reply.Analysis != nil {
		t.Errorf("Analysis = %s, want nil", reply.Analysis)
	}
	if got, want := texts(reply.Segments), DefaultFallback[0].Text; got != want {
		t.Errorf("segments = %q, want fallback %q", got, want)
	}
	if reply.Segments[0].Emotion != "sad" {
		t.Errorf("emotion = %q, want sad", reply.Segments[0].Emotion)
	}

	turns := f.log.Snapshot()
	if len(turns) != 2 || turns[0].Analysis != nil {
		t.Fatalf("turns = %+v, want user turn with nil analysis", turns)
	}
	if !strings.Contains(string(turns[1].Segments[0].Audio), "wav:I'm sorry") {
		t.Errorf("fallback was not voiced: %q", turns[1].Segments[0].Audio)
	}
}

func TestHandleText_CustomFallback(t *testing.T) {
	t.Parallel()
	f := newFixture(t, WithFallback([]types.ReplySegment{{Text: "Pardon?"}}))
	f.resp.err = errors.New("boom")

	reply, err := f.orch.HandleText(context.Background(), TextRequest{Message: "x", VoiceID: "v"})
	if err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if got := texts(reply.Segments); got != "Pardon?" {
		t.Errorf("segments = %q", got)
	}
}

func TestHandleText_ResponderTimeoutDegrades(t *testing.T) {
	t.Parallel()
	f := newFixture(t, WithTimeouts(0, 20*time.Millisecond))
	f.resp.delay = time.Second

	start := time.Now()
	reply, err := f.orch.HandleText(context.Background(), TextRequest{Message: "slow", VoiceID: "v"})
	if err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if !reply.Degraded {
		t.Error("Degraded = false, want true")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("responder timeout was not enforced")
	}
}

func TestHandleText_BreakerOpenSkipsResponder(t *testing.T) {
	t.Parallel()
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name: "responder", MaxFailures: 1, ResetTimeout: time.Hour,
	})
	f := newFixture(t, WithBreaker(cb))
	f.resp.err = errors.New("boom")

	for range 3 {
		reply, err := f.orch.HandleText(context.Background(), TextRequest{Message: "q", VoiceID: "v"})
		if err != nil {
			t.Fatalf("HandleText: %v", err)
		}
		if !reply.Degraded {
			t.Error("Degraded = false, want true")
		}
	}
	if n := len(f.resp.Calls()); n != 1 {
		t.Errorf("responder calls = %d, want 1 (breaker should open after first failure)", n)
	}
	if cb.State() != resilience.StateOpen {
		t.Errorf("breaker state = %v, want open", cb.State())
	}
}

func TestHandleText_NilResponderDegrades(t *testing.T) {
	t.Parallel()
	log := history.New()
	asm := assemble.New(&ttsmock.Provider{SynthesizeResult: []byte("wav")}, &lipsyncmock.Provider{})
	o := New(nil, nil, asm, log)

	reply, err := o.HandleText(context.Background(), TextRequest{Message: "q", VoiceID: "v"})
	if err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if !reply.Degraded || reply.Canned {
		t.Errorf("reply = %+v, want degraded", reply)
	}
}

func TestHandleText_AssemblyFailureLogsNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	boom := errors.New("tts down")
	f.synth.SynthesizeFunc = func(string, tts.VoiceProfile) ([]byte, error) { return nil, boom }

	_, err := f.orch.HandleText(context.Background(), TextRequest{Message: "hello", VoiceID: "v"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if f.log.Len() != 0 {
		t.Errorf("log length = %d, want 0", f.log.Len())
	}
}

func TestHandleText_NoVoice(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if _, err := f.orch.HandleText(context.Background(), TextRequest{Message: "hello"}); !errors.Is(err, ErrNoVoice) {
		t.Fatalf("err = %v, want ErrNoVoice", err)
	}
	if n := len(f.resp.Calls()); n != 0 {
		t.Errorf("responder calls = %d, want 0", n)
	}
	// A canned hit needs no voice.
	if _, err := f.orch.HandleText(context.Background(), TextRequest{}); err != nil {
		t.Errorf("canned hit without voice: %v", err)
	}
}

func TestHandleText_NoBreakerCallsResponderEveryTime(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.resp.err = errors.New("boom")

	for range 7 {
		reply, err := f.orch.HandleText(context.Background(), TextRequest{Message: "q", VoiceID: "v"})
		if err != nil {
			t.Fatalf("HandleText: %v", err)
		}
		if !reply.Degraded {
			t.Error("Degraded = false, want true")
		}
	}
	if n := len(f.resp.Calls()); n != 7 {
		t.Errorf("responder calls = %d, want 7", n)
	}
	if n := f.log.Len(); n != 14 {
		t.Errorf("log length = %d, want 14", n)
	}
}

func TestHandleText_ConcurrentRequestsProduceFourTurns(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.resp.delays = map[string]time.Duration{
		"first":  200 * time.Millisecond,
		"second": 10 * time.Millisecond,
	}
	f.resp.PlanFunc = func(q string) types.ReplyPlan {
		return types.ReplyPlan{Segments: []types.ReplySegment{{Text: "re: " + q}}}
	}

	var wg sync.WaitGroup
	for _, q := range []string{"first", "second"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.orch.HandleText(context.Background(), TextRequest{Message: q, VoiceID: "v"}); err != nil {
				t.Errorf("HandleText(%q): %v", q, err)
			}
		}()
	}
	wg.Wait()

	turns := f.log.Snapshot()
	if len(turns) != 4 {
		t.Fatalf("log length = %d, want 4", len(turns))
	}
	for i := 0; i < 4; i += 2 {
		user, assistant := turns[i], turns[i+1]
		if user.Kind != types.TurnUser || assistant.Kind != types.TurnAssistant {
			t.Errorf("turns[%d..%d] = %s,%s; want user,assistant", i, i+1, user.Kind, assistant.Kind)
			continue
		}
		if got, want := texts(assistant.Segments), "re: "+user.Text; got != want {
			t.Errorf("turns[%d] answers %q, want %q", i+1, got, want)
		}
	}
	// The faster Responder finishes first and is logged first.
	if turns[0].Text != "second" || turns[2].Text != "first" {
		t.Errorf("log order = %q, %q; want second, first", turns[0].Text, turns[2].Text)
	}
}

// ─── HandleAudio ─────────────────────────────────────────────────────────────

func TestHandleAudio_TranscribesThenResponds(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	reply, err := f.orch.HandleAudio(context.Background(), AudioRequest{Audio: []byte("RIFF....WAVE"), Emotion: "calm", VoiceID: "v"})
	if err != nil {
		t.Fatalf("HandleAudio: %v", err)
	}
	if reply.Transcript != "what is your name?" {
		t.Errorf("Transcript = %q", reply.Transcript)
	}
	if calls := f.resp.Calls(); len(calls) != 1 || calls[0] != "what is your name?" {
		t.Errorf("responder calls = %v", calls)
	}
	turns := f.log.Snapshot()
	if len(turns) != 2 || turns[0].Text != "what is your name?" || turns[0].Emotion != "calm" {
		t.Errorf("turns = %+v", turns)
	}
	if got := f.stt.Calls(); len(got) != 1 || string(got[0].Clip.Data) != "RIFF....WAVE" {
		t.Errorf("transcriber calls = %+v", got)
	}
}

func TestHandleAudio_SkipsCatalog(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	// The stub catalogue matches the blank message; make the transcript match
	// a trigger to prove the catalogue is not consulted.
	f.orch.catalog = &stubCatalog{trigger: "what is your name?", segs: cannedSegs}

	reply, err := f.orch.HandleAudio(context.Background(), AudioRequest{Audio: []byte("x"), VoiceID: "v"})
	if err != nil {
		t.Fatalf("HandleAudio: %v", err)
	}
	if reply.Canned {
		t.Error("audio path hit the catalogue")
	}
}

func TestHandleAudio_Failures(t *testing.T) {
	t.Parallel()
	boom := errors.New("stt down")

	tests := []struct {
		name    string
		req     AudioRequest
		setup   func(*fixture)
		wantErr error
	}{
		{name: "no audio", req: AudioRequest{VoiceID: "v"}, wantErr: ErrNoAudio},
		{name: "no voice", req: AudioRequest{Audio: []byte("x")}, wantErr: ErrNoVoice},
		{
			name:    "transcriber error",
			req:     AudioRequest{Audio: []byte("x"), VoiceID: "v"},
			setup:   func(f *fixture) { f.stt.Err = boom },
			wantErr: boom,
		},
		{
			name:    "empty transcript",
			req:     AudioRequest{Audio: []byte("x"), VoiceID: "v"},
			setup:   func(f *fixture) { f.stt.Text = "   " },
			wantErr: stt.ErrEmptyTranscript,
		},
		{
			name:    "no transcriber",
			req:     AudioRequest{Audio: []byte("x"), VoiceID: "v"},
			setup:   func(f *fixture) { f.orch.transcriber = nil },
			wantErr: ErrNoTranscriber,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.orch.HandleAudio(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if n := len(f.resp.Calls()); n != 0 {
				t.Errorf("responder calls = %d, want 0", n)
			}
			if f.log.Len() != 0 {
				t.Errorf("log length = %d, want 0", f.log.Len())
			}
		})
	}
}

func TestHandleAudio_TranscribeTimeout(t *testing.T) {
	t.Parallel()
	f := newFixture(t, WithTimeouts(20*time.Millisecond, 0))
	f.stt.Delay = time.Second

	_, err := f.orch.HandleAudio(context.Background(), AudioRequest{Audio: []byte("x"), VoiceID: "v"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func TestOutcome(t *testing.T) {
	t.Parallel()
	plan := types.ReplyPlan{Segments: []types.ReplySegment{{Text: "a"}}}
	ok := Ok(plan)
	if !ok.IsOk() || ok.Reason() != nil || len(ok.Plan().Segments) != 1 {
		t.Errorf("Ok outcome = %+v", ok)
	}
	boom := errors.New("boom")
	bad := Err(boom)
	if bad.IsOk() || !errors.Is(bad.Reason(), boom) || len(bad.Plan().Segments) != 0 {
		t.Errorf("Err outcome = %+v", bad)
	}
}

func TestDegradeReason(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want string
	}{
		{resilience.ErrCircuitOpen, "breaker_open"},
		{context.DeadlineExceeded, "timeout"},
		{errNoResponder, "no_responder"},
		{errors.New("x"), "error"},
	}
	for _, tt := range tests {
		if got := degradeReason(tt.err); got != tt.want {
			t.Errorf("degradeReason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
