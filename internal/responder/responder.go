// Package responder turns a user question into a [types.ReplyPlan] using an
// LLM.
//
// The model is asked for a single JSON object:
//
//	{"messages":[{"text":"...","emotion":"smile"}, ...],"analysis":{...}}
//
// Replies are split into at most a few short segments so each can be voiced
// and animated on its own. The analysis object is passed through untouched.
package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/talkinghead/pkg/provider/llm"
	"github.com/MrWong99/talkinghead/pkg/types"
)

// ErrMalformedReply is returned when the model's output cannot be parsed
// into a reply plan.
var ErrMalformedReply = errors.New("responder: malformed reply")

// DefaultSystemPrompt describes the avatar's persona and the reply format.
const DefaultSystemPrompt = `You are a friendly virtual assistant embodied by a talking 3D avatar.
You always answer with a JSON object and nothing else, in this exact shape:
{"messages":[{"text":"...","emotion":"..."}],"analysis":{"sentiment":"...","intent":"...","summary":"..."}}

Rules:
- "messages" holds between 1 and %d short spoken segments. Each segment is one or two sentences.
- "emotion" is one of: default, smile, sad, angry, surprised, funnyFace, crazy.
- Pick the emotion that fits the segment and the user's mood.
- "analysis" describes the user's question: its sentiment, its intent and a one-line summary.
- Never use markdown, lists or emoji in the text; it is read aloud.`

// defaultMaxSegments caps the number of segments in one plan.
const defaultMaxSegments = 3

// Responder produces reply plans. It is safe for concurrent use.
type Responder struct {
	llm          llm.Provider
	systemPrompt string
	temperature  float64
	maxTokens    int
	maxSegments  int
}

// Option is a functional option for [New].
type Option func(*Responder)

// WithSystemPrompt replaces [DefaultSystemPrompt]. A "%d" verb, if present, is
// replaced by the segment limit.
func WithSystemPrompt(p string) Option {
	return func(r *Responder) {
		if p != "" {
			r.systemPrompt = p
		}
	}
}

// WithTemperature sets the sampling temperature. Zero uses the provider default.
func WithTemperature(t float64) Option {
	return func(r *Responder) { r.temperature = t }
}

// WithMaxTokens caps completion tokens. Zero uses the provider default. The
// cap never exceeds the model's MaxOutputTokens when the provider reports one.
func WithMaxTokens(n int) Option {
	return func(r *Responder) { r.maxTokens = n }
}

// WithMaxSegments caps the number of segments kept from a reply. Default: 3.
func WithMaxSegments(n int) Option {
	return func(r *Responder) {
		if n > 0 {
			r.maxSegments = n
		}
	}
}

// New returns a Responder backed by p.
func New(p llm.Provider, opts ...Option) *Responder {
	r := &Responder{
		llm:          p,
		systemPrompt: DefaultSystemPrompt,
		maxSegments:  defaultMaxSegments,
	}
	for _, o := range opts {
		o(r)
	}
	if limit := p.Capabilities().MaxOutputTokens; limit > 0 && r.maxTokens > limit {
		r.maxTokens = limit
	}
	return r
}

// Respond asks the model to answer question. emotion is the mood the user
// reported and may be empty. Any failure, including output that is not a
// usable plan, is returned as an error; the caller decides how to degrade.
func (r *Responder) Respond(ctx context.Context, question, emotion string) (types.ReplyPlan, error) {
	resp, err := r.llm.Complete(ctx, r.buildRequest(question, emotion))
	if err != nil {
		return types.ReplyPlan{}, fmt.Errorf("responder: complete: %w", err)
	}
	plan, err := parsePlan(resp.Content, r.maxSegments)
	if err != nil {
		return types.ReplyPlan{}, err
	}
	return plan, nil
}

func (r *Responder) buildRequest(question, emotion string) llm.CompletionRequest {
	system := r.systemPrompt
	if strings.Contains(system, "%d") {
		system = fmt.Sprintf(system, r.maxSegments)
	}

	var sb strings.Builder
	sb.WriteString("Question: ")
	sb.WriteString(question)
	if emotion != "" {
		sb.WriteString("\nThe user currently feels: ")
		sb.WriteString(emotion)
	}

	return llm.CompletionRequest{
		SystemPrompt:   system,
		Messages:       []llm.Message{{Role: "user", Content: sb.String()}},
		Temperature:    r.temperature,
		MaxTokens:      r.maxTokens,
		ResponseFormat: llm.FormatJSON,
	}
}

// wireReply is the JSON shape requested from the model. Some models answer
// with "facialExpression" instead of "emotion"; both are accepted.
type wireReply struct {
	Messages []struct {
		Text             string `json:"text"`
		Emotion          string `json:"emotion"`
		FacialExpression string `json:"facialExpression"`
	} `json:"messages"`
	Analysis json.RawMessage `json:"analysis"`
}

// parsePlan extracts a plan from raw model output. Code fences and text
// around the outermost JSON object are ignored. Blank segments are dropped
// and at most limit segments are kept.
func parsePlan(raw string, limit int) (types.ReplyPlan, error) {
	body := extractObject(raw)
	if body == "" {
		return types.ReplyPlan{}, fmt.Errorf("%w: no JSON object in output", ErrMalformedReply)
	}

	var w wireReply
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return types.ReplyPlan{}, fmt.Errorf("%w: %w", ErrMalformedReply, err)
	}

	var plan types.ReplyPlan
	for _, m := range w.Messages {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		emotion := m.Emotion
		if emotion == "" {
			emotion = m.FacialExpression
		}
		plan.Segments = append(plan.Segments, types.ReplySegment{Text: text, Emotion: emotion})
		if limit > 0 && len(plan.Segments) == limit {
			break
		}
	}
	if len(plan.Segments) == 0 {
		return types.ReplyPlan{}, fmt.Errorf("%w: no spoken segments", ErrMalformedReply)
	}

	if a := bytes.TrimSpace(w.Analysis); len(a) > 0 && !bytes.Equal(a, []byte("null")) {
		plan.Analysis = json.RawMessage(bytes.Clone(a))
	}
	return plan, nil
}

// extractObject returns the substring from the first '{' to the last '}',
// or "" when there is none.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
