// Package types defines the shared domain types used across talkinghead packages.
//
// These types form the lingua franca between the provider adapters, the reply
// assembler, the orchestrator and the HTTP boundary. Each package keeps its own
// internal types; only cross-cutting data structures live here to avoid
// circular imports.
package types

import (
	"bytes"
	"encoding/json"
	"slices"
	"time"
)

// SpokenSegment is one animatable utterance unit: the words, the synthesized
// audio, and the viseme timing a front end needs to move the avatar's mouth in
// sync with playback.
//
// Audio and Timing are either both set or both empty. A segment produced by the
// assembler is never half-built.
type SpokenSegment struct {
	// Text is the words spoken in this segment.
	Text string

	// Audio is the encoded audio payload (WAV for synthesized segments, whatever
	// the asset file holds for canned ones).
	Audio []byte

	// Timing is the viseme/phoneme timing data produced by the lip-sync
	// provider. It is opaque to everything except the front end.
	Timing json.RawMessage

	// Emotion is an optional expression tag such as "smile" or "sad".
	Emotion string
}

// Complete reports whether both audio and timing are present.
func (s SpokenSegment) Complete() bool {
	return len(s.Audio) > 0 && len(s.Timing) > 0
}

// Clone returns a deep copy of s. Mutating the returned segment's byte slices
// does not affect s.
func (s SpokenSegment) Clone() SpokenSegment {
	return SpokenSegment{
		Text:    s.Text,
		Audio:   bytes.Clone(s.Audio),
		Timing:  bytes.Clone(s.Timing),
		Emotion: s.Emotion,
	}
}

// CloneSegments deep-copies a slice of segments. A nil input yields nil.
func CloneSegments(in []SpokenSegment) []SpokenSegment {
	if in == nil {
		return nil
	}
	out := make([]SpokenSegment, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}

// ReplySegment is one expressive piece of a reply before it has been voiced.
type ReplySegment struct {
	Text    string `json:"text" yaml:"text"`
	Emotion string `json:"emotion,omitempty" yaml:"emotion"`
}

// ReplyPlan is the responder's output before assembly: an ordered list of
// segments plus optional analysis metadata that is passed through to the
// caller unmodified.
type ReplyPlan struct {
	Segments []ReplySegment

	// Analysis is opaque sentiment/intent metadata. Nil means null.
	Analysis json.RawMessage
}

// Texts returns the text of every segment in order.
func (p ReplyPlan) Texts() []string {
	out := make([]string, len(p.Segments))
	for i, s := range p.Segments {
		out[i] = s.Text
	}
	return out
}

// TurnKind distinguishes user turns from assistant turns in the conversation log.
type TurnKind string

const (
	TurnUser      TurnKind = "user"
	TurnAssistant TurnKind = "assistant"
)

// Turn is one entry in the conversation log.
type Turn struct {
	// ID uniquely identifies the turn. Assigned on append when empty.
	ID string

	// Kind is TurnUser or TurnAssistant.
	Kind TurnKind

	// Text is the user's message. Empty for assistant turns.
	Text string

	// Segments holds the assembled reply. Empty for user turns.
	Segments []SpokenSegment

	// Analysis is the responder's analysis for a user turn; nil means null.
	Analysis json.RawMessage

	// Emotion is the emotion the user reported alongside the message.
	Emotion string

	// At is the time the turn was appended.
	At time.Time
}

// Clone returns a deep copy of t.
func (t Turn) Clone() Turn {
	c := t
	c.Segments = CloneSegments(t.Segments)
	c.Analysis = bytes.Clone(t.Analysis)
	return c
}

// CloneTurns deep-copies a slice of turns.
func CloneTurns(in []Turn) []Turn {
	out := slices.Clone(in)
	for i := range out {
		out[i] = in[i].Clone()
	}
	return out
}
