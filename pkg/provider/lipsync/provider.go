// Package lipsync defines the Provider interface for mouth-cue generators.
//
// An Animator turns a synthesised WAV file (and, optionally, the text that was
// spoken) into a Rhubarb-compatible timing document:
//
//	{"metadata":{"duration":1.23},"mouthCues":[{"start":0,"end":0.1,"value":"X"}, ...]}
//
// The document is returned as raw JSON and forwarded to clients untouched.
//
// Implementations must be safe for concurrent use.
package lipsync

import (
	"context"
	"encoding/json"
)

// Shapes are the Rhubarb mouth shapes. A–F are the basic shapes, G–H the
// extended ones, and X is the idle position.
const (
	ShapeA = "A" // closed mouth: M, B, P
	ShapeB = "B" // slightly open, clenched teeth: most consonants, EE
	ShapeC = "C" // open: EH, AE
	ShapeD = "D" // wide open: AA
	ShapeE = "E" // slightly rounded: AO, ER
	ShapeF = "F" // puckered: UW, OW, W
	ShapeG = "G" // upper teeth on lower lip: F, V
	ShapeH = "H" // tongue raised: long L
	ShapeX = "X" // idle
)

// MouthCue is one entry in a timing document.
type MouthCue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Value string  `json:"value"`
}

// Metadata carries document-level information.
type Metadata struct {
	SoundFile string  `json:"soundFile,omitempty"`
	Duration  float64 `json:"duration"`
}

// Document is the Rhubarb JSON export format.
type Document struct {
	Metadata  Metadata   `json:"metadata"`
	MouthCues []MouthCue `json:"mouthCues"`
}

// Provider is the abstraction over any Animator.
type Provider interface {
	// Animate returns mouth cues for the WAV file. text is the transcript of
	// the audio and may be used as a recognition hint; it may be empty.
	Animate(ctx context.Context, wav []byte, text string) (json.RawMessage, error)
}
