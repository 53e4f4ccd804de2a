// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or a local
// Coqui server) and turns one segment of reply text into a complete WAV file.
// The WAV form is what the lip-sync stage consumes and what the browser client
// plays back, so providers that stream raw PCM buffer it and add a header.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrNoAudio is returned when a backend finished without producing audio.
var ErrNoAudio = errors.New("tts: no audio produced")

// Provider is the abstraction over any TTS backend.
//
// Multiple synthesis requests may run in parallel, one per reply segment.
type Provider interface {
	// Synthesize renders text with the given voice and returns a RIFF/WAVE
	// encoded file. Providers return an error if voice.ID is empty or unknown.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) ([]byte, error)

	// ListVoices returns all voice profiles available from this provider.
	//
	// Returns an error if the provider cannot be reached or if ctx is cancelled
	// before the list is retrieved.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
