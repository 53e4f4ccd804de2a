// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription service (the OpenAI audio API, a
// local whisper.cpp server, Deepgram's pre-recorded endpoint) and turns one
// complete audio clip into text. Requests are fully buffered; there is no
// streaming session.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/talkinghead/pkg/audio"
)

// ErrEmptyTranscript is returned when the backend recognised no speech.
var ErrEmptyTranscript = errors.New("stt: empty transcript")

// Clip is one uploaded audio recording.
type Clip struct {
	// Data is the encoded audio file (WAV, WebM, MP3, ...).
	Data []byte

	// Container describes Data's format. Use [NewClip] to sniff it.
	Container audio.Container

	// Language is an optional BCP-47 hint such as "en". Empty lets the
	// provider detect the language or use its configured default.
	Language string
}

// NewClip wraps data and sniffs its container format.
func NewClip(data []byte) Clip {
	return Clip{Data: data, Container: audio.Sniff(data)}
}

// Filename returns a synthetic filename with the right extension. Multipart
// APIs use the extension to pick a decoder.
func (c Clip) Filename() string {
	ext := c.Container.Ext
	if ext == "" {
		ext = ".wav"
	}
	return "audio" + ext
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe returns the text spoken in clip. Implementations return
	// [ErrEmptyTranscript] (possibly wrapped) when no speech was recognised
	// and must return promptly when ctx is cancelled.
	Transcribe(ctx context.Context, clip Clip) (string, error)
}
