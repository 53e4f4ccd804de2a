// Package mock provides a test double for the lipsync.Provider interface.
package mock

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/MrWong99/talkinghead/pkg/provider/lipsync"
)

// AnimateCall records a single invocation of Provider.Animate.
type AnimateCall struct {
	// WAV is a copy of the audio passed to Animate.
	WAV []byte
	// Text is the transcript passed to Animate.
	Text string
}

// Provider is a mock implementation of lipsync.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned from Animate when AnimateFunc is nil. When Result is
	// also nil a single idle cue is returned.
	Result json.RawMessage

	// Err, if non-nil, is returned as the error from Animate.
	Err error

	// AnimateFunc, if set, computes the result per call and takes precedence
	// over Result and Err.
	AnimateFunc func(wav []byte, text string) (json.RawMessage, error)

	// Delay, if positive, makes Animate wait before returning. The wait is
	// cut short when the context is cancelled.
	Delay time.Duration

	// AnimateCalls records every call to Animate in order.
	AnimateCalls []AnimateCall
}

// Animate records the call and returns the configured result.
func (p *Provider) Animate(ctx context.Context, wav []byte, text string) (json.RawMessage, error) {
	p.mu.Lock()
	p.AnimateCalls = append(p.AnimateCalls, AnimateCall{WAV: append([]byte(nil), wav...), Text: text})
	fn, result, err, delay := p.AnimateFunc, p.Result, p.Err, p.Delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fn != nil {
		return fn(wav, text)
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return json.RawMessage(`{"metadata":{"duration":0},"mouthCues":[{"start":0,"end":0,"value":"X"}]}`), nil
	}
	return append(json.RawMessage(nil), result...), nil
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (p *Provider) Calls() []AnimateCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]AnimateCall(nil), p.AnimateCalls...)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AnimateCalls = nil
}

// Ensure Provider implements lipsync.Provider at compile time.
var _ lipsync.Provider = (*Provider)(nil)
