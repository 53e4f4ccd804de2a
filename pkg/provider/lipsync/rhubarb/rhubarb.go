// Package rhubarb provides an Animator that shells out to the Rhubarb Lip
// Sync command-line tool (https://github.com/DanielSWolf/rhubarb-lip-sync).
//
// Each call works in its own temporary directory, so concurrent calls never
// share files.
package rhubarb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/talkinghead/pkg/provider/lipsync"
)

const (
	defaultBinary     = "rhubarb"
	defaultRecognizer = "phonetic"
	defaultShapes     = "GHX"
)

// Compile-time assertion that Provider implements lipsync.Provider.
var _ lipsync.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBinary sets the path of the rhubarb executable. Defaults to "rhubarb"
// resolved through PATH.
func WithBinary(path string) Option {
	return func(p *Provider) {
		p.binary = path
	}
}

// WithRecognizer selects the recognizer: "phonetic" (language independent,
// fast) or "pocketSphinx" (English only, slower, more accurate).
func WithRecognizer(name string) Option {
	return func(p *Provider) {
		p.recognizer = name
	}
}

// WithExtendedShapes sets which of the extended shapes G, H and X rhubarb may
// emit. An empty string restricts output to the basic shapes A–F.
func WithExtendedShapes(shapes string) Option {
	return func(p *Provider) {
		p.extendedShapes = shapes
	}
}

// Provider implements lipsync.Provider by invoking the rhubarb binary.
type Provider struct {
	binary         string
	recognizer     string
	extendedShapes string
}

// New creates a Provider. It does not check that the binary exists; use
// [Provider.Check] at startup for that.
func New(opts ...Option) *Provider {
	p := &Provider{
		binary:         defaultBinary,
		recognizer:     defaultRecognizer,
		extendedShapes: defaultShapes,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Check reports whether the configured binary can be found.
func (p *Provider) Check() error {
	if _, err := exec.LookPath(p.binary); err != nil {
		return fmt.Errorf("rhubarb: %w", err)
	}
	return nil
}

// Animate implements lipsync.Provider.
func (p *Provider) Animate(ctx context.Context, wav []byte, text string) (json.RawMessage, error) {
	if len(wav) == 0 {
		return nil, errors.New("rhubarb: empty audio")
	}

	dir, err := os.MkdirTemp("", "rhubarb-*")
	if err != nil {
		return nil, fmt.Errorf("rhubarb: create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.wav")
	out := filepath.Join(dir, "out.json")
	if err := os.WriteFile(in, wav, 0o600); err != nil {
		return nil, fmt.Errorf("rhubarb: write audio: %w", err)
	}

	args := []string{"-q", "-f", "json", "-o", out, "-r", p.recognizer, "--extendedShapes", p.extendedShapes}
	if strings.TrimSpace(text) != "" {
		dialog := filepath.Join(dir, "dialog.txt")
		if err := os.WriteFile(dialog, []byte(text), 0o600); err != nil {
			return nil, fmt.Errorf("rhubarb: write dialog: %w", err)
		}
		args = append(args, "-d", dialog)
	}
	args = append(args, in)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("rhubarb: %w", ctxErr)
		}
		return nil, fmt.Errorf("rhubarb: run: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("rhubarb: read output: %w", err)
	}
	var doc lipsync.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("rhubarb: parse output: %w", err)
	}
	return json.RawMessage(data), nil
}
