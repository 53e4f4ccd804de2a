// Package estimate provides an Animator that needs no external tools. It reads
// the WAV duration and spreads mouth shapes derived from the spoken text
// evenly across it. The result is coarse but keeps an avatar's mouth moving
// when the rhubarb binary is not installed.
package estimate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"unicode"

	"github.com/MrWong99/talkinghead/pkg/audio"
	"github.com/MrWong99/talkinghead/pkg/provider/lipsync"
)

// Compile-time assertion that Provider implements lipsync.Provider.
var _ lipsync.Provider = (*Provider)(nil)

// Provider implements lipsync.Provider by letter-to-shape estimation.
type Provider struct{}

// New returns an estimating Animator.
func New() *Provider { return &Provider{} }

// Animate implements lipsync.Provider.
func (p *Provider) Animate(ctx context.Context, wav []byte, text string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(wav) == 0 {
		return nil, errors.New("estimate: empty audio")
	}
	info, err := audio.InspectWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("estimate: %w", err)
	}

	doc := lipsync.Document{
		Metadata:  lipsync.Metadata{Duration: round(info.Duration.Seconds())},
		MouthCues: Cues(text, info.Duration.Seconds()),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("estimate: marshal: %w", err)
	}
	return data, nil
}

// Cues spreads the shapes of text over duration seconds. Consecutive equal
// shapes are merged and the sequence always ends on the idle shape.
func Cues(text string, duration float64) []lipsync.MouthCue {
	type run struct {
		shape  string
		weight int
	}
	var runs []run
	for _, r := range text {
		s := shapeOf(r)
		if n := len(runs); n > 0 && runs[n-1].shape == s {
			runs[n-1].weight++
			continue
		}
		runs = append(runs, run{shape: s, weight: 1})
	}
	if n := len(runs); n == 0 || runs[n-1].shape != lipsync.ShapeX {
		runs = append(runs, run{shape: lipsync.ShapeX, weight: 1})
	}

	total := 0
	for _, r := range runs {
		total += r.weight
	}
	end := round(duration)

	cues := make([]lipsync.MouthCue, 0, len(runs))
	acc := 0
	start := 0.0
	for i, r := range runs {
		acc += r.weight
		stop := round(duration * float64(acc) / float64(total))
		if i == len(runs)-1 {
			stop = end
		}
		if stop <= start {
			continue
		}
		cues = append(cues, lipsync.MouthCue{Start: start, End: stop, Value: r.shape})
		start = stop
	}
	if len(cues) == 0 {
		cues = append(cues, lipsync.MouthCue{Start: 0, End: end, Value: lipsync.ShapeX})
	}
	return cues
}

// shapeOf maps a single rune to a Rhubarb mouth shape.
func shapeOf(r rune) string {
	if !unicode.IsLetter(r) {
		return lipsync.ShapeX
	}
	switch unicode.ToLower(r) {
	case 'm', 'b', 'p':
		return lipsync.ShapeA
	case 'a':
		return lipsync.ShapeD
	case 'e':
		return lipsync.ShapeC
	case 'i', 'y':
		return lipsync.ShapeB
	case 'o':
		return lipsync.ShapeE
	case 'u', 'w':
		return lipsync.ShapeF
	case 'f', 'v':
		return lipsync.ShapeG
	case 'l':
		return lipsync.ShapeH
	default:
		return lipsync.ShapeB
	}
}

// round truncates to the centisecond precision rhubarb emits.
func round(s float64) float64 {
	return math.Round(s*100) / 100
}
