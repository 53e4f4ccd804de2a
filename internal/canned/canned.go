// Package canned serves pre-recorded replies.
//
// A [Catalog] maps trigger phrases to fully built segments whose audio and
// mouth-cue timing were recorded ahead of time. Every asset is read from disk
// once in [Load]; lookups never touch the filesystem.
//
// An asset id "intro_0" resolves to the pair <dir>/intro_0.wav (audio) and
// <dir>/intro_0.json (timing).
package canned

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/talkinghead/pkg/types"
)

// ErrAssetMissing is returned by [Load] when a referenced audio or timing file
// does not exist.
var ErrAssetMissing = errors.New("canned: asset missing")

// Policy selects how an incoming message is compared to triggers.
type Policy string

const (
	// PolicyEmpty matches only a blank message against an empty trigger.
	PolicyEmpty Policy = "empty"

	// PolicyExact matches when the normalised message equals the trigger.
	PolicyExact Policy = "exact"

	// PolicyContains matches when the normalised message contains the trigger.
	PolicyContains Policy = "contains"

	// PolicyFuzzy matches on Jaro-Winkler similarity at or above a threshold.
	PolicyFuzzy Policy = "fuzzy"
)

// IsValid reports whether p is a recognised policy.
func (p Policy) IsValid() bool {
	switch p {
	case PolicyEmpty, PolicyExact, PolicyContains, PolicyFuzzy:
		return true
	}
	return false
}

// EntrySpec declares one catalogue entry.
type EntrySpec struct {
	Name     string        `yaml:"name"`
	Triggers []string      `yaml:"triggers"`
	Segments []SegmentSpec `yaml:"segments"`
}

// SegmentSpec names an asset pair and the words spoken in it.
type SegmentSpec struct {
	Asset   string `yaml:"asset"`
	Text    string `yaml:"text"`
	Emotion string `yaml:"emotion"`
}

type entry struct {
	name     string
	triggers []string // normalised
	segments []types.SpokenSegment
}

// Catalog is an immutable set of canned replies. It is safe for concurrent use.
type Catalog struct {
	policy    Policy
	threshold float64
	entries   []entry
}

// Option configures [Load].
type Option func(*Catalog)

// WithFuzzyThreshold sets the minimum similarity for [PolicyFuzzy].
// Default: 0.9.
func WithFuzzyThreshold(t float64) Option {
	return func(c *Catalog) { c.threshold = t }
}

// Load reads every asset referenced by entries from dir and returns the
// catalogue. A missing asset yields an error wrapping [ErrAssetMissing]; an
// unreadable file or a timing file that is not valid JSON is also an error.
// Audio files without a timing file (and the reverse) are logged as warnings.
func Load(dir string, entries []EntrySpec, policy Policy, opts ...Option) (*Catalog, error) {
	if policy == "" {
		policy = PolicyEmpty
	}
	if !policy.IsValid() {
		return nil, fmt.Errorf("canned: unknown policy %q", policy)
	}
	c := &Catalog{policy: policy, threshold: 0.9}
	for _, o := range opts {
		o(c)
	}

	type asset struct {
		audio  []byte
		timing json.RawMessage
	}
	cache := make(map[string]asset)

	var errs []error
	for _, def := range entries {
		e := entry{name: def.Name}
		for _, t := range def.Triggers {
			e.triggers = append(e.triggers, normalise(t))
		}
		for _, seg := range def.Segments {
			a, ok := cache[seg.Asset]
			if !ok {
				audio, timing, err := readAsset(dir, seg.Asset)
				if err != nil {
					errs = append(errs, fmt.Errorf("canned: entry %q: %w", def.Name, err))
					continue
				}
				a = asset{audio: audio, timing: timing}
				cache[seg.Asset] = a
			}
			e.segments = append(e.segments, types.SpokenSegment{
				Text:    seg.Text,
				Audio:   a.audio,
				Timing:  a.timing,
				Emotion: seg.Emotion,
			})
		}
		c.entries = append(c.entries, e)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	warnOrphans(dir)
	slog.Info("canned catalogue loaded",
		"dir", dir,
		"policy", string(policy),
		"entries", len(c.entries),
		"assets", len(cache))
	return c, nil
}

func readAsset(dir, id string) ([]byte, json.RawMessage, error) {
	audio, err := readFile(filepath.Join(dir, id+".wav"))
	if err != nil {
		return nil, nil, err
	}
	timing, err := readFile(filepath.Join(dir, id+".json"))
	if err != nil {
		return nil, nil, err
	}
	if !json.Valid(timing) {
		return nil, nil, fmt.Errorf("%s.json: invalid JSON", id)
	}
	return audio, json.RawMessage(timing), nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrAssetMissing, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// warnOrphans logs audio files that have no timing file and the reverse.
func warnOrphans(dir string) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	seen := make(map[string]map[string]bool)
	for _, de := range des {
		if de.IsDir() {
			continue
		}
		ext := filepath.Ext(de.Name())
		if ext != ".wav" && ext != ".json" {
			continue
		}
		base := strings.TrimSuffix(de.Name(), ext)
		if seen[base] == nil {
			seen[base] = make(map[string]bool, 2)
		}
		seen[base][ext] = true
	}

	bases := make([]string, 0, len(seen))
	for b := range seen {
		bases = append(bases, b)
	}
	sort.Strings(bases)
	for _, b := range bases {
		exts := seen[b]
		switch {
		case exts[".wav"] && !exts[".json"]:
			slog.Warn("canned audio has no timing file", "asset", b, "dir", dir)
		case exts[".json"] && !exts[".wav"]:
			slog.Warn("canned timing file has no audio", "asset", b, "dir", dir)
		}
	}
}

// Lookup returns a copy of the segments of the first entry matching message.
func (c *Catalog) Lookup(message string) ([]types.SpokenSegment, bool) {
	_, segs, ok := c.Match(message)
	return segs, ok
}

// Match is [Catalog.Lookup] that also reports the matched entry's name.
func (c *Catalog) Match(message string) (name string, segments []types.SpokenSegment, ok bool) {
	msg := normalise(message)
	for _, e := range c.entries {
		for _, t := range e.triggers {
			if c.matches(msg, t) {
				return e.name, types.CloneSegments(e.segments), true
			}
		}
	}
	return "", nil, false
}

// Len returns the number of entries.
func (c *Catalog) Len() int { return len(c.entries) }

// Policy returns the matching policy.
func (c *Catalog) Policy() Policy { return c.policy }

func (c *Catalog) matches(msg, trigger string) bool {
	// A blank message only ever matches an empty trigger.
	if msg == "" || trigger == "" {
		return msg == "" && trigger == ""
	}
	switch c.policy {
	case PolicyExact:
		return msg == trigger
	case PolicyContains:
		return containsWords(msg, trigger)
	case PolicyFuzzy:
		return similarity(msg, trigger) >= c.threshold
	}
	return false
}

// containsWords reports whether trigger occurs in msg on word boundaries.
func containsWords(msg, trigger string) bool {
	return strings.Contains(" "+msg+" ", " "+trigger+" ")
}

// similarity is the better of the full-string and space-stripped
// Jaro-Winkler scores.
func similarity(a, b string) float64 {
	score := matchr.JaroWinkler(a, b, false)
	ca, cb := strings.ReplaceAll(a, " ", ""), strings.ReplaceAll(b, " ", "")
	if ca != a || cb != b {
		if s := matchr.JaroWinkler(ca, cb, false); s > score {
			score = s
		}
	}
	return score
}

// normalise lower-cases s, drops punctuation and symbols, and collapses
// whitespace.
func normalise(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			return -1
		case unicode.IsSpace(r):
			return ' '
		}
		return unicode.ToLower(r)
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
