package canned

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeAsset creates <dir>/<id>.wav and <dir>/<id>.json.
func writeAsset(t *testing.T, dir, id, timing string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, id+".wav"), []byte("RIFF"+id), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, id+".json"), []byte(timing), 0o600); err != nil {
		t.Fatal(err)
	}
}

func introDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeAsset(t, dir, "intro_0", `{"mouthCues":[{"start":0,"end":0.5,"value":"B"}]}`)
	writeAsset(t, dir, "intro_1", `{"mouthCues":[]}`)
	writeAsset(t, dir, "hello", `{"mouthCues":[]}`)
	return dir
}

var testEntries = []EntrySpec{
	{
		Name:     "intro",
		Triggers: []string{""},
		Segments: []SegmentSpec{
			{Asset: "intro_0", Text: "Hey there", Emotion: "smile"},
			{Asset: "intro_1", Text: "Ask me anything"},
		},
	},
	{
		Name:     "greeting",
		Triggers: []string{"Hello there!", "good morning"},
		Segments: []SegmentSpec{{Asset: "hello", Text: "Hello!"}},
	},
}

func TestLoad_ReadsAssets(t *testing.T) {
	t.Parallel()
	c, err := Load(introDir(t), testEntries, PolicyEmpty)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}

	segs, ok := c.Lookup("")
	if !ok {
		t.Fatal("blank message should hit intro")
	}
	if len(segs) != 2 {
		t.Fatalf("segments = %d, want 2", len(segs))
	}
	if string(segs[0].Audio) != "RIFFintro_0" {
		t.Errorf("audio = %q", segs[0].Audio)
	}
	if !strings.Contains(string(segs[0].Timing), `"value":"B"`) {
		t.Errorf("timing = %s", segs[0].Timing)
	}
	if segs[0].Text != "Hey there" || segs[0].Emotion != "smile" {
		t.Errorf("segment = %+v", segs[0])
	}
	for i, s := range segs {
		if !s.Complete() {
			t.Errorf("segment %d is not complete", i)
		}
	}
}

func TestLoad_MissingAsset(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeAsset(t, dir, "intro_0", `{}`)
	// intro_1 missing entirely.

	_, err := Load(dir, testEntries[:1], PolicyEmpty)
	if !errors.Is(err, ErrAssetMissing) {
		t.Fatalf("err = %v, want ErrAssetMissing", err)
	}
	if !strings.Contains(err.Error(), "intro_1.wav") {
		t.Errorf("error should name the file, got: %v", err)
	}
}

func TestLoad_InvalidTiming(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeAsset(t, dir, "intro_0", `{}`)
	writeAsset(t, dir, "intro_1", `{not json`)

	_, err := Load(dir, testEntries[:1], PolicyEmpty)
	if err == nil || !strings.Contains(err.Error(), "invalid JSON") {
		t.Fatalf("err = %v, want invalid JSON error", err)
	}
}

func TestLoad_UnknownPolicy(t *testing.T) {
	t.Parallel()
	if _, err := Load(t.TempDir(), nil, Policy("psychic")); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestLoad_WarnsAboutOrphans(t *testing.T) {
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	dir := introDir(t)
	if err := os.WriteFile(filepath.Join(dir, "lonely.wav"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ghost.json"), []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(dir, testEntries, PolicyEmpty); err != nil {
		t.Fatalf("Load: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "canned audio has no timing file") || !strings.Contains(out, "asset=lonely") {
		t.Errorf("missing audio orphan warning in:\n%s", out)
	}
	if !strings.Contains(out, "canned timing file has no audio") || !strings.Contains(out, "asset=ghost") {
		t.Errorf("missing timing orphan warning in:\n%s", out)
	}
}

func TestLookup_Policies(t *testing.T) {
	t.Parallel()
	dir := introDir(t)

	tests := []struct {
		policy  Policy
		message string
		want    string // entry name, "" for miss
	}{
		{PolicyEmpty, "", "intro"},
		{PolicyEmpty, "   ", "intro"},
		{PolicyEmpty, "hello there", ""},
		{PolicyExact, "", "intro"},
		{PolicyExact, "  HELLO, there?! ", "greeting"},
		{PolicyExact, "hello there friend", ""},
		{PolicyContains, "well hello there friend", "greeting"},
		{PolicyContains, "othello there", ""},
		{PolicyFuzzy, "helo there", "greeting"},
		{PolicyFuzzy, "goood morning", "greeting"},
		{PolicyFuzzy, "what is the capital of france", ""},
		{PolicyFuzzy, "", "intro"},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy)+"/"+tt.message, func(t *testing.T) {
			t.Parallel()
			c, err := Load(dir, testEntries, tt.policy, WithFuzzyThreshold(0.9))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			name, segs, ok := c.Match(tt.message)
			if tt.want == "" {
				if ok {
					t.Errorf("Match(%q) = %q, want miss", tt.message, name)
				}
				return
			}
			if !ok || name != tt.want {
				t.Errorf("Match(%q) = %q, %v; want %q", tt.message, name, ok, tt.want)
			}
			if len(segs) == 0 {
				t.Error("hit returned no segments")
			}
		})
	}
}

func TestLookup_ReturnsCopy(t *testing.T) {
	t.Parallel()
	c, err := Load(introDir(t), testEntries, PolicyEmpty)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a, _ := c.Lookup("")
	a[0].Audio[0] = 'X'
	a[0].Text = "mutated"

	b, _ := c.Lookup("")
	if b[0].Audio[0] != 'R' || b[0].Text != "Hey there" {
		t.Errorf("catalogue was mutated through a lookup result: %+v", b[0])
	}
}

func TestNormalise(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"  Hello,   World!  ": "hello world",
		"What's\tup?":         "whats up",
		"":                    "",
		"¿Qué tal?":           "qué tal",
	}
	for in, want := range tests {
		if got := normalise(in); got != want {
			t.Errorf("normalise(%q) = %q, want %q", in, got, want)
		}
	}
}
