package estimate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/MrWong99/talkinghead/pkg/audio"
	"github.com/MrWong99/talkinghead/pkg/provider/lipsync"
)

func TestShapeOf(t *testing.T) {
	tests := []struct {
		in   rune
		want string
	}{
		{'M', lipsync.ShapeA},
		{'p', lipsync.ShapeA},
		{'a', lipsync.ShapeD},
		{'E', lipsync.ShapeC},
		{'i', lipsync.ShapeB},
		{'o', lipsync.ShapeE},
		{'w', lipsync.ShapeF},
		{'v', lipsync.ShapeG},
		{'L', lipsync.ShapeH},
		{'t', lipsync.ShapeB},
		{' ', lipsync.ShapeX},
		{'!', lipsync.ShapeX},
	}
	for _, tt := range tests {
		if got := shapeOf(tt.in); got != tt.want {
			t.Errorf("shapeOf(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCues_EvenSpread(t *testing.T) {
	cues := Cues("mama", 1.0)
	want := []string{"A", "D", "A", "D", "X"}
	if len(cues) != len(want) {
		t.Fatalf("len(cues) = %d, want %d: %+v", len(cues), len(want), cues)
	}
	for i, c := range cues {
		if c.Value != want[i] {
			t.Errorf("cue %d value = %q, want %q", i, c.Value, want[i])
		}
		if c.End-c.Start < 0.199 || c.End-c.Start > 0.201 {
			t.Errorf("cue %d length = %v, want 0.2", i, c.End-c.Start)
		}
	}
}

func TestCues_MergesRunsAndIsContiguous(t *testing.T) {
	cues := Cues("Hello,  world!", 2.37)
	if cues[0].Start != 0 {
		t.Errorf("first cue starts at %v, want 0", cues[0].Start)
	}
	for i := 1; i < len(cues); i++ {
		if cues[i].Start != cues[i-1].End {
			t.Errorf("gap between cue %d and %d", i-1, i)
		}
		if cues[i].Value == cues[i-1].Value {
			t.Errorf("cues %d and %d share shape %q", i-1, i, cues[i].Value)
		}
	}
	last := cues[len(cues)-1]
	if last.Value != lipsync.ShapeX {
		t.Errorf("last cue = %q, want X", last.Value)
	}
	if last.End != 2.37 {
		t.Errorf("last cue ends at %v, want 2.37", last.End)
	}
}

func TestCues_EmptyText(t *testing.T) {
	cues := Cues("", 0.5)
	if len(cues) != 1 || cues[0].Value != lipsync.ShapeX || cues[0].End != 0.5 {
		t.Errorf("unexpected cues %+v", cues)
	}
}

func TestAnimate(t *testing.T) {
	wav, err := audio.EncodeWAV(make([]byte, 16000*2), audio.PCM16Mono(16000))
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	raw, err := New().Animate(context.Background(), wav, "Hi")
	if err != nil {
		t.Fatalf("Animate: %v", err)
	}
	var doc lipsync.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Metadata.Duration != 1 {
		t.Errorf("duration = %v, want 1", doc.Metadata.Duration)
	}
	if len(doc.MouthCues) == 0 {
		t.Fatal("expected mouth cues")
	}
}

func TestAnimate_InvalidWAV(t *testing.T) {
	if _, err := New().Animate(context.Background(), []byte("not a wav"), "x"); err == nil {
		t.Fatal("expected error for invalid WAV")
	}
}
