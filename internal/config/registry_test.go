package config_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/talkinghead/internal/config"
	"github.com/MrWong99/talkinghead/pkg/provider/lipsync"
	lipsyncmock "github.com/MrWong99/talkinghead/pkg/provider/lipsync/mock"
	"github.com/MrWong99/talkinghead/pkg/provider/llm"
	llmmock "github.com/MrWong99/talkinghead/pkg/provider/llm/mock"
	"github.com/MrWong99/talkinghead/pkg/provider/stt"
	sttmock "github.com/MrWong99/talkinghead/pkg/provider/stt/mock"
	"github.com/MrWong99/talkinghead/pkg/provider/tts"
	ttsmock "github.com/MrWong99/talkinghead/pkg/provider/tts/mock"
)

func TestRegistry_CreateRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	var gotEntry config.ProviderEntry
	reg.RegisterLLM("mock", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return &llmmock.Provider{}, nil
	})
	reg.RegisterSTT("mock", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	reg.RegisterTTS("mock", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })
	reg.RegisterLipSync("mock", func(config.ProviderEntry) (lipsync.Provider, error) { return &lipsyncmock.Provider{}, nil })

	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "mock", Model: "m1"}); err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if gotEntry.Model != "m1" {
		t.Errorf("factory received model %q, want m1", gotEntry.Model)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "mock"}); err != nil {
		t.Errorf("CreateSTT: %v", err)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "mock"}); err != nil {
		t.Errorf("CreateTTS: %v", err)
	}
	if _, err := reg.CreateLipSync(config.ProviderEntry{Name: "mock"}); err != nil {
		t.Errorf("CreateLipSync: %v", err)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	_, err := reg.CreateTTS(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
	_, err = reg.CreateLipSync(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterSTT("bad", func(config.ProviderEntry) (stt.Provider, error) { return nil, boom })

	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "bad"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterTTS("elevenlabs", func(config.ProviderEntry) (tts.Provider, error) { return nil, nil })
	reg.RegisterTTS("coqui", func(config.ProviderEntry) (tts.Provider, error) { return nil, nil })

	if got := reg.Names("tts"); !slices.Equal(got, []string{"coqui", "elevenlabs"}) {
		t.Errorf("Names(tts) = %v", got)
	}
	if got := reg.Names("bogus"); got != nil {
		t.Errorf("Names(bogus) = %v, want nil", got)
	}
}

func TestProviderEntry_Options(t *testing.T) {
	t.Parallel()
	e := config.ProviderEntry{Options: map[string]any{
		"language": "en",
		"keywords": []any{"a", "b", 3},
		"single":   "x",
	}}
	if got := e.OptionString("language"); got != "en" {
		t.Errorf("OptionString = %q", got)
	}
	if got := e.OptionString("missing"); got != "" {
		t.Errorf("OptionString(missing) = %q", got)
	}
	if got := e.OptionStrings("keywords"); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("OptionStrings = %v", got)
	}
	if got := e.OptionStrings("single"); !slices.Equal(got, []string{"x"}) {
		t.Errorf("OptionStrings(single) = %v", got)
	}
}
