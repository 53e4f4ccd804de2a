package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/talkinghead/internal/canned"
	"github.com/MrWong99/talkinghead/pkg/types"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":     {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":     {"openai", "deepgram", "whisper"},
	"tts":     {"elevenlabs", "coqui"},
	"lipsync": {"rhubarb", "estimate"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":3000"
	DefaultMaxBodyBytes    = 50 << 20
	DefaultShutdownTimeout = 10 * time.Second
	DefaultCannedDir       = "audios"
	DefaultFuzzyThreshold  = 0.9
	DefaultMaxSegments     = 3
	DefaultConcurrency     = 3
)

// DefaultFallback is served when the Responder cannot produce a reply.
var DefaultFallback = []types.ReplySegment{{
	Text:    "I'm sorry, there seems to be an error with my brain, or I didn't understand. Could you please repeat your question?",
	Emotion: "sad",
}}

// DefaultCORS is the cross-origin policy used when none is configured.
var DefaultCORS = CORSConfig{
	AllowedOrigins: []string{"https://demofrontend-rose.vercel.app", "http://localhost:3000"},
	AllowedMethods: []string{"GET", "POST", "OPTIONS", "PUT", "DELETE", "PATCH"},
	AllowedHeaders: []string{"Content-Type", "Authorization", "X-Requested-With", "Accept"},
}

// DefaultCannedEntries is the catalogue used when none is configured: the
// avatar's two-part introduction, played for a blank message.
var DefaultCannedEntries = []canned.EntrySpec{{
	Name:     "intro",
	Triggers: []string{""},
	Segments: []canned.SegmentSpec{
		{Asset: "intro_0", Text: "Hey there... How was your day?", Emotion: "smile"},
		{Asset: "intro_1", Text: "I'm your digital assistant. Ask me anything!", Emotion: "smile"},
	},
}}

// LoadEnv loads KEY=VALUE pairs from the given dotenv files into the process
// environment. Variables already set are not overwritten. Missing files are
// ignored.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: load env %q: %w", f, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references
// from the environment, applies defaults and environment overrides, and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	ApplyDefaults(cfg)
	ApplyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.LogFormat == "" {
		s.LogFormat = LogFormatText
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
	if s.CORS.AllowedOrigins == nil {
		s.CORS.AllowedOrigins = slices.Clone(DefaultCORS.AllowedOrigins)
	}
	if len(s.CORS.AllowedMethods) == 0 {
		s.CORS.AllowedMethods = slices.Clone(DefaultCORS.AllowedMethods)
	}
	if len(s.CORS.AllowedHeaders) == 0 {
		s.CORS.AllowedHeaders = slices.Clone(DefaultCORS.AllowedHeaders)
	}
	if s.CORS.AllowCredentials == nil {
		t := true
		s.CORS.AllowCredentials = &t
	}

	r := &cfg.Responder
	if r.MaxSegments <= 0 {
		r.MaxSegments = DefaultMaxSegments
	}
	if len(r.Fallback) == 0 {
		r.Fallback = slices.Clone(DefaultFallback)
	}

	c := &cfg.Canned
	if c.Dir == "" {
		c.Dir = DefaultCannedDir
	}
	if c.Policy == "" {
		c.Policy = canned.PolicyEmpty
	}
	if c.FuzzyThreshold <= 0 {
		c.FuzzyThreshold = DefaultFuzzyThreshold
	}
	if c.Entries == nil {
		c.Entries = slices.Clone(DefaultCannedEntries)
	}

	p := &cfg.Pipeline
	if p.Concurrency <= 0 {
		p.Concurrency = DefaultConcurrency
	}
	t := &p.Timeouts
	if t.Transcribe <= 0 {
		t.Transcribe = 30 * time.Second
	}
	if t.Respond <= 0 {
		t.Respond = 30 * time.Second
	}
	if t.Synthesize <= 0 {
		t.Synthesize = 30 * time.Second
	}
	if t.Animate <= 0 {
		t.Animate = 60 * time.Second
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "talkinghead"
	}
}

// ApplyEnvOverrides applies overrides taken from well-known environment
// variables. PORT replaces the port of server.listen_addr.
func ApplyEnvOverrides(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.ListenAddr = ":" + strings.TrimPrefix(port, ":")
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json, color", cfg.Server.LogFormat))
	}
	for i, o := range cfg.Server.CORS.AllowedOrigins {
		if o == "" || o == "*" {
			errs = append(errs, fmt.Errorf("server.cors.allowed_origins[%d] %q must be an exact origin", i, o))
		}
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("lipsync", cfg.Providers.LipSync.Name)

	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts is required"))
	}
	if cfg.Providers.LipSync.Name == "" {
		errs = append(errs, errors.New("providers.lipsync is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; every non-canned question gets the fallback reply")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; /sts will fail")
	}

	// Responder
	if cfg.Responder.Temperature < 0 || cfg.Responder.Temperature > 2 {
		errs = append(errs, fmt.Errorf("responder.temperature %.2f is out of range [0, 2]", cfg.Responder.Temperature))
	}
	for i, seg := range cfg.Responder.Fallback {
		if strings.TrimSpace(seg.Text) == "" {
			errs = append(errs, fmt.Errorf("responder.fallback[%d].text is required", i))
		}
	}

	// Canned
	if cfg.Canned.Policy != "" && !cfg.Canned.Policy.IsValid() {
		errs = append(errs, fmt.Errorf("canned.policy %q is invalid; valid values: empty, exact, contains, fuzzy", cfg.Canned.Policy))
	}
	if cfg.Canned.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("canned.fuzzy_threshold %.2f is out of range (0, 1]", cfg.Canned.FuzzyThreshold))
	}
	namesSeen := make(map[string]int, len(cfg.Canned.Entries))
	for i, e := range cfg.Canned.Entries {
		prefix := fmt.Sprintf("canned.entries[%d]", i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := namesSeen[e.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of canned.entries[%d]", prefix, e.Name, prev))
			}
			namesSeen[e.Name] = i
		}
		if len(e.Triggers) == 0 {
			errs = append(errs, fmt.Errorf("%s.triggers must not be empty", prefix))
		}
		if len(e.Segments) == 0 {
			errs = append(errs, fmt.Errorf("%s.segments must not be empty", prefix))
		}
		for j, seg := range e.Segments {
			if seg.Asset == "" {
				errs = append(errs, fmt.Errorf("%s.segments[%d].asset is required", prefix, j))
			} else if strings.ContainsAny(seg.Asset, `/\`) {
				errs = append(errs, fmt.Errorf("%s.segments[%d].asset %q must be a bare name", prefix, j, seg.Asset))
			}
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
