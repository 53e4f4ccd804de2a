// Package config provides the configuration schema, loader, and provider
// registry for the talking-head server.
package config

import (
	"time"

	"github.com/MrWong99/talkinghead/internal/canned"
	"github.com/MrWong99/talkinghead/pkg/types"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText  LogFormat = "text"
	LogFormatJSON  LogFormat = "json"
	LogFormatColor LogFormat = "color"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	switch f {
	case LogFormatText, LogFormatJSON, LogFormatColor:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Voice     VoiceConfig     `yaml:"voice"`
	Responder ResponderConfig `yaml:"responder"`
	Canned    CannedConfig    `yaml:"canned"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":3000").
	// The PORT environment variable overrides it.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel  LogLevel  `yaml:"log_level"`
	LogFormat LogFormat `yaml:"log_format"`

	// MaxBodyBytes caps request bodies. Default: 50 MiB.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	CORS CORSConfig `yaml:"cors"`
}

// CORSConfig is the cross-origin policy of the HTTP API.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	AllowCredentials *bool    `yaml:"allow_credentials"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM     ProviderEntry `yaml:"llm"`
	STT     ProviderEntry `yaml:"stt"`
	TTS     ProviderEntry `yaml:"tts"`
	LipSync ProviderEntry `yaml:"lipsync"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] as a string, or "" when absent or not a string.
func (e ProviderEntry) OptionString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptionStrings returns Options[key] as a string slice. A single string is
// returned as a one-element slice.
func (e ProviderEntry) OptionStrings(key string) []string {
	switch v := e.Options[key].(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// VoiceConfig holds synthesis defaults.
type VoiceConfig struct {
	// DefaultVoiceID is used when a request names no voice.
	DefaultVoiceID string `yaml:"default_voice_id"`
}

// ResponderConfig tunes the LLM-backed Responder.
type ResponderConfig struct {
	// SystemPrompt replaces the built-in persona prompt when non-empty.
	SystemPrompt string `yaml:"system_prompt"`

	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// MaxSegments caps the number of segments in one reply. Default: 3.
	MaxSegments int `yaml:"max_segments"`

	// Fallback is the reply served when the Responder fails.
	Fallback []types.ReplySegment `yaml:"fallback"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig mirrors resilience.CircuitBreakerConfig. The breaker
// is disabled while MaxFailures is zero.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// CannedConfig describes the pre-recorded reply catalogue.
type CannedConfig struct {
	// Dir holds the <asset>.wav and <asset>.json files. Default: "audios".
	Dir string `yaml:"dir"`

	Policy canned.Policy `yaml:"policy"`

	// FuzzyThreshold is the minimum Jaro-Winkler similarity for PolicyFuzzy.
	// Default: 0.9.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`

	// LogHits appends canned exchanges to the conversation log.
	LogHits bool `yaml:"log_hits"`

	// Entries is the catalogue. When absent, [DefaultCannedEntries] is used;
	// an explicit empty list disables canned replies.
	Entries []canned.EntrySpec `yaml:"entries"`
}

// PipelineConfig tunes reply assembly.
type PipelineConfig struct {
	// Concurrency limits how many segments are voiced at once. Default: 3.
	Concurrency int `yaml:"concurrency"`

	Timeouts TimeoutsConfig `yaml:"timeouts"`
}

// TimeoutsConfig bounds each external call.
type TimeoutsConfig struct {
	Transcribe time.Duration `yaml:"transcribe"`
	Respond    time.Duration `yaml:"respond"`
	Synthesize time.Duration `yaml:"synthesize"`
	Animate    time.Duration `yaml:"animate"`
}

// TelemetryConfig toggles observability features.
type TelemetryConfig struct {
	// Metrics enables the /metrics endpoint. Default: true.
	Metrics *bool `yaml:"metrics"`

	// ServiceName is reported in telemetry. Default: "talkinghead".
	ServiceName string `yaml:"service_name"`
}

// MetricsEnabled reports whether the /metrics endpoint is served.
func (t TelemetryConfig) MetricsEnabled() bool {
	return t.Metrics == nil || *t.Metrics
}
