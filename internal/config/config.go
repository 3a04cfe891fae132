// Package config provides the configuration schema, loader and provider
// registry for the Murmur voice assistant.
package config

import "time"

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

// Config is the root configuration structure for Murmur.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Conversation ConversationConfig `yaml:"conversation"`
	Generation   GenerationConfig   `yaml:"generation"`
	Workers      WorkersConfig      `yaml:"workers"`
	Audio        AudioConfig        `yaml:"audio"`
}

// ServerConfig holds the observability endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the health and metrics server
	// (e.g., ":9090"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds graceful shutdown, including the turn in flight.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TraceSampleRatio is the fraction of new traces that are recorded, in
	// [0, 1]. Zero records every trace.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// ProvidersConfig declares which provider implementation serves each stage.
// Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "whisper", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "llama3", "tts-1").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails or its circuit
	// breaker is open. Nested fallbacks are ignored.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// ConversationConfig tunes the turn orchestrator.
type ConversationConfig struct {
	// TempDir is the parent of the per-conversation directories holding
	// recorded questions.
	TempDir string `yaml:"temp_dir"`

	// DefaultQuestion is asked when the transcript is missing or blank.
	DefaultQuestion string `yaml:"default_question"`

	TranscriptionTimeout  time.Duration `yaml:"transcription_timeout"`
	GenerationIdleTimeout time.Duration `yaml:"generation_idle_timeout"`
	GenerationTimeout     time.Duration `yaml:"generation_timeout"`
	SynthesisTimeout      time.Duration `yaml:"synthesis_timeout"`
	ContextTimeout        time.Duration `yaml:"context_timeout"`

	// KeepAudio keeps recorded questions on disk after their turn.
	KeepAudio bool `yaml:"keep_audio"`

	// HistorySize is the number of turn records served by GET /turns.
	HistorySize int `yaml:"history_size"`
}

// GenerationConfig shapes the generation requests and the answer chunking.
type GenerationConfig struct {
	// SystemPrompt frames every request. Empty selects the built-in prompt.
	SystemPrompt string `yaml:"system_prompt"`

	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// MinChunkTokens is the number of stream tokens a chunk collects before it
	// may be cut at a sentence end.
	MinChunkTokens int `yaml:"min_chunk_tokens"`

	// ChunkTimeout bounds the silence between two stream tokens.
	ChunkTimeout time.Duration `yaml:"chunk_timeout"`
}

// WorkersConfig sets the number of workers per stage and their idle backoff.
type WorkersConfig struct {
	Transcription int `yaml:"transcription"`
	Generation    int `yaml:"generation"`
	Synthesis     int `yaml:"synthesis"`

	IdleMin time.Duration `yaml:"idle_min"`
	IdleMax time.Duration `yaml:"idle_max"`
}

// AudioConfig selects the external programs used for capture, playback and
// the clipboard. Commands are argv lists. The record command must contain
// "{output}" and the play command "{input}"; both are replaced by the path of
// the clip.
type AudioConfig struct {
	RecordCommand []string `yaml:"record_command"`
	PlayCommand   []string `yaml:"play_command"`

	// ClipboardCommand reads the clipboard. Empty auto-detects a tool;
	// ["none"] disables the context source.
	ClipboardCommand []string `yaml:"clipboard_command"`

	// ClipboardMaxBytes caps the context text taken from the clipboard.
	ClipboardMaxBytes int `yaml:"clipboard_max_bytes"`
}
