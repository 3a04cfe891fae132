package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/murmur/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{TTS: config.ProviderEntry{Name: "melo", Options: map[string]any{"speaker": "EN-US"}}},
	}
	if d := config.Diff(cfg, cfg); !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevelOnly(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo, ListenAddr: ":9090"}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug, ListenAddr: ":9090"}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level change should not require a restart, got %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server:       config.ServerConfig{ListenAddr: ":9090"},
		Providers:    config.ProvidersConfig{LLM: config.ProviderEntry{Name: "ollama", Model: "llama3"}},
		Conversation: config.ConversationConfig{SynthesisTimeout: time.Second},
	}
	new := &config.Config{
		Server:       config.ServerConfig{ListenAddr: ":9091"},
		Providers:    config.ProvidersConfig{LLM: config.ProviderEntry{Name: "ollama", Model: "mistral"}},
		Conversation: config.ConversationConfig{SynthesisTimeout: time.Second},
		Workers:      config.WorkersConfig{Synthesis: 3},
	}

	d := config.Diff(old, new)
	want := []string{"server", "providers", "workers"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.LogLevelChanged {
		t.Error("LogLevelChanged should be false")
	}
}
