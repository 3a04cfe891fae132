package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/murmur/pkg/audio"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	KindSTT: {"whisper", "openai"},
	KindLLM: {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	KindTTS: {"coqui", "melo", "openai", "polly"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultLogLevel              = LogInfo
	DefaultShutdownTimeout       = 15 * time.Second
	DefaultTranscriptionTimeout  = 30 * time.Second
	DefaultGenerationIdleTimeout = 30 * time.Second
	DefaultGenerationTimeout     = 2 * time.Minute
	DefaultSynthesisTimeout      = 30 * time.Second
	DefaultContextTimeout        = 2 * time.Second
	DefaultHistorySize           = 32
	DefaultMinChunkTokens        = 30
	DefaultChunkTimeout          = 30 * time.Second
	DefaultSynthesisWorkers      = 2
	DefaultIdleMin               = 5 * time.Millisecond
	DefaultIdleMax               = 200 * time.Millisecond
)

// DefaultRecordCommand records six seconds of 16 kHz mono speech with ALSA.
var DefaultRecordCommand = []string{"arecord", "-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-d", "6", audio.OutputPlaceholder}

// DefaultPlayCommand plays a clip with ffplay and exits when it ends.
var DefaultPlayCommand = []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", audio.InputPlaceholder}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
//
// A .env file next to the config (and one in the working directory) is
// loaded into the process environment first; variables already set win.
// ${VAR} references in the file are then expanded from the environment.
func Load(path string) (*Config, error) {
	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

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

// LoadFromReader decodes a YAML config from r, expands environment
// variables, applies defaults and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads every existing file in paths. Missing files are skipped.
func loadDotEnv(paths ...string) {
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			slog.Warn("config: failed to load .env file", "path", abs, "err", err)
			continue
		}
		slog.Debug("config: loaded .env file", "path", abs)
	}
}

// ApplyDefaults fills zero-valued fields of cfg with the package defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	c := &cfg.Conversation
	if c.TempDir == "" {
		c.TempDir = filepath.Join(os.TempDir(), "murmur")
	}
	if c.TranscriptionTimeout <= 0 {
		c.TranscriptionTimeout = DefaultTranscriptionTimeout
	}
	if c.GenerationIdleTimeout <= 0 {
		c.GenerationIdleTimeout = DefaultGenerationIdleTimeout
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = DefaultGenerationTimeout
	}
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = DefaultSynthesisTimeout
	}
	if c.ContextTimeout <= 0 {
		c.ContextTimeout = DefaultContextTimeout
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}

	g := &cfg.Generation
	if g.MinChunkTokens <= 0 {
		g.MinChunkTokens = DefaultMinChunkTokens
	}
	if g.ChunkTimeout <= 0 {
		g.ChunkTimeout = DefaultChunkTimeout
	}

	w := &cfg.Workers
	if w.Transcription <= 0 {
		w.Transcription = 1
	}
	if w.Generation <= 0 {
		w.Generation = 1
	}
	if w.Synthesis <= 0 {
		w.Synthesis = DefaultSynthesisWorkers
	}
	if w.IdleMin <= 0 {
		w.IdleMin = DefaultIdleMin
	}
	if w.IdleMax <= 0 {
		w.IdleMax = DefaultIdleMax
	}

	a := &cfg.Audio
	if len(a.RecordCommand) == 0 {
		a.RecordCommand = slices.Clone(DefaultRecordCommand)
	}
	if len(a.PlayCommand) == 0 {
		a.PlayCommand = slices.Clone(DefaultPlayCommand)
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
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v must be between 0 and 1", r))
	}

	// Providers: every stage needs one.
	for _, p := range []struct {
		kind  string
		entry ProviderEntry
	}{
		{"stt", cfg.Providers.STT},
		{"llm", cfg.Providers.LLM},
		{"tts", cfg.Providers.TTS},
	} {
		if p.entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", p.kind))
			continue
		}
		validateProviderName(p.kind, p.entry.Name)
		for i, fb := range p.entry.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", p.kind, i))
				continue
			}
			validateProviderName(p.kind, fb.Name)
			if len(fb.Fallbacks) > 0 {
				slog.Warn("nested provider fallbacks are ignored", "kind", p.kind, "name", fb.Name)
			}
		}
	}

	// Generation
	if t := cfg.Generation.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("generation.temperature %.2f is out of range [0, 2]", t))
	}
	if cfg.Generation.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("generation.max_tokens %d must not be negative", cfg.Generation.MaxTokens))
	}

	// Workers
	if cfg.Workers.IdleMax < cfg.Workers.IdleMin {
		errs = append(errs, fmt.Errorf("workers.idle_max %s is below workers.idle_min %s", cfg.Workers.IdleMax, cfg.Workers.IdleMin))
	}

	// Timeouts
	if cfg.Conversation.GenerationIdleTimeout > cfg.Conversation.GenerationTimeout {
		slog.Warn("conversation.generation_idle_timeout exceeds generation_timeout; the idle limit never applies",
			"idle", cfg.Conversation.GenerationIdleTimeout,
			"total", cfg.Conversation.GenerationTimeout,
		)
	}

	// Audio commands
	if n := countPlaceholder(cfg.Audio.RecordCommand, audio.OutputPlaceholder); len(cfg.Audio.RecordCommand) > 0 && n != 1 {
		errs = append(errs, fmt.Errorf("audio.record_command must contain %s exactly once, found %d", audio.OutputPlaceholder, n))
	}
	if n := countPlaceholder(cfg.Audio.PlayCommand, audio.InputPlaceholder); len(cfg.Audio.PlayCommand) > 0 && n != 1 {
		errs = append(errs, fmt.Errorf("audio.play_command must contain %s exactly once, found %d", audio.InputPlaceholder, n))
	}
	if cfg.Audio.ClipboardMaxBytes < 0 {
		errs = append(errs, fmt.Errorf("audio.clipboard_max_bytes %d must not be negative", cfg.Audio.ClipboardMaxBytes))
	}

	return errors.Join(errs...)
}

// ClipboardDisabled reports whether the clipboard command is the "none"
// sentinel.
func (a AudioConfig) ClipboardDisabled() bool {
	return len(a.ClipboardCommand) == 1 && a.ClipboardCommand[0] == "none"
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

func countPlaceholder(argv []string, placeholder string) int {
	n := 0
	for _, a := range argv {
		n += strings.Count(a, placeholder)
	}
	return n
}
