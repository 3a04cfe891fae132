// Command murmur is the main entry point for the Murmur voice assistant.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/murmur/internal/app"
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/resilience"
	"github.com/MrWong99/murmur/internal/trigger"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	"github.com/MrWong99/murmur/pkg/provider/llm/anyllm"
	llmopenai "github.com/MrWong99/murmur/pkg/provider/llm/openai"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	sttopenai "github.com/MrWong99/murmur/pkg/provider/stt/openai"
	"github.com/MrWong99/murmur/pkg/provider/stt/whisper"
	"github.com/MrWong99/murmur/pkg/provider/tts"
	"github.com/MrWong99/murmur/pkg/provider/tts/coqui"
	"github.com/MrWong99/murmur/pkg/provider/tts/melo"
	ttsopenai "github.com/MrWong99/murmur/pkg/provider/tts/openai"
	"github.com/MrWong99/murmur/pkg/provider/tts/polly"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	turns := flag.Int("turns", 0, "run this many turns back to back and exit (0 = press Enter for each turn)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "murmur: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "murmur: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("murmur starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "murmur",
		ServiceVersion: version,
		SampleRatio:    cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, _ *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config changed; restart to apply", "sections", d.RestartRequired)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	// The first signal ends the turn loop once the current turn is done.
	// Releasing the handler right away lets a second signal kill the process.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	context.AfterFunc(ctx, stop)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	var trig trigger.Trigger = trigger.NewLine(os.Stdin)
	if *turns > 0 {
		trig = trigger.Count(*turns)
	} else {
		fmt.Printf("Press Enter to ask a question, %q + Enter to quit.\n", trigger.QuitCommand)
	}

	code := 0
	if err := application.Run(ctx, trig); err != nil {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, llmopenai.WithOrganization(org))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other any-llm-go backend shares the same pattern: optional APIKey
	// + optional BaseURL. openai goes through openai-go above and ollama below.
	for _, backend := range anyllm.Backends() {
		if backend == "openai" || backend == "ollama" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []whisper.Option{whisper.WithHTTPClient(observe.HTTPClient(backendTimeout(entry)))}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, sttopenai.WithLanguage(lang))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, sttopenai.WithPrompt(prompt))
		}
		return sttopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []coqui.Option{coqui.WithHTTPClient(observe.HTTPClient(backendTimeout(entry)))}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if speaker := optString(entry.Options, "speaker"); speaker != "" {
			opts = append(opts, coqui.WithSpeaker(speaker))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("melo", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []melo.Option{melo.WithHTTPClient(observe.HTTPClient(backendTimeout(entry)))}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, melo.WithLanguage(lang))
		}
		if speaker := optString(entry.Options, "speaker"); speaker != "" {
			opts = append(opts, melo.WithSpeaker(speaker))
		}
		return melo.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, ttsopenai.WithVoice(voice))
		}
		if speed, ok := optFloat(entry.Options, "speed"); ok {
			opts = append(opts, ttsopenai.WithSpeed(speed))
		}
		return ttsopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// polly authenticates through the default AWS credential chain.
	reg.RegisterTTS("polly", func(entry config.ProviderEntry) (tts.Provider, error) {
		return polly.New(polly.Config{
			Region: optString(entry.Options, "region"),
			Voice:  optString(entry.Options, "voice"),
			Engine: optString(entry.Options, "engine"),
		}), nil
	})

	// Debug log of all registered providers.
	for _, kind := range []string{config.KindSTT, config.KindLLM, config.KindTTS} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// An entry with fallbacks is wrapped in the matching resilience fallback so
// a failing backend hands over to the next one.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	metrics := observe.DefaultMetrics()
	fbCfg := resilience.FallbackConfig{
		Logger: slog.Default(),
		OnStateChange: func(name string, _, to resilience.State) {
			metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}
	ps := &app.Providers{}

	sttEntry := cfg.Providers.STT
	sttP, err := reg.CreateSTT(sttEntry)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", sttEntry.Name, err)
	}
	ps.STT = sttP
	if len(sttEntry.Fallbacks) > 0 {
		fb := resilience.NewSTTFallback(sttP, sttEntry.Name, fbCfg)
		for _, e := range sttEntry.Fallbacks {
			p, err := reg.CreateSTT(e)
			if err != nil {
				return nil, fmt.Errorf("create stt fallback %q: %w", e.Name, err)
			}
			fb.AddFallback(e.Name, p)
		}
		ps.STT = fb
	}
	slog.Info("provider created", "kind", "stt", "name", sttEntry.Name, "fallbacks", len(sttEntry.Fallbacks))

	llmEntry := cfg.Providers.LLM
	llmP, err := reg.CreateLLM(llmEntry)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", llmEntry.Name, err)
	}
	ps.LLM = llmP
	if len(llmEntry.Fallbacks) > 0 {
		fb := resilience.NewLLMFallback(llmP, llmEntry.Name, fbCfg)
		for _, e := range llmEntry.Fallbacks {
			p, err := reg.CreateLLM(e)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", e.Name, err)
			}
			fb.AddFallback(e.Name, p)
		}
		ps.LLM = fb
	}
	slog.Info("provider created", "kind", "llm", "name", llmEntry.Name, "fallbacks", len(llmEntry.Fallbacks))

	ttsEntry := cfg.Providers.TTS
	ttsP, err := reg.CreateTTS(ttsEntry)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", ttsEntry.Name, err)
	}
	ps.TTS = ttsP
	if len(ttsEntry.Fallbacks) > 0 {
		fb := resilience.NewTTSFallback(ttsP, ttsEntry.Name, fbCfg)
		for _, e := range ttsEntry.Fallbacks {
			p, err := reg.CreateTTS(e)
			if err != nil {
				return nil, fmt.Errorf("create tts fallback %q: %w", e.Name, err)
			}
			fb.AddFallback(e.Name, p)
		}
		ps.TTS = fb
	}
	slog.Info("provider created", "kind", "tts", "name", ttsEntry.Name, "fallbacks", len(ttsEntry.Fallbacks))

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Murmur · startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	fmt.Printf("║  Workers         : %-19s ║\n", fmt.Sprintf("%d / %d / %d",
		cfg.Workers.Transcription, cfg.Workers.Generation, cfg.Workers.Synthesis))
	clip := "auto-detect"
	switch {
	case cfg.Audio.ClipboardDisabled():
		clip = "(disabled)"
	case len(cfg.Audio.ClipboardCommand) > 0:
		clip = cfg.Audio.ClipboardCommand[0]
	}
	fmt.Printf("║  Clipboard       : %-19s ║\n", clip)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a numeric value from a provider Options map. YAML
// decodes whole numbers as int, so both are accepted.
// defaultBackendTimeout bounds one request to a self-hosted speech server.
const defaultBackendTimeout = 60 * time.Second

// backendTimeout reads the "timeout" option (a Go duration string such as
// "45s") of a self-hosted backend.
func backendTimeout(entry config.ProviderEntry) time.Duration {
	if d, err := time.ParseDuration(optString(entry.Options, "timeout")); err == nil && d > 0 {
		return d
	}
	return defaultBackendTimeout
}

func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
