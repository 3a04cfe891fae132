// Package app wires the Murmur subsystems into a running assistant.
//
// The App struct owns the full lifecycle: New creates the conversation, its
// stage workers and the HTTP endpoint, Run executes the turn loop, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithRecorder,
// WithPlayer, WithClipboard, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/conversation"
	"github.com/MrWong99/murmur/internal/convert"
	"github.com/MrWong99/murmur/internal/health"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/pipeline"
	"github.com/MrWong99/murmur/internal/resilience"
	"github.com/MrWong99/murmur/internal/trigger"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/clipboard"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	"github.com/MrWong99/murmur/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. All three are
// required. Populated by main.go via the config registry.
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	logger   *slog.Logger
	metrics  *observe.Metrics
	gatherer prometheus.Gatherer
	poller   pipeline.Poller

	recorder audio.Recorder
	player   audio.Player
	source   clipboard.Source

	conv    *conversation.Conversation
	workers pipeline.Group

	// workCtx parents every conversion. It outlives the Run context so that
	// in-flight conversions finish; Shutdown cancels it once the workers
	// have stopped or the shutdown deadline expired.
	workCtx    context.Context
	workCancel context.CancelFunc

	// turnGrace is how long a turn in progress may keep running after the
	// Run context ended.
	turnGrace time.Duration

	handler  http.Handler
	server   *http.Server
	listener net.Listener

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRecorder injects a recorder instead of running the record command.
func WithRecorder(r audio.Recorder) Option {
	return func(a *App) { a.recorder = r }
}

// WithPlayer injects a player instead of running the play command.
func WithPlayer(p audio.Player) Option {
	return func(a *App) { a.player = p }
}

// WithClipboard injects the context source instead of the clipboard tool.
func WithClipboard(s clipboard.Source) Option {
	return func(a *App) { a.source = s }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer sets the registry served on /metrics.
// Default: [prometheus.DefaultGatherer].
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithPoller overrides how the conversation paces its store polls.
func WithPoller(p pipeline.Poller) Option {
	return func(a *App) { a.poller = p }
}

// WithTurnGrace sets how long the turn in progress may continue after Run's
// context ends. Default: server.shutdown_timeout.
func WithTurnGrace(d time.Duration) Option {
	return func(a *App) { a.turnGrace = d }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for the audio and clipboard devices.
//
// New performs all initialisation synchronously but starts nothing: workers
// and the HTTP listener are started by [App.Run].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.LLM == nil || providers.TTS == nil {
		return nil, errors.New("app: stt, llm and tts providers are all required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		gatherer:  prometheus.DefaultGatherer,
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.turnGrace <= 0 {
		a.turnGrace = cfg.Server.ShutdownTimeout
	}
	if a.turnGrace <= 0 {
		a.turnGrace = config.DefaultShutdownTimeout
	}
	a.workCtx, a.workCancel = context.WithCancel(context.WithoutCancel(ctx))

	// ── 1. Devices ───────────────────────────────────────────────────────
	if err := a.initDevices(); err != nil {
		return nil, fmt.Errorf("app: init devices: %w", err)
	}

	// ── 2. Conversation ──────────────────────────────────────────────────
	cc := cfg.Conversation
	conv, err := conversation.New(conversation.Config{
		TempDir:               cc.TempDir,
		DefaultQuestion:       cc.DefaultQuestion,
		TranscriptionTimeout:  cc.TranscriptionTimeout,
		GenerationIdleTimeout: cc.GenerationIdleTimeout,
		GenerationTimeout:     cc.GenerationTimeout,
		SynthesisTimeout:      cc.SynthesisTimeout,
		ContextTimeout:        cc.ContextTimeout,
		KeepAudio:             cc.KeepAudio,
		HistorySize:           cc.HistorySize,
		Poller:                a.poller,
	}, a.recorder, a.player, a.source,
		conversation.WithLogger(a.logger),
		conversation.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init conversation: %w", err)
	}
	a.conv = conv

	// ── 3. Stage workers ─────────────────────────────────────────────────
	a.initWorkers()

	// ── 4. HTTP endpoint ─────────────────────────────────────────────────
	a.initHTTP()

	a.logger.Info("application initialised",
		"conversation", conv.ID(),
		"workers", len(a.workers.Runners()),
		"listen_addr", cfg.Server.ListenAddr,
	)
	return a, nil
}

// initDevices creates the recorder, player and clipboard source from config
// unless they were injected.
func (a *App) initDevices() error {
	ac := a.cfg.Audio
	if a.recorder == nil {
		r, err := audio.NewCommandRecorder(ac.RecordCommand, audio.WithRecordDir(a.cfg.Conversation.TempDir))
		if err != nil {
			return err
		}
		a.recorder = r
	}
	if a.player == nil {
		p, err := audio.NewCommandPlayer(ac.PlayCommand, audio.WithPlayDir(a.cfg.Conversation.TempDir))
		if err != nil {
			return err
		}
		a.player = p
	}
	if a.source != nil {
		return nil
	}

	switch {
	case ac.ClipboardDisabled():
		a.source = clipboard.Static{}
	case len(ac.ClipboardCommand) > 0:
		c, err := clipboard.NewCommand(ac.ClipboardCommand, ac.ClipboardMaxBytes)
		if err != nil {
			return err
		}
		a.source = c
	default:
		c, err := clipboard.Detect(ac.ClipboardMaxBytes)
		if errors.Is(err, clipboard.ErrNoTool) {
			a.logger.Warn("no clipboard tool found; questions are asked without context", "err", err)
			a.source = clipboard.Static{}
			return nil
		}
		if err != nil {
			return err
		}
		a.source = c
	}
	return nil
}

// initWorkers attaches the configured number of workers to every stage.
func (a *App) initWorkers() {
	wc := a.cfg.Workers
	pc := a.cfg.Providers
	popts := []pipeline.Option{
		pipeline.WithLogger(a.logger),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithIdleBackoff(wc.IdleMin, wc.IdleMax),
	}

	transcribe := convert.Transcriber(a.providers.STT,
		convert.WithMetrics(a.metrics), convert.WithProviderName(pc.STT.Name))
	for i := range wc.Transcription {
		a.workers.Add(pipeline.NewWorker(fmt.Sprintf("stt-%d", i), a.conv.Transcription(), transcribe, popts...))
	}

	gc := a.cfg.Generation
	generate := convert.Generator(a.providers.LLM, convert.GeneratorConfig{
		SystemPrompt:   gc.SystemPrompt,
		Temperature:    gc.Temperature,
		MaxTokens:      gc.MaxTokens,
		MinChunkTokens: gc.MinChunkTokens,
		ChunkTimeout:   gc.ChunkTimeout,
	}, convert.WithMetrics(a.metrics), convert.WithProviderName(pc.LLM.Name))
	for i := range wc.Generation {
		a.workers.Add(pipeline.NewStreamWorker(fmt.Sprintf("llm-%d", i), a.conv.Generation(), generate, popts...))
	}

	synthesize := convert.Synthesizer(a.providers.TTS,
		convert.WithMetrics(a.metrics), convert.WithProviderName(pc.TTS.Name))
	for i := range wc.Synthesis {
		a.workers.Add(pipeline.NewWorker(fmt.Sprintf("tts-%d", i), a.conv.Synthesis(), synthesize, popts...))
	}
}

// initHTTP builds the health, metrics and turn endpoints.
func (a *App) initHTTP() {
	checkers := []health.Checker{
		health.WorkersChecker(a.workers.Running),
		health.DirWritableChecker("temp_dir", a.conv.Dir()),
	}
	if f, ok := a.providers.STT.(*resilience.STTFallback); ok {
		checkers = append(checkers, health.ProviderChecker("stt", f.Group().Available))
	}
	if f, ok := a.providers.LLM.(*resilience.LLMFallback); ok {
		checkers = append(checkers, health.ProviderChecker("llm", f.Group().Available))
	}
	if f, ok := a.providers.TTS.(*resilience.TTSFallback); ok {
		checkers = append(checkers, health.ProviderChecker("tts", f.Group().Available))
	}

	h := health.New(
		health.WithChecker(checkers...),
		health.WithTurns(a.conv),
		health.WithGatherer(a.gatherer),
	)
	mux := http.NewServeMux()
	h.Register(mux)
	a.handler = observe.Middleware(a.metrics)(mux)

	if a.cfg.Server.ListenAddr != "" {
		a.server = &http.Server{
			Addr:    a.cfg.Server.ListenAddr,
			Handler: a.handler,
		}
	}
}

// Conversation returns the conversation driven by the app.
func (a *App) Conversation() *conversation.Conversation { return a.conv }

// Handler returns the HTTP handler serving the health, metrics and turn
// endpoints.
func (a *App) Handler() http.Handler { return a.handler }

// Addr returns the address the HTTP endpoint listens on, or "" if it is not
// running.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the workers and the HTTP endpoint, then runs one conversation
// turn each time trig fires. It returns nil once trig reports io.EOF or ctx
// is cancelled. A failed turn is logged and does not end the loop.
//
// Cancelling ctx stops the loop between turns. A turn already in progress
// runs to completion unless it is still going when the turn grace period
// expires, in which case it is cancelled.
func (a *App) Run(ctx context.Context, trig trigger.Trigger) error {
	if err := a.startHTTP(); err != nil {
		return err
	}
	a.workers.Start(a.workCtx)

	for {
		if ctx.Err() != nil {
			return nil
		}
		err := trig.Wait(ctx)
		switch {
		case errors.Is(err, io.EOF):
			a.logger.Info("no more turns requested")
			return nil
		case ctx.Err() != nil:
			return nil
		case err != nil:
			return fmt.Errorf("app: wait for trigger: %w", err)
		}

		turnCtx, done := a.turnContext(ctx)
		rec, err := a.conv.Turn(turnCtx)
		done()
		if err != nil {
			a.logger.Warn("turn failed", "turn", rec.Turn, "outcome", rec.Outcome, "err", err)
		}
	}
}

// turnContext returns a context for one turn that ignores the cancellation
// of ctx for the turn grace period. The returned function releases it.
func (a *App) turnContext(ctx context.Context) (context.Context, context.CancelFunc) {
	turnCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	var grace *time.Timer
	var mu sync.Mutex
	stop := context.AfterFunc(ctx, func() {
		a.logger.Info("stop requested; finishing the current turn", "grace", a.turnGrace)
		mu.Lock()
		grace = time.AfterFunc(a.turnGrace, func() {
			a.logger.Warn("turn did not finish within the grace period; cancelling it")
			cancel()
		})
		mu.Unlock()
	})
	return turnCtx, func() {
		stop()
		mu.Lock()
		if grace != nil {
			grace.Stop()
		}
		mu.Unlock()
		cancel()
	}
}

// startHTTP binds the listener synchronously so that address errors surface
// from Run and serves on a background goroutine.
func (a *App) startHTTP() error {
	if a.server == nil {
		return nil
	}
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", a.server.Addr, err)
	}
	a.listener = ln
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", "err", err)
		}
	}()
	a.logger.Info("http endpoint listening", "addr", ln.Addr().String())
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the workers, the HTTP endpoint and removes the
// conversation directory. It respects the context deadline: conversions
// still running when ctx expires are cancelled and abandoned, and the
// context error is part of the returned error.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "workers", len(a.workers.Runners()))

		if err := a.workers.Stop(ctx); err != nil {
			a.logger.Warn("workers did not stop in time", "err", err)
			errs = append(errs, err)
		}
		a.workCancel()
		if a.listener != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				a.logger.Warn("http shutdown error", "err", err)
				errs = append(errs, err)
			}
		}
		if err := a.conv.Close(); err != nil {
			a.logger.Warn("conversation close error", "err", err)
			errs = append(errs, err)
		}

		a.logger.Info("shutdown complete")
	})
	return errors.Join(errs...)
}
