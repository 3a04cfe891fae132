// Package conversation drives the record → transcribe → generate → synthesize
// → play turn of a voice conversation.
//
// A [Conversation] owns the three pipeline stages of one conversation and
// submits tasks to them; workers attached from outside (see internal/app)
// perform the conversions. Turns run strictly one after another. Within a
// turn the orchestrator only polls stage stores: it never blocks on a worker
// and never lets a missing result stall the turn indefinitely.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/pipeline"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/clipboard"
	"github.com/MrWong99/murmur/pkg/task"
)

// Defaults applied by [New] to zero-valued [Config] fields.
const (
	DefaultQuestion              = "Please summarize the context."
	DefaultTranscriptionTimeout  = 30 * time.Second
	DefaultGenerationIdleTimeout = 30 * time.Second
	DefaultGenerationTimeout     = 2 * time.Minute
	DefaultSynthesisTimeout      = 30 * time.Second
	DefaultContextTimeout        = 2 * time.Second
	DefaultHistorySize           = 32
)

// contextExcerptRunes bounds the context text kept in a [TurnRecord].
const contextExcerptRunes = 200

// ErrUnknownTask is returned when a stage store forgets a task the
// orchestrator is still waiting on. It indicates a bookkeeping bug.
var ErrUnknownTask = errors.New("conversation: task unknown to its stage")

// ErrGenerationTimeout is returned when the generation stage produced no new
// chunk within the idle timeout or did not finish within the overall timeout.
var ErrGenerationTimeout = errors.New("conversation: generation timed out")

// Config tunes a [Conversation]. Zero values select the package defaults.
type Config struct {
	// TempDir is the parent of the per-conversation directory that holds the
	// recorded questions. Default: <os.TempDir()>/murmur.
	TempDir string

	// DefaultQuestion is asked when transcription yields nothing in time.
	DefaultQuestion string

	// TranscriptionTimeout bounds the wait for the transcribed question.
	TranscriptionTimeout time.Duration

	// GenerationIdleTimeout bounds the wait for the next answer chunk.
	GenerationIdleTimeout time.Duration

	// GenerationTimeout bounds the whole answer.
	GenerationTimeout time.Duration

	// SynthesisTimeout bounds the wait for each clip before it is skipped.
	SynthesisTimeout time.Duration

	// ContextTimeout bounds the context snapshot.
	ContextTimeout time.Duration

	// KeepAudio keeps recorded questions on disk after their turn.
	KeepAudio bool

	// HistorySize is the number of turn records kept for [Conversation.History].
	HistorySize int

	// Poller paces every store poll. Zero selects [pipeline.DefaultPoller].
	Poller pipeline.Poller
}

func (c *Config) applyDefaults() {
	if c.TempDir == "" {
		c.TempDir = filepath.Join(os.TempDir(), "murmur")
	}
	if c.DefaultQuestion == "" {
		c.DefaultQuestion = DefaultQuestion
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
	if c.Poller == (pipeline.Poller{}) {
		c.Poller = pipeline.DefaultPoller
	}
}

// Option configures a [Conversation].
type Option func(*Conversation)

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Conversation) { c.logger = l }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Conversation) { c.metrics = m }
}

// WithID overrides the generated conversation id.
func WithID(id string) Option {
	return func(c *Conversation) { c.id = id }
}

// Conversation orchestrates the turns of one voice conversation.
//
// All methods are safe for concurrent use, but [Conversation.Turn] calls are
// serialised: a second call waits for the first to return.
type Conversation struct {
	id  string
	dir string
	cfg Config

	recorder audio.Recorder
	player   audio.Player
	source   clipboard.Source

	stt *pipeline.Stage[task.Transcription, string]
	llm *pipeline.Stage[task.Generation, string]
	tts *pipeline.Stage[task.Synthesis, audio.Clip]

	logger  *slog.Logger
	metrics *observe.Metrics

	turnMu sync.Mutex
	turn   int

	histMu  sync.Mutex
	history []TurnRecord

	closeOnce sync.Once
	closeErr  error
}

// New creates a conversation with a fresh id and its temp directory. A nil
// source behaves like an empty clipboard.
func New(cfg Config, rec audio.Recorder, player audio.Player, source clipboard.Source, opts ...Option) (*Conversation, error) {
	if rec == nil {
		return nil, errors.New("conversation: recorder must not be nil")
	}
	if player == nil {
		return nil, errors.New("conversation: player must not be nil")
	}
	if source == nil {
		source = clipboard.Static{}
	}
	cfg.applyDefaults()

	c := &Conversation{
		cfg:      cfg,
		recorder: rec,
		player:   player,
		source:   source,
	}
	for _, o := range opts {
		o(c)
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.logger = c.logger.With("component", "conversation", "conversation", c.id)

	c.dir = filepath.Join(cfg.TempDir, c.id)
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return nil, fmt.Errorf("conversation: create temp dir: %w", err)
	}

	stageOpts := []pipeline.Option{
		pipeline.WithLogger(c.logger),
		pipeline.WithMetrics(c.metrics),
	}
	c.stt = pipeline.NewStage[task.Transcription, string](task.StageTranscription, stageOpts...)
	c.llm = pipeline.NewStage[task.Generation, string](task.StageGeneration, stageOpts...)
	c.tts = pipeline.NewStage[task.Synthesis, audio.Clip](task.StageSynthesis, stageOpts...)
	return c, nil
}

// ID returns the conversation id.
func (c *Conversation) ID() string { return c.id }

// Dir returns the conversation's temp directory.
func (c *Conversation) Dir() string { return c.dir }

// Transcription returns the stage that transcription workers serve.
func (c *Conversation) Transcription() *pipeline.Stage[task.Transcription, string] { return c.stt }

// Generation returns the stage that generation workers serve.
func (c *Conversation) Generation() *pipeline.Stage[task.Generation, string] { return c.llm }

// Synthesis returns the stage that synthesis workers serve.
func (c *Conversation) Synthesis() *pipeline.Stage[task.Synthesis, audio.Clip] { return c.tts }

// Turns returns the number of turns started so far.
func (c *Conversation) Turns() int {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	return c.turn
}

// History returns copies of the most recent turn records, oldest first.
func (c *Conversation) History() []TurnRecord {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	out := make([]TurnRecord, len(c.history))
	for i := range c.history {
		out[i] = c.history[i].clone()
	}
	return out
}

// Close removes the conversation's temp directory. It is idempotent.
func (c *Conversation) Close() error {
	c.closeOnce.Do(func() {
		if err := os.RemoveAll(c.dir); err != nil {
			c.closeErr = fmt.Errorf("conversation: remove temp dir: %w", err)
		}
	})
	return c.closeErr
}

// Turn runs one complete turn: it records the question, has it transcribed
// while snapshotting the context source, streams the answer into synthesis
// tasks as chunks arrive and finally plays every clip in chunk order.
//
// A missing transcript falls back to [Config.DefaultQuestion]; clips that do
// not arrive in time are skipped. The returned record is never nil. The
// error is non-nil when the turn failed, was cancelled or lost part of its
// answer; the record's Outcome tells these apart.
func (c *Conversation) Turn(ctx context.Context) (*TurnRecord, error) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	c.turn++
	turn := c.turn
	rec := &TurnRecord{
		Conversation: c.id,
		Turn:         turn,
		StartedAt:    time.Now(),
		Outcome:      OutcomeOK,
	}

	ctx, span := observe.StartSpan(ctx, "conversation.turn",
		trace.WithAttributes(
			attribute.String("murmur.conversation", c.id),
			attribute.Int("murmur.turn", turn),
		),
	)
	defer span.End()
	log := observe.WithSpan(ctx, c.logger).With("turn", turn)

	err := c.runTurn(ctx, log, rec)
	if err != nil {
		span.RecordError(err)
		rec.Error = err.Error()
		switch {
		case ctx.Err() != nil:
			rec.Outcome = OutcomeCancelled
		case rec.Outcome == OutcomeOK:
			rec.Outcome = OutcomeDegraded
		}
	}
	c.release(log, rec)

	elapsed := time.Since(rec.StartedAt)
	rec.Duration = Duration(elapsed)
	c.metrics.RecordTurn(context.WithoutCancel(ctx), string(rec.Outcome), elapsed)
	c.remember(*rec)

	log.Info("turn finished",
		"outcome", rec.Outcome,
		"chunks", len(rec.Chunks),
		"played", rec.Played,
		"skipped", rec.Skipped,
		"duration", elapsed,
	)
	return rec, err
}

func (c *Conversation) runTurn(ctx context.Context, log *slog.Logger, rec *TurnRecord) error {
	// ---- record ----
	clip, err := c.recorder.Record(ctx)
	if err != nil {
		rec.Outcome = OutcomeFailed
		return fmt.Errorf("conversation: record: %w", err)
	}
	if clip.Empty() {
		rec.Outcome = OutcomeFailed
		return errors.New("conversation: record: empty recording")
	}
	path := filepath.Join(c.dir, fmt.Sprintf("input_%d.wav", rec.Turn))
	if err := clip.WriteFile(path); err != nil {
		log.Warn("could not persist recording", "error", err)
		path = ""
	}

	sttID := task.NewID(c.id, task.StageTranscription, rec.Turn)
	rec.TaskIDs = append(rec.TaskIDs, sttID)
	c.stt.Submit(task.Transcription{ID: sttID, Turn: rec.Turn, Audio: clip, Path: path})

	// ---- context snapshot, concurrent with transcription ----
	snapshot := make(chan string, 1)
	go func() { snapshot <- c.snapshot(ctx, log) }()

	// ---- question ----
	question, fallback, err := c.awaitQuestion(ctx, log, sttID)
	if err != nil {
		return err
	}
	rec.Question = question
	rec.FallbackQuestion = fallback
	if fallback {
		rec.degrade()
	}

	var contextText string
	select {
	case contextText = <-snapshot:
	case <-ctx.Done():
		return ctx.Err()
	}
	rec.Context = excerpt(contextText, contextExcerptRunes)

	// ---- generation and fan-out ----
	genID := task.NewID(c.id, task.StageGeneration, rec.Turn)
	rec.TaskIDs = append(rec.TaskIDs, genID)
	c.llm.Submit(task.Generation{ID: genID, Turn: rec.Turn, Context: contextText, Question: question})

	synthIDs, genErr := c.fanOut(ctx, log, genID, rec)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// ---- playback ----
	// Clips that did arrive are played even when generation was cut short.
	if err := c.play(ctx, log, synthIDs, rec); err != nil {
		return err
	}
	return genErr
}

// snapshot reads the context source. Failures yield empty context.
func (c *Conversation) snapshot(ctx context.Context, log *slog.Logger) string {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ContextTimeout)
	defer cancel()
	text, err := c.source.Snapshot(ctx)
	if err != nil {
		log.Warn("context snapshot failed, continuing without context", "error", err)
		return ""
	}
	return text
}

// awaitQuestion waits for the transcript of id. The boolean reports whether
// the default question was substituted.
func (c *Conversation) awaitQuestion(ctx context.Context, log *slog.Logger, id task.ID) (string, bool, error) {
	store := c.stt.Store()
	var (
		text string
		ok   bool
	)
	err := c.cfg.Poller.Until(ctx, c.cfg.TranscriptionTimeout, func() bool {
		st := store.Status(id)
		text, ok = store.Result(id, 0)
		return ok || st == task.StatusFinished || st == task.StatusUnknown
	})
	if ctx.Err() != nil {
		return "", false, ctx.Err()
	}
	text = strings.TrimSpace(text)

	switch {
	case errors.Is(err, pipeline.ErrTimeout):
		log.Warn("transcription timed out, using default question",
			"task_id", id,
			"timeout", c.cfg.TranscriptionTimeout,
		)
	case !ok:
		log.Warn("transcription produced no result, using default question", "task_id", id)
	case text == "":
		log.Info("nothing was said, using default question", "task_id", id)
	default:
		log.Info("question transcribed", "task_id", id, "question", text)
		return text, false, nil
	}
	return c.cfg.DefaultQuestion, true, nil
}

// fanOut follows the generation task and submits one synthesis task per new
// chunk, in emission order. It returns once generation has finished (or was
// given up on) and every chunk has been handed to synthesis.
func (c *Conversation) fanOut(ctx context.Context, log *slog.Logger, genID task.ID, rec *TurnRecord) ([]task.ID, error) {
	store := c.llm.Store()
	gctx, cancel := context.WithTimeout(ctx, c.cfg.GenerationTimeout)
	defer cancel()

	var ids []task.ID
	next := 0
	for {
		var st task.Status
		err := c.cfg.Poller.Until(gctx, c.cfg.GenerationIdleTimeout, func() bool {
			// Status first: a FINISHED read guarantees every result is visible.
			st = store.Status(genID)
			return (st != task.StatusPending && st != task.StatusRunning) || store.Len(genID) > next
		})

		for {
			text, ok := store.Result(genID, next)
			if !ok {
				break
			}
			id := task.NewIndexedID(c.id, task.StageSynthesis, rec.Turn, next)
			c.tts.Submit(task.Synthesis{ID: id, Turn: rec.Turn, Index: next, Text: text})
			ids = append(ids, id)
			rec.TaskIDs = append(rec.TaskIDs, id)
			rec.Chunks = append(rec.Chunks, text)
			c.metrics.GenerationChunks.Add(context.WithoutCancel(ctx), 1)
			log.Debug("chunk submitted for synthesis", "task_id", id, "index", next)
			next++
		}

		switch {
		case ctx.Err() != nil:
			return ids, ctx.Err()
		case err != nil:
			// Idle timeout or overall deadline.
			log.Warn("generation timed out, playing what arrived",
				"task_id", genID,
				"chunks", next,
				"error", err,
			)
			rec.degrade()
			return ids, ErrGenerationTimeout
		case st == task.StatusUnknown:
			log.Error("generation task vanished from its store", "task_id", genID)
			rec.degrade()
			return ids, fmt.Errorf("%w: %s", ErrUnknownTask, genID)
		case st == task.StatusFinished:
			if next == 0 {
				log.Warn("generation finished without an answer", "task_id", genID)
				rec.degrade()
			}
			return ids, nil
		}
	}
}

// play waits for each synthesis task in order and plays its clip. A clip that
// does not arrive within the synthesis timeout is skipped.
func (c *Conversation) play(ctx context.Context, log *slog.Logger, ids []task.ID, rec *TurnRecord) error {
	store := c.tts.Store()
	for _, id := range ids {
		var (
			clip audio.Clip
			ok   bool
		)
		err := c.cfg.Poller.Until(ctx, c.cfg.SynthesisTimeout, func() bool {
			st := store.Status(id)
			clip, ok = store.Result(id, 0)
			return ok || st == task.StatusFinished || st == task.StatusUnknown
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !ok {
			rec.Skipped++
			rec.degrade()
			c.metrics.RecordPlayback(context.WithoutCancel(ctx), "skipped")
			log.Warn("skipping chunk without audio", "task_id", id, "error", err)
			continue
		}

		if err := c.player.Play(ctx, clip); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rec.Skipped++
			rec.degrade()
			c.metrics.RecordPlayback(context.WithoutCancel(ctx), "failed")
			log.Warn("playback failed", "task_id", id, "error", err)
			continue
		}
		rec.Played++
		c.metrics.RecordPlayback(context.WithoutCancel(ctx), "played")
	}
	return nil
}

// release drops every id of the turn from the stage stores and removes the
// recorded question.
func (c *Conversation) release(log *slog.Logger, rec *TurnRecord) {
	for _, id := range rec.TaskIDs {
		c.stt.Store().Forget(id)
		c.llm.Store().Forget(id)
		c.tts.Store().Forget(id)
	}
	if c.cfg.KeepAudio {
		return
	}
	path := filepath.Join(c.dir, fmt.Sprintf("input_%d.wav", rec.Turn))
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("could not remove recording", "path", path, "error", err)
	}
}

func (c *Conversation) remember(rec TurnRecord) {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	c.history = append(c.history, rec)
	if over := len(c.history) - c.cfg.HistorySize; over > 0 {
		c.history = append(c.history[:0:0], c.history[over:]...)
	}
}

// excerpt truncates s to at most n runes, marking the cut with an ellipsis.
func excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
