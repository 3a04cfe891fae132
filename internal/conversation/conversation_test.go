package conversation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/murmur/internal/convert"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/pipeline"
	"github.com/MrWong99/murmur/pkg/audio"
	audiomock "github.com/MrWong99/murmur/pkg/audio/mock"
	"github.com/MrWong99/murmur/pkg/clipboard"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	llmmock "github.com/MrWong99/murmur/pkg/provider/llm/mock"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	sttmock "github.com/MrWong99/murmur/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/murmur/pkg/provider/tts/mock"
	"github.com/MrWong99/murmur/pkg/task"
)

// ---- harness ----

var questionClip = audio.Clip{
	Data:     make([]byte, 3200),
	Encoding: audio.EncodingPCM,
	Format:   audio.SpeechFormat,
}

type harness struct {
	conv     *Conversation
	recorder *audiomock.Recorder
	player   *audiomock.Player
	stt      *sttmock.Provider
	llm      *llmmock.Provider
	tts      *ttsmock.Provider
}

type fixture struct {
	cfg        Config
	stt        *sttmock.Provider
	llm        *llmmock.Provider
	tts        *ttsmock.Provider
	source     clipboard.Source
	ttsWorkers int
	noSTT      bool
}

// fastPoller keeps tests quick.
var fastPoller = pipeline.Poller{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2}

func newHarness(t *testing.T, f fixture) *harness {
	t.Helper()

	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if f.stt == nil {
		f.stt = &sttmock.Provider{Result: stt.Transcript{Text: "hello world"}}
	}
	if f.llm == nil {
		f.llm = &llmmock.Provider{}
	}
	if f.tts == nil {
		f.tts = &ttsmock.Provider{}
	}
	if f.ttsWorkers == 0 {
		f.ttsWorkers = 1
	}
	if f.cfg.TempDir == "" {
		f.cfg.TempDir = t.TempDir()
	}
	if f.cfg.Poller == (pipeline.Poller{}) {
		f.cfg.Poller = fastPoller
	}

	h := &harness{
		recorder: &audiomock.Recorder{Clip: questionClip},
		player:   &audiomock.Player{},
		stt:      f.stt,
		llm:      f.llm,
		tts:      f.tts,
	}
	h.conv, err = New(f.cfg, h.recorder, h.player, f.source,
		WithLogger(logger),
		WithMetrics(m),
		WithID("conv"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = h.conv.Close() })

	wopts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(m),
		pipeline.WithIdleBackoff(time.Millisecond, 5*time.Millisecond),
	}
	copts := []convert.Option{convert.WithMetrics(m)}

	var g pipeline.Group
	if !f.noSTT {
		g.Add(pipeline.NewWorker("stt", h.conv.Transcription(), convert.Transcriber(f.stt, copts...), wopts...))
	}
	g.Add(pipeline.NewStreamWorker("llm", h.conv.Generation(),
		convert.Generator(f.llm, convert.GeneratorConfig{MinChunkTokens: 1, ChunkTimeout: time.Second}, copts...), wopts...))
	for range f.ttsWorkers {
		g.Add(pipeline.NewWorker("tts", h.conv.Synthesis(), convert.Synthesizer(f.tts, copts...), wopts...))
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.Start(ctx)
	t.Cleanup(func() {
		cancel()
		stopCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = g.Stop(stopCtx)
	})
	return h
}

func turnCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// answer builds a finished stream of single-word tokens.
func answer(words ...string) []llm.Chunk {
	var out []llm.Chunk
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		out = append(out, llm.Chunk{Text: w})
	}
	return append(out, llm.Chunk{FinishReason: "stop"})
}

// ---- tests ----

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{TempDir: t.TempDir()}, nil, &audiomock.Player{}, nil); err == nil {
		t.Error("New with nil recorder: want error")
	}
	if _, err := New(Config{TempDir: t.TempDir()}, &audiomock.Recorder{}, nil, nil); err == nil {
		t.Error("New with nil player: want error")
	}
}

func TestNew_CreatesTempDirAndUniqueIDs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	a, err := New(Config{TempDir: root}, &audiomock.Recorder{}, &audiomock.Player{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(Config{TempDir: root}, &audiomock.Recorder{}, &audiomock.Player{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("ids = %q, %q; want distinct non-empty", a.ID(), b.ID())
	}
	if a.Dir() != filepath.Join(root, a.ID()) {
		t.Errorf("Dir = %q", a.Dir())
	}
	if fi, err := os.Stat(a.Dir()); err != nil || !fi.IsDir() {
		t.Errorf("temp dir not created: %v", err)
	}
}

func TestTurn_HappyPath(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{
		llm:    &llmmock.Provider{StreamChunks: answer("Hi", "there.", "How", "are", "you?")},
		source: clipboard.Static{Text: "some copied text"},
	})

	rec, err := h.conv.Turn(turnCtx(t))
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if rec.Outcome != OutcomeOK {
		t.Errorf("outcome = %q, want ok", rec.Outcome)
	}
	if rec.Question != "hello world" || rec.FallbackQuestion {
		t.Errorf("question = %q (fallback %v)", rec.Question, rec.FallbackQuestion)
	}
	if rec.Context != "some copied text" {
		t.Errorf("context = %q", rec.Context)
	}

	// The generation request carries the context and the transcribed question.
	calls := h.llm.Calls()
	if len(calls) != 1 {
		t.Fatalf("llm calls = %d, want 1", len(calls))
	}
	msg := calls[0].Req.Messages[0].Content
	if msg != "CONTEXTS:\nsome copied text\n\nQUESTION:\nhello world" {
		t.Errorf("prompt = %q", msg)
	}

	played := h.player.PlayedText()
	want := []string{"Hi there.", "How are you?"}
	if strings.Join(played, "|") != strings.Join(want, "|") {
		t.Errorf("played = %q, want %q", played, want)
	}
	if rec.Played != 2 || rec.Skipped != 0 {
		t.Errorf("played/skipped = %d/%d", rec.Played, rec.Skipped)
	}

	wantIDs := []task.ID{
		"TASK_conv_STT_1",
		"TASK_conv_LLM_1",
		"TASK_conv_TTS_1_0",
		"TASK_conv_TTS_1_1",
	}
	if len(rec.TaskIDs) != len(wantIDs) {
		t.Fatalf("task ids = %v, want %v", rec.TaskIDs, wantIDs)
	}
	for i := range wantIDs {
		if rec.TaskIDs[i] != wantIDs[i] {
			t.Errorf("task id[%d] = %q, want %q", i, rec.TaskIDs[i], wantIDs[i])
		}
	}
}

func TestTurn_PlaysInChunkOrderRegardlessOfSynthesisOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{
		llm: &llmmock.Provider{StreamChunks: answer("One.", "Two.", "Three.")},
		tts: &ttsmock.Provider{Delays: map[string]time.Duration{
			"One.":   150 * time.Millisecond,
			"Three.": 50 * time.Millisecond,
		}},
		ttsWorkers: 3,
	})

	if _, err := h.conv.Turn(turnCtx(t)); err != nil {
		t.Fatalf("Turn: %v", err)
	}

	finished := h.tts.Finished()
	if len(finished) != 3 {
		t.Fatalf("synthesized %q, want 3 clips", finished)
	}
	if slices.Index(finished, "Two.") > slices.Index(finished, "One.") {
		t.Errorf("synthesis completed in order %q, want Two. before One.", finished)
	}
	played := h.player.PlayedText()
	if strings.Join(played, " ") != "One. Two. Three." {
		t.Errorf("played = %q, want chunk order", played)
	}
}

func TestTurn_TranscriptionTimeoutUsesDefaultQuestion(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{
		cfg: Config{
			TranscriptionTimeout: 30 * time.Millisecond,
			DefaultQuestion:      "What is this?",
		},
		llm:   &llmmock.Provider{StreamChunks: answer("Fine.")},
		noSTT: true,
	})

	rec, err := h.conv.Turn(turnCtx(t))
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if rec.Question != "What is this?" || !rec.FallbackQuestion {
		t.Errorf("question = %q (fallback %v), want default", rec.Question, rec.FallbackQuestion)
	}
	if rec.Outcome != OutcomeDegraded {
		t.Errorf("outcome = %q, want degraded", rec.Outcome)
	}
	if got := h.player.PlayedText(); len(got) != 1 || got[0] != "Fine." {
		t.Errorf("played = %q", got)
	}
}

func TestTurn_FallbackQuestion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		stt  *sttmock.Provider
	}{
		{name: "blank transcript", stt: &sttmock.Provider{Result: stt.Transcript{Text: "   "}}},
		{name: "transcription error", stt: &sttmock.Provider{Err: errors.New("backend down")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, fixture{
				stt: tt.stt,
				llm: &llmmock.Provider{StreamChunks: answer("Ok.")},
			})
			rec, err := h.conv.Turn(turnCtx(t))
			if err != nil {
				t.Fatalf("Turn: %v", err)
			}
			if rec.Question != DefaultQuestion || !rec.FallbackQuestion {
				t.Errorf("question = %q (fallback %v)", rec.Question, rec.FallbackQuestion)
			}
		})
	}
}

func TestTurn_EmptyAnswerPlaysNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{llm: &llmmock.Provider{StreamChunks: answer()}})

	rec, err := h.conv.Turn(turnCtx(t))
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if len(h.player.Played()) != 0 {
		t.Errorf("played %d clips, want 0", len(h.player.Played()))
	}
	if len(h.tts.Texts()) != 0 {
		t.Errorf("synthesis calls = %d, want 0", len(h.tts.Texts()))
	}
	if rec.Outcome != OutcomeDegraded {
		t.Errorf("outcome = %q, want degraded", rec.Outcome)
	}
}

func TestTurn_GenerationErrorPlaysPartialAnswer(t *testing.T) {
	t.Parallel()

	chunks := []llm.Chunk{{Text: "Partial."}, {FinishReason: llm.FinishReasonError}}
	h := newHarness(t, fixture{llm: &llmmock.Provider{StreamChunks: chunks}})

	rec, err := h.conv.Turn(turnCtx(t))
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if got := h.player.PlayedText(); len(got) != 1 || got[0] != "Partial." {
		t.Errorf("played = %q, want the chunk emitted before the failure", got)
	}
	if rec.Played != 1 {
		t.Errorf("played = %d, want 1", rec.Played)
	}
}

func TestTurn_GenerationIdleTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{
		cfg: Config{GenerationIdleTimeout: 50 * time.Millisecond},
		// Hang keeps the stream open; the generator's own chunk timeout is
		// longer than the idle timeout, so the orchestrator gives up first.
		llm: &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Started."}}, Hang: true},
	})

	rec, err := h.conv.Turn(turnCtx(t))
	if !errors.Is(err, ErrGenerationTimeout) {
		t.Fatalf("Turn error = %v, want ErrGenerationTimeout", err)
	}
	if rec.Outcome != OutcomeDegraded {
		t.Errorf("outcome = %q, want degraded", rec.Outcome)
	}
	if got := h.player.PlayedText(); len(got) != 1 || got[0] != "Started." {
		t.Errorf("played = %q, want the chunk that arrived", got)
	}
}

func TestTurn_SkipsFailedSynthesis(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{
		llm: &llmmock.Provider{StreamChunks: answer("One.", "Two.", "Three.")},
		tts: &ttsmock.Provider{Errs: map[string]error{"Two.": errors.New("voice unavailable")}},
	})

	rec, err := h.conv.Turn(turnCtx(t))
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if got := strings.Join(h.player.PlayedText(), " "); got != "One. Three." {
		t.Errorf("played = %q", got)
	}
	if rec.Played != 2 || rec.Skipped != 1 || rec.Outcome != OutcomeDegraded {
		t.Errorf("played/skipped/outcome = %d/%d/%q", rec.Played, rec.Skipped, rec.Outcome)
	}
}

func TestTurn_SkipsSlowSynthesis(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{
		cfg:        Config{SynthesisTimeout: 50 * time.Millisecond},
		llm:        &llmmock.Provider{StreamChunks: answer("Slow.", "Fast.")},
		tts:        &ttsmock.Provider{Delays: map[string]time.Duration{"Slow.": time.Second}},
		ttsWorkers: 2,
	})

	rec, err := h.conv.Turn(turnCtx(t))
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if got := h.player.PlayedText(); len(got) != 1 || got[0] != "Fast." {
		t.Errorf("played = %q", got)
	}
	if rec.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", rec.Skipped)
	}
}

// TestTurn_AbandonedSynthesisIsNotConverted checks that synthesis tasks
// still queued when a turn gives up on them never reach the backend.
func TestTurn_AbandonedSynthesisIsNotConverted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{
		cfg: Config{SynthesisTimeout: 20 * time.Millisecond},
		llm: &llmmock.Provider{StreamChunks: answer("A.", "B.", "C.", "D.")},
		tts: &ttsmock.Provider{Delay: 60 * time.Millisecond},
	})

	rec, _ := h.conv.Turn(turnCtx(t))
	if rec.Played == 4 {
		t.Fatal("every clip arrived in time; nothing was abandoned")
	}
	calls := len(h.tts.Texts())

	time.Sleep(300 * time.Millisecond)
	if after := len(h.tts.Texts()); after != calls {
		t.Errorf("synthesis calls grew from %d to %d after the turn ended", calls, after)
	}
}

func TestTurn_RecordFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{})
	h.recorder.Err = errors.New("no microphone")

	rec, err := h.conv.Turn(turnCtx(t))
	if err == nil {
		t.Fatal("Turn: want error")
	}
	if rec.Outcome != OutcomeFailed {
		t.Errorf("outcome = %q, want failed", rec.Outcome)
	}
	if h.stt.CallCount() != 0 {
		t.Error("transcription ran without a recording")
	}
}

func TestTurn_Cancelled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{
		stt: &sttmock.Provider{Result: stt.Transcript{Text: "q"}, Delay: time.Second},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	rec, err := h.conv.Turn(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Turn error = %v, want deadline exceeded", err)
	}
	if rec.Outcome != OutcomeCancelled {
		t.Errorf("outcome = %q, want cancelled", rec.Outcome)
	}
}

func TestTurn_ReleasesTaskBookkeeping(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{llm: &llmmock.Provider{StreamChunks: answer("Done.")}})

	if _, err := h.conv.Turn(turnCtx(t)); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if n := h.conv.Transcription().Store().Size() + h.conv.Generation().Store().Size() + h.conv.Synthesis().Store().Size(); n != 0 {
		t.Errorf("stores still track %d ids after the turn", n)
	}
	if _, err := os.Stat(filepath.Join(h.conv.Dir(), "input_1.wav")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("recording not removed: %v", err)
	}
}

func TestTurn_KeepAudio(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{
		cfg: Config{KeepAudio: true},
		llm: &llmmock.Provider{StreamChunks: answer("Done.")},
	})

	if _, err := h.conv.Turn(turnCtx(t)); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	clip, err := audio.ReadFile(filepath.Join(h.conv.Dir(), "input_1.wav"))
	if err != nil {
		t.Fatalf("recording not kept: %v", err)
	}
	if clip.Format != audio.SpeechFormat {
		t.Errorf("format = %v", clip.Format)
	}
}

func TestTurn_NumbersTurnsAndKeepsHistory(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{
		cfg: Config{HistorySize: 2},
		llm: &llmmock.Provider{StreamChunks: answer("Yes.")},
	})

	for range 3 {
		if _, err := h.conv.Turn(turnCtx(t)); err != nil {
			t.Fatalf("Turn: %v", err)
		}
	}
	if h.conv.Turns() != 3 {
		t.Errorf("Turns = %d, want 3", h.conv.Turns())
	}
	hist := h.conv.History()
	if len(hist) != 2 {
		t.Fatalf("history = %d records, want 2", len(hist))
	}
	if hist[0].Turn != 2 || hist[1].Turn != 3 {
		t.Errorf("history turns = %d, %d; want 2, 3", hist[0].Turn, hist[1].Turn)
	}
	if hist[1].TaskIDs[0] != "TASK_conv_STT_3" {
		t.Errorf("turn 3 stt id = %q", hist[1].TaskIDs[0])
	}
}

func TestClose_RemovesTempDir(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{cfg: Config{KeepAudio: true}, llm: &llmmock.Provider{StreamChunks: answer("Bye.")}})
	if _, err := h.conv.Turn(turnCtx(t)); err != nil {
		t.Fatalf("Turn: %v", err)
	}

	if err := h.conv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(h.conv.Dir()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temp dir still present: %v", err)
	}
	if err := h.conv.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestExcerpt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"truncate me", 8, "truncate…"},
		{"héllo wörld", 5, "héllo…"},
	}
	for _, tt := range tests {
		if got := excerpt(tt.in, tt.n); got != tt.want {
			t.Errorf("excerpt(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
