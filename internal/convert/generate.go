package convert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/murmur/internal/pipeline"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	"github.com/MrWong99/murmur/pkg/task"
)

// ErrChunkTimeout is returned when the generation stream stays silent for
// longer than [GeneratorConfig.ChunkTimeout].
var ErrChunkTimeout = errors.New("convert: generation stream went silent")

// DefaultChunkTimeout is used when GeneratorConfig.ChunkTimeout is zero.
const DefaultChunkTimeout = 30 * time.Second

// GeneratorConfig configures the generation adapter.
type GeneratorConfig struct {
	// SystemPrompt frames every request. Empty selects DefaultSystemPrompt.
	SystemPrompt string

	// Temperature and MaxTokens are passed through to the provider; zero
	// values leave the provider default in place.
	Temperature float64
	MaxTokens   int

	// MinChunkTokens is the minimum number of stream tokens per chunk.
	MinChunkTokens int

	// ChunkTimeout bounds the silence between two stream tokens.
	ChunkTimeout time.Duration
}

// Generator returns the conversion function of the generation stage. It
// streams a completion for the task's context and question and emits the
// answer as sentence-aligned chunks.
//
// A provider error chunk or a silent stream fails the conversion; chunks
// emitted before that stay recorded.
func Generator(p llm.Provider, cfg GeneratorConfig, opts ...Option) pipeline.StreamFunc[task.Generation, string] {
	o := buildOptions("llm", opts)
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = DefaultChunkTimeout
	}

	return func(parent context.Context, t task.Generation, emit func(string)) (err error) {
		ctx, cancel := context.WithCancel(parent)
		defer cancel()
		defer func() { o.record(ctx, "llm", err) }()

		req := BuildPrompt(cfg.SystemPrompt, t.Context, t.Question)
		req.Temperature = cfg.Temperature
		req.MaxTokens = cfg.MaxTokens

		// Fallback providers hold the call until the first token arrives, so
		// the silence bound already applies to opening the stream.
		opening := time.AfterFunc(cfg.ChunkTimeout, cancel)
		ch, err := p.StreamCompletion(ctx, req)
		if !opening.Stop() && parent.Err() == nil {
			if err == nil {
				go llm.Drain(ch)
			}
			return fmt.Errorf("%w before the stream opened", ErrChunkTimeout)
		}
		if err != nil {
			return fmt.Errorf("convert: generation: %w", err)
		}

		chunker := Chunker{MinTokens: cfg.MinChunkTokens}
		idle := time.NewTimer(cfg.ChunkTimeout)
		defer idle.Stop()

		for {
			select {
			case <-ctx.Done():
				go llm.Drain(ch)
				return ctx.Err()
			case <-idle.C:
				cancel()
				go llm.Drain(ch)
				return fmt.Errorf("%w after %s", ErrChunkTimeout, cfg.ChunkTimeout)
			case c, ok := <-ch:
				if !ok {
					if text, ok := chunker.Flush(); ok {
						emit(text)
					}
					return nil
				}
				if c.FinishReason == llm.FinishReasonError {
					cancel()
					go llm.Drain(ch)
					return fmt.Errorf("convert: generation stream: %s", c.Text)
				}
				if text, ok := chunker.Push(c.Text); ok {
					emit(text)
				}
				idle.Reset(cfg.ChunkTimeout)
			}
		}
	}
}
