package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/murmur/pkg/provider/llm"
)

// errEmptyStream marks a stream that closed before sending anything.
var errEmptyStream = errors.New("resilience: stream closed without output")

// LLMFallback implements [llm.Provider] with automatic failover across
// several LLM backends, each behind its own circuit breaker.
//
// A backend counts as failed when opening the stream fails or when the
// stream ends or reports an error before its first text chunk. Once text has
// been forwarded the answer is committed to that backend: a later error chunk
// reaches the caller unchanged.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Group returns the underlying fallback group.
func (f *LLMFallback) Group() *FallbackGroup[llm.Provider] { return f.group }

// StreamCompletion implements [llm.Provider].
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		// Each attempt gets its own context so an abandoned stream stops.
		attemptCtx, cancel := context.WithCancel(ctx)
		ch, err := p.StreamCompletion(attemptCtx, req)
		if err != nil {
			cancel()
			return nil, err
		}
		first, err := firstText(attemptCtx, ch)
		if err != nil {
			cancel()
			go llm.Drain(ch)
			return nil, err
		}
		return resume(attemptCtx, cancel, first, ch), nil
	})
}

// firstText reads ch up to and including the first chunk with text or a
// regular finish reason.
func firstText(ctx context.Context, ch <-chan llm.Chunk) (llm.Chunk, error) {
	for {
		select {
		case <-ctx.Done():
			return llm.Chunk{}, ctx.Err()
		case c, ok := <-ch:
			switch {
			case !ok:
				return llm.Chunk{}, errEmptyStream
			case c.FinishReason == llm.FinishReasonError:
				return llm.Chunk{}, fmt.Errorf("resilience: stream failed: %s", c.Text)
			case c.Text != "" || c.FinishReason != "":
				return c, nil
			}
		}
	}
}

// resume returns a channel that yields first followed by the rest of ch.
func resume(ctx context.Context, cancel context.CancelFunc, first llm.Chunk, ch <-chan llm.Chunk) <-chan llm.Chunk {
	out := make(chan llm.Chunk, cap(ch)+1)
	out <- first
	go func() {
		defer cancel()
		defer close(out)
		for c := range ch {
			select {
			case out <- c:
			case <-ctx.Done():
				go llm.Drain(ch)
				return
			}
		}
	}()
	return out
}
