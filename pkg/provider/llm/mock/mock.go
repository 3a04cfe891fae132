// Package mock provides a scripted [llm.Provider] for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/murmur/pkg/provider/llm"
)

// StreamCall is one recorded StreamCompletion invocation.
type StreamCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider replays StreamChunks on every call. Configure it before first use.
type Provider struct {
	// StreamChunks is sent in order on each returned stream.
	StreamChunks []llm.Chunk

	// StreamErr makes StreamCompletion fail without opening a stream.
	StreamErr error

	// ChunkDelay is waited before each chunk.
	ChunkDelay time.Duration

	// Hang holds the stream open after the last chunk until the call's
	// context ends, like a backend that stalls mid-answer.
	Hang bool

	mu    sync.Mutex
	calls []StreamCall
}

var _ llm.Provider = (*Provider)(nil)

// StreamCompletion implements [llm.Provider].
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.calls = append(p.calls, StreamCall{Ctx: ctx, Req: req})
	p.mu.Unlock()

	if p.StreamErr != nil {
		return nil, p.StreamErr
	}

	ch := make(chan llm.Chunk, len(p.StreamChunks))
	go p.replay(ctx, ch)
	return ch, nil
}

func (p *Provider) replay(ctx context.Context, ch chan<- llm.Chunk) {
	defer close(ch)
	for _, c := range p.StreamChunks {
		if p.ChunkDelay > 0 {
			t := time.NewTimer(p.ChunkDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
		select {
		case <-ctx.Done():
			return
		case ch <- c:
		}
	}
	if p.Hang {
		<-ctx.Done()
	}
}

// Calls returns the recorded calls in order.
func (p *Provider) Calls() []StreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StreamCall(nil), p.calls...)
}
