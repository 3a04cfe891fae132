// Package mock provides a test double for the tts.Provider interface.
//
// Provider turns text into a PCM clip whose bytes are the text itself, which
// lets tests assert on playback order with plain string comparisons. Delays
// can be configured globally or per input text to make fragments finish out
// of order.
//
// Example:
//
//	p := &mock.Provider{Delays: map[string]time.Duration{"A.": 50 * time.Millisecond}}
//	clip, _ := p.Synthesize(ctx, "A.")
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Err, if non-nil, is returned from every Synthesize call.
	Err error

	// Errs maps input text to an error returned only for that text.
	Errs map[string]error

	// Delay is slept before every call returns.
	Delay time.Duration

	// Delays maps input text to an extra delay for that text.
	Delays map[string]time.Duration

	// --- Call records ---

	// Calls records every call to Synthesize in order of arrival.
	Calls []SynthesizeCall

	finished []string
}

// Synthesize records the call and returns a PCM clip containing text.
func (p *Provider) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, SynthesizeCall{Text: text})
	delay := p.Delay + p.Delays[text]
	err := p.Err
	if e, ok := p.Errs[text]; ok {
		err = e
	}
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return audio.Clip{}, ctx.Err()
		}
	}
	if err != nil {
		return audio.Clip{}, err
	}
	if text == "" {
		return audio.Clip{}, tts.ErrEmptyText
	}
	p.mu.Lock()
	p.finished = append(p.finished, text)
	p.mu.Unlock()
	return audio.Clip{Data: []byte(text), Encoding: audio.EncodingPCM, Format: audio.SpeechFormat}, nil
}

// Texts returns the texts of all recorded calls. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Text
	}
	return out
}

// Finished returns the texts of successful calls in the order they
// completed. Thread-safe.
func (p *Provider) Finished() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.finished...)
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
