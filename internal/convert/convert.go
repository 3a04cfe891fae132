// Package convert adapts the provider interfaces to the conversion functions
// run by pipeline workers.
//
// Each adapter turns one task into its stage's result type: transcription
// yields the transcript text, generation yields sentence-sized response
// chunks and synthesis yields a playable clip. Provider calls are counted in
// the provider metrics.
package convert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/pipeline"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	"github.com/MrWong99/murmur/pkg/provider/tts"
	"github.com/MrWong99/murmur/pkg/task"
)

// Option configures an adapter.
type Option func(*options)

type options struct {
	provider string
	metrics  *observe.Metrics
}

// WithProviderName sets the provider label used in metrics.
func WithProviderName(name string) Option {
	return func(o *options) { o.provider = name }
}

// WithMetrics sets the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(kind string, opts []Option) options {
	o := options{provider: kind}
	for _, fn := range opts {
		fn(&o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// record counts one provider call.
func (o options) record(ctx context.Context, kind string, err error) {
	ctx = context.WithoutCancel(ctx)
	status := "ok"
	if err != nil {
		status = "error"
		o.metrics.RecordProviderError(ctx, o.provider, kind)
	}
	o.metrics.RecordProviderRequest(ctx, o.provider, kind, status)
}

// Transcriber returns the conversion function of the transcription stage. A
// blank transcript is returned as the empty string, not as an error.
func Transcriber(p stt.Provider, opts ...Option) pipeline.ConvertFunc[task.Transcription, string] {
	o := buildOptions("stt", opts)
	return func(ctx context.Context, t task.Transcription) (string, error) {
		clip := t.Audio
		if clip.Empty() && t.Path != "" {
			var err error
			if clip, err = audio.ReadFile(t.Path); err != nil {
				return "", fmt.Errorf("convert: transcription: %w", err)
			}
		}
		tr, err := p.Transcribe(ctx, clip)
		o.record(ctx, "stt", err)
		if err != nil {
			return "", fmt.Errorf("convert: transcription: %w", err)
		}
		return strings.TrimSpace(tr.Text), nil
	}
}

// Synthesizer returns the conversion function of the synthesis stage.
func Synthesizer(p tts.Provider, opts ...Option) pipeline.ConvertFunc[task.Synthesis, audio.Clip] {
	o := buildOptions("tts", opts)
	return func(ctx context.Context, t task.Synthesis) (audio.Clip, error) {
		clip, err := p.Synthesize(ctx, t.Text)
		o.record(ctx, "tts", err)
		if err != nil {
			return audio.Clip{}, fmt.Errorf("convert: synthesis: %w", err)
		}
		if clip.Empty() {
			return audio.Clip{}, errors.New("convert: synthesis: provider returned an empty clip")
		}
		return clip, nil
	}
}
