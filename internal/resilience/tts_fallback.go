package resilience

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/tts"
)

var (
	// ErrNoText is returned by [TTSFallback.Synthesize] for blank input
	// without contacting any backend.
	ErrNoText = errors.New("resilience: nothing to synthesize")

	// errEmptyClip is charged to a backend that reported success but
	// returned no audio.
	errEmptyClip = errors.New("resilience: backend returned an empty clip")
)

// TTSFallback implements [tts.Provider] on top of a [FallbackGroup] of
// synthesis backends.
//
// Backends usually differ in voice, so a chunk voiced by a fallback sounds
// different from its neighbours. That is preferred over a gap in the answer.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback wraps primary; further backends are added with
// [TTSFallback.AddFallback].
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend that is tried after all earlier ones.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Group exposes the breaker states for health reporting.
func (f *TTSFallback) Group() *FallbackGroup[tts.Provider] { return f.group }

// Synthesize voices text with the first backend that returns a non-empty
// clip.
func (f *TTSFallback) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	if strings.TrimSpace(text) == "" {
		return audio.Clip{}, ErrNoText
	}
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (audio.Clip, error) {
		clip, err := p.Synthesize(ctx, text)
		if err == nil && clip.Empty() {
			return audio.Clip{}, errEmptyClip
		}
		return clip, err
	})
}
