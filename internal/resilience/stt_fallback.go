package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/stt"
)

// ErrNoAudio is returned by [STTFallback.Transcribe] for an empty clip. No
// backend is contacted, so no breaker is charged for the caller's mistake.
var ErrNoAudio = errors.New("resilience: clip has no audio")

// STTFallback implements [stt.Provider] on top of a [FallbackGroup] of
// transcription backends.
//
// A blank transcript is a valid answer (the user said nothing) and is
// returned as is rather than retried elsewhere.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback wraps primary; further backends are added with
// [STTFallback.AddFallback].
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend that is tried after all earlier ones.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Group exposes the breaker states for health reporting.
func (f *STTFallback) Group() *FallbackGroup[stt.Provider] { return f.group }

// Transcribe hands the same clip to each backend in turn until one answers.
func (f *STTFallback) Transcribe(ctx context.Context, clip audio.Clip) (stt.Transcript, error) {
	if clip.Empty() {
		return stt.Transcript{}, ErrNoAudio
	}
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, clip)
	})
}
