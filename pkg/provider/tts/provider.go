// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (a local Coqui or MeloTTS
// server, the OpenAI speech API, Amazon Polly, ...) and turns one piece of
// text into one playable [audio.Clip]. The voice, language and output format
// are fixed when the provider is constructed, so the synthesis stage only
// deals with text.
//
// Implementations must be safe for concurrent use. Several synthesis workers
// may call Synthesize in parallel; the orchestrator restores playback order.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/murmur/pkg/audio"
)

// ErrEmptyText is returned when asked to synthesise blank text.
var ErrEmptyText = errors.New("tts: empty text")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text to audio. It blocks until the backend returned
	// the complete clip or ctx is cancelled. A nil error guarantees a
	// non-empty clip.
	Synthesize(ctx context.Context, text string) (audio.Clip, error)
}
