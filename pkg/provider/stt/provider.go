// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription service (a local whisper.cpp
// server, the OpenAI audio API or any OpenAI-compatible server such as
// faster-whisper-server) and exposes a single blocking call: one recorded
// clip in, one transcript out.
//
// Implementations must be safe for concurrent use; several transcription
// workers may share one Provider.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/murmur/pkg/audio"
)

// ErrEmptyAudio is returned by providers when asked to transcribe a clip
// without audio data.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts clip to text. It blocks until the backend answered
	// or ctx is cancelled.
	//
	// A successful call may return a Transcript with empty Text when the
	// recording contained no recognisable speech; callers decide how to treat
	// silence.
	Transcribe(ctx context.Context, clip audio.Clip) (Transcript, error)
}
