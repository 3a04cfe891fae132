// Package audio defines the audio value type that flows through the Murmur
// pipeline and the two device abstractions the orchestrator consumes:
//
//   - [Recorder] captures one spoken question per turn.
//   - [Player] plays one synthesised clip, blocking until it finished.
//
// A [Clip] is an encoded (WAV, MP3) or raw (PCM) buffer together with its
// format. Transcription providers receive clips from a Recorder, synthesis
// providers return clips that are handed to a Player unchanged.
//
// Implementations backed by external commands live in this package
// ([CommandRecorder], [CommandPlayer]); in-memory fakes live in audio/mock.
package audio

import "context"

// Recorder captures audio from an input device.
//
// Implementations must be safe for concurrent use, but the orchestrator only
// ever records one clip at a time.
type Recorder interface {
	// Record captures a single utterance and returns it. Record blocks until
	// the recording finished or ctx is cancelled; on cancellation it returns
	// ctx.Err() (possibly wrapped).
	Record(ctx context.Context) (Clip, error)
}

// Player renders a clip on an output device.
type Player interface {
	// Play blocks until the clip has been played completely, playback failed,
	// or ctx is cancelled.
	Play(ctx context.Context, clip Clip) error
}
