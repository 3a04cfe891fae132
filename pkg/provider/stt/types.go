package stt

import "time"

// Transcript is the result of transcribing one clip.
type Transcript struct {
	// Text is the transcribed speech content, trimmed of surrounding space.
	Text string

	// Language is the language the backend detected or was told to use.
	// May be empty.
	Language string

	// Duration is the length of the transcribed audio when the backend or the
	// clip reports it.
	Duration time.Duration
}
