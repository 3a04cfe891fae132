// Package mock provides in-memory implementations of [audio.Recorder] and
// [audio.Player] for unit tests.
//
// Both mocks are safe for concurrent use and record every call so tests can
// assert on call counts and the order in which clips were played.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/murmur/pkg/audio"
)

// ─── Recorder ────────────────────────────────────────────────────────────────

// Recorder is a mock [audio.Recorder]. Each call to Record returns the next
// entry of Clips (the last one repeats), or Clip when Clips is empty.
type Recorder struct {
	mu sync.Mutex

	// Clip is returned when Clips is empty.
	Clip audio.Clip

	// Clips are returned one per call.
	Clips []audio.Clip

	// Err, when non-nil, is returned instead of a clip.
	Err error

	// CallCount records how many times Record was called.
	CallCount int
}

// Record implements [audio.Recorder].
func (r *Recorder) Record(ctx context.Context) (audio.Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCount++
	if err := ctx.Err(); err != nil {
		return audio.Clip{}, err
	}
	if r.Err != nil {
		return audio.Clip{}, r.Err
	}
	if len(r.Clips) == 0 {
		return r.Clip, nil
	}
	idx := min(r.CallCount-1, len(r.Clips)-1)
	return r.Clips[idx], nil
}

// ─── Player ──────────────────────────────────────────────────────────────────

// Player is a mock [audio.Player] that records played clips in order.
type Player struct {
	mu sync.Mutex

	// Delay simulates playback time per clip.
	Delay time.Duration

	// Err, when non-nil, is returned from every Play call after recording it.
	Err error

	// OnPlay, when set, is called with every clip as its playback starts.
	OnPlay func(audio.Clip)

	played []audio.Clip
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, clip audio.Clip) error {
	p.mu.Lock()
	p.played = append(p.played, clip)
	delay, err, hook := p.Delay, p.Err, p.OnPlay
	p.mu.Unlock()

	if hook != nil {
		hook(clip)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Played returns a copy of the clips passed to Play, in call order.
func (p *Player) Played() []audio.Clip {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]audio.Clip, len(p.played))
	copy(out, p.played)
	return out
}

// PlayedText returns the Data of every played clip as a string. Convenient
// when a synthesis mock encodes the input text as clip bytes.
func (p *Player) PlayedText() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.played))
	for i, c := range p.played {
		out[i] = string(c.Data)
	}
	return out
}

var (
	_ audio.Recorder = (*Recorder)(nil)
	_ audio.Player   = (*Player)(nil)
)
