package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/murmur/pkg/task"
)

// Runner is the lifecycle surface shared by all [Worker] instantiations.
type Runner interface {
	Name() string
	Start(ctx context.Context)
	Stop()
	Done() <-chan struct{}
	Running() bool
}

var _ Runner = (*Worker[task.Transcription, string])(nil)

// Group starts and stops a set of workers together.
type Group struct {
	mu      sync.Mutex
	runners []Runner
}

// Add registers runners with the group. Runners added after [Group.Start]
// must be started by the caller.
func (g *Group) Add(runners ...Runner) {
	g.mu.Lock()
	g.runners = append(g.runners, runners...)
	g.mu.Unlock()
}

// Runners returns a copy of the registered runners.
func (g *Group) Runners() []Runner {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Runner, len(g.runners))
	copy(out, g.runners)
	return out
}

// Start starts every registered runner with ctx.
func (g *Group) Start(ctx context.Context) {
	for _, r := range g.Runners() {
		r.Start(ctx)
	}
}

// Stop stops all runners concurrently and waits for them. If ctx expires
// first, Stop returns ctx.Err() while the remaining runners keep finishing
// their in-flight conversions in the background.
func (g *Group) Stop(ctx context.Context) error {
	var eg errgroup.Group
	for _, r := range g.Runners() {
		eg.Go(func() error {
			r.Stop()
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- eg.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running returns how many of the registered runners are active.
func (g *Group) Running() (running, total int) {
	rs := g.Runners()
	for _, r := range rs {
		if r.Running() {
			running++
		}
	}
	return running, len(rs)
}
