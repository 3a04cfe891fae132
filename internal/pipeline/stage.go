package pipeline

import (
	"context"

	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/pkg/task"
)

// Stage pairs the queue and the result store of one conversion kind. Tasks
// of type T go in, results of type R come out.
//
// A Stage belongs to one conversation and is shared by pointer between that
// conversation's orchestrator and the workers serving the stage.
type Stage[T task.Task, R any] struct {
	kind    task.Stage
	queue   Queue[T]
	store   *Store[R]
	metrics *observe.Metrics
}

// NewStage returns an empty stage of the given kind. Only [WithLogger] and
// [WithMetrics] apply.
func NewStage[T task.Task, R any](kind task.Stage, opts ...Option) *Stage[T, R] {
	o := buildOptions(opts)
	return &Stage[T, R]{
		kind:    kind,
		store:   NewStore[R](o.logger.With("stage", string(kind))),
		metrics: o.metrics,
	}
}

// Kind returns the conversion kind served by the stage.
func (s *Stage[T, R]) Kind() task.Stage { return s.kind }

// Store returns the stage's result store.
func (s *Stage[T, R]) Store() *Store[R] { return s.store }

// Pending returns the number of tasks waiting to be picked up.
func (s *Stage[T, R]) Pending() int { return s.queue.Len() }

// Submit registers t in the store and then enqueues it. Registration always
// happens first, so a worker can never record results for an id the store
// does not know yet.
func (s *Stage[T, R]) Submit(t T) {
	s.store.Register(t.TaskID())
	s.queue.Enqueue(t)
	s.metrics.AddQueueDepth(context.Background(), string(s.kind), 1)
}

// next dequeues the next task for a worker.
func (s *Stage[T, R]) next() (T, bool) {
	t, ok := s.queue.TryDequeue()
	if ok {
		s.metrics.AddQueueDepth(context.Background(), string(s.kind), -1)
	}
	return t, ok
}
