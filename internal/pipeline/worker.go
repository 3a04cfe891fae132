package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/pkg/task"
)

// ConvertFunc converts one task into exactly one result. It is the shape of
// the transcription and synthesis stages.
type ConvertFunc[T task.Task, R any] func(ctx context.Context, t T) (R, error)

// StreamFunc converts one task into any number of ordered results, handing
// each to emit as soon as it is available. It is the shape of the generation
// stage. Results emitted before an error is returned are kept.
type StreamFunc[T task.Task, R any] func(ctx context.Context, t T, emit func(R)) error

// Worker drains one [Stage] on its own goroutine.
//
// For every dequeued task the worker marks it RUNNING, runs the conversion,
// appends every produced result and marks the task FINISHED. Conversion
// errors and panics are logged and counted; they end that task only and the
// loop carries on with the next one. Failed tasks are never requeued. A
// failed single-result task therefore reaches FINISHED without a result.
//
// A task whose id the store no longer tracks was dropped by its turn while
// it waited in the queue. The worker skips it without converting it.
//
// Several workers may serve the same stage; every task is converted at most
// once.
type Worker[T task.Task, R any] struct {
	name    string
	stage   *Stage[T, R]
	convert StreamFunc[T, R]

	logger  *slog.Logger
	metrics *observe.Metrics
	idleMin time.Duration
	idleMax time.Duration

	// mu orders Start against Stop.
	mu      sync.Mutex
	started bool
	stopped bool
	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}

	processed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
}

// NewWorker returns a worker for a single-result stage.
func NewWorker[T task.Task, R any](name string, stage *Stage[T, R], fn ConvertFunc[T, R], opts ...Option) *Worker[T, R] {
	return NewStreamWorker(name, stage, func(ctx context.Context, t T, emit func(R)) error {
		r, err := fn(ctx, t)
		if err != nil {
			return err
		}
		emit(r)
		return nil
	}, opts...)
}

// NewStreamWorker returns a worker for a stage whose tasks yield a stream of
// results.
func NewStreamWorker[T task.Task, R any](name string, stage *Stage[T, R], fn StreamFunc[T, R], opts ...Option) *Worker[T, R] {
	o := buildOptions(opts)
	return &Worker[T, R]{
		name:    name,
		stage:   stage,
		convert: fn,
		logger:  o.logger.With("component", "worker", "worker", name, "stage", string(stage.Kind())),
		metrics: o.metrics,
		idleMin: o.idleMin,
		idleMax: o.idleMax,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Name returns the worker's name.
func (w *Worker[T, R]) Name() string { return w.name }

// Start launches the worker loop on a new goroutine. Only the first call has
// an effect, and a worker that was already stopped never starts. The loop
// exits when [Worker.Stop] is called or ctx is cancelled; ctx is also the
// parent of every conversion context.
func (w *Worker[T, R]) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true
	w.running.Store(true)
	w.metrics.AddActiveWorkers(ctx, string(w.stage.Kind()), 1)
	go w.loop(ctx)
}

// Stop signals the loop to exit and blocks until it has. A conversion in
// flight is allowed to complete and its outcome is recorded before Stop
// returns. Stop is idempotent, and [Worker.Done] is closed once it returns
// even if the worker was never started.
func (w *Worker[T, R]) Stop() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stop)
		if !w.started {
			close(w.done)
		}
	}
	w.mu.Unlock()
	<-w.done
}

// Done returns a channel that is closed once the loop has exited.
func (w *Worker[T, R]) Done() <-chan struct{} { return w.done }

// Running reports whether the loop is active.
func (w *Worker[T, R]) Running() bool { return w.running.Load() }

// Stats returns how many tasks the worker converted and how many of them
// failed.
func (w *Worker[T, R]) Stats() (processed, failed int64) {
	return w.processed.Load(), w.failed.Load()
}

// Skipped returns how many dequeued tasks were dropped unconverted because
// the store had forgotten them.
func (w *Worker[T, R]) Skipped() int64 { return w.skipped.Load() }

// loop is the dequeue/convert cycle. An empty queue is retried after a sleep
// that doubles from idleMin up to idleMax and resets after every task.
func (w *Worker[T, R]) loop(ctx context.Context) {
	defer close(w.done)
	defer func() {
		w.running.Store(false)
		w.metrics.AddActiveWorkers(context.WithoutCancel(ctx), string(w.stage.Kind()), -1)
	}()

	w.logger.Debug("worker started")
	idle := w.idleMin
	for {
		select {
		case <-w.stop:
			w.logger.Debug("worker stopped")
			return
		case <-ctx.Done():
			w.logger.Debug("worker context done", "error", ctx.Err())
			return
		default:
		}

		t, ok := w.stage.next()
		if ok {
			w.process(ctx, t)
			idle = w.idleMin
			continue
		}

		timer := time.NewTimer(idle)
		select {
		case <-w.stop:
			timer.Stop()
			w.logger.Debug("worker stopped")
			return
		case <-ctx.Done():
			timer.Stop()
			w.logger.Debug("worker context done", "error", ctx.Err())
			return
		case <-timer.C:
		}
		idle = min(idle*2, w.idleMax)
	}
}

// process converts one task and records its outcome.
func (w *Worker[T, R]) process(ctx context.Context, t T) {
	id := t.TaskID()
	store := w.stage.Store()
	stage := string(w.stage.Kind())

	if store.Status(id) == task.StatusUnknown {
		w.skipped.Add(1)
		w.metrics.RecordSkip(context.WithoutCancel(ctx), stage)
		w.logger.Debug("skipping forgotten task", "task_id", id)
		return
	}

	ctx, span := observe.StartTaskSpan(ctx, stage, id.String())
	defer span.End()
	log := observe.WithSpan(ctx, w.logger).With("task_id", id)

	start := time.Now()
	store.SetStatus(id, task.StatusRunning)

	var emitted int
	err := w.safeConvert(ctx, t, func(r R) {
		store.Append(id, r)
		emitted++
	})
	store.SetStatus(id, task.StatusFinished)

	elapsed := time.Since(start)
	w.processed.Add(1)

	outcome := observe.OutcomeOK
	if err != nil {
		w.failed.Add(1)
		outcome = observe.OutcomeError
		if _, isPanic := err.(*panicError); isPanic {
			outcome = observe.OutcomePanic
		}
		span.RecordError(err)
		log.Warn("conversion failed",
			"error", err,
			"results", emitted,
			"duration", elapsed,
		)
	} else {
		log.Debug("conversion finished", "results", emitted, "duration", elapsed)
	}
	w.metrics.RecordTask(context.WithoutCancel(ctx), stage, outcome, elapsed)
}

// panicError carries a recovered panic out of a conversion function.
type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprintf("conversion panicked: %v", e.value) }

// safeConvert runs the conversion and turns a panic into an error.
func (w *Worker[T, R]) safeConvert(ctx context.Context, t T, emit func(R)) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &panicError{value: v}
		}
	}()
	return w.convert(ctx, t, emit)
}
