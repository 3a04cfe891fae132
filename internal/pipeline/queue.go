package pipeline

import "sync"

// Queue is an unbounded, mutex-guarded FIFO of tasks for one stage.
//
// Enqueue never blocks and never rejects. TryDequeue never blocks; idling on
// an empty queue is the consumer's job. Every enqueued item is handed to
// exactly one TryDequeue caller, however many consumers there are.
//
// The zero value is an empty queue ready for use.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

// Enqueue appends item to the tail of the queue.
func (q *Queue[T]) Enqueue(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// TryDequeue removes and returns the head of the queue. The boolean is false
// when the queue is empty.
func (q *Queue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero // release the reference for the GC
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return item, true
}

// Len returns the number of queued items. The value is stale as soon as it
// is returned and is meant for metrics and health output only.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
