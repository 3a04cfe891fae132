package pipeline

import (
	"runtime"
	"sync"
	"testing"
)

func TestQueue_FIFO(t *testing.T) {
	t.Parallel()

	var q Queue[int]
	if _, ok := q.TryDequeue(); ok {
		t.Fatal("TryDequeue on empty queue returned an item")
	}
	for i := range 5 {
		q.Enqueue(i)
	}
	if q.Len() != 5 {
		t.Fatalf("Len = %d, want 5", q.Len())
	}
	for want := range 5 {
		got, ok := q.TryDequeue()
		if !ok || got != want {
			t.Fatalf("TryDequeue = %d, %v; want %d, true", got, ok, want)
		}
	}
	if _, ok := q.TryDequeue(); ok {
		t.Error("queue not empty after draining")
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0", q.Len())
	}
}

func TestQueue_ExactlyOnceUnderConcurrentConsumers(t *testing.T) {
	t.Parallel()

	const items = 2000
	const consumers = 8

	var q Queue[int]
	var (
		mu   sync.Mutex
		seen = make(map[int]int, items)
		wg   sync.WaitGroup
	)

	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		for i := range items {
			q.Enqueue(i)
		}
	}()

	for range consumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, ok := q.TryDequeue()
				if !ok {
					select {
					case <-producerDone:
						if q.Len() == 0 {
							return
						}
					default:
					}
					runtime.Gosched()
					continue
				}
				mu.Lock()
				seen[v]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != items {
		t.Fatalf("dequeued %d distinct items, want %d", len(seen), items)
	}
	for v, n := range seen {
		if n != 1 {
			t.Fatalf("item %d dequeued %d times", v, n)
		}
	}
}

func TestQueue_SingleProducerOrderWithConcurrentConsumer(t *testing.T) {
	t.Parallel()

	const items = 1000
	var q Queue[int]

	out := make(chan int, items)
	go func() {
		for n := 0; n < items; {
			v, ok := q.TryDequeue()
			if !ok {
				runtime.Gosched()
				continue
			}
			out <- v
			n++
		}
		close(out)
	}()
	for i := range items {
		q.Enqueue(i)
	}

	want := 0
	for v := range out {
		if v != want {
			t.Fatalf("got %d, want %d", v, want)
		}
		want++
	}
}
