package pipeline

import (
	"log/slog"
	"sync"

	"github.com/MrWong99/murmur/pkg/task"
)

// record is the per-task entry of a Store.
type record[R any] struct {
	status  task.Status
	results []R
}

// Store maps task ids to an ordered, append-only list of results and a
// lifecycle status.
//
// A single mutex guards every entry and is held only for the map operation
// itself. Results are never reordered or replaced: once index i is visible,
// indices below i are visible too and every read of them returns the same
// value.
//
// Misuse (double registration, appends to unknown ids, backwards status
// transitions) is ignored and logged at debug level; it indicates a
// bookkeeping bug in the caller, not a runtime condition.
type Store[R any] struct {
	mu      sync.Mutex
	records map[task.ID]*record[R]
	logger  *slog.Logger
}

// NewStore returns an empty Store. A nil logger selects [slog.Default].
func NewStore[R any](logger *slog.Logger) *Store[R] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store[R]{
		records: make(map[task.ID]*record[R]),
		logger:  logger,
	}
}

// Register creates the entry for id with status PENDING and no results.
// Registering an id twice keeps the first entry.
func (s *Store[R]) Register(id task.ID) {
	s.mu.Lock()
	_, dup := s.records[id]
	if !dup {
		s.records[id] = &record[R]{status: task.StatusPending}
	}
	s.mu.Unlock()

	if dup {
		s.logger.Debug("ignoring duplicate task registration", "task_id", id)
	}
}

// Append adds r to the end of the result list of id. Appending to an id that
// was never registered (or was forgotten) is a no-op.
func (s *Store[R]) Append(id task.ID, r R) {
	s.mu.Lock()
	rec, ok := s.records[id]
	if ok {
		rec.results = append(rec.results, r)
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("dropping result for unregistered task", "task_id", id)
	}
}

// SetStatus moves id to status st. Transitions that [task.CanTransition]
// rejects, including any change to an unregistered id, are ignored.
func (s *Store[R]) SetStatus(id task.ID, st task.Status) {
	s.mu.Lock()
	from := task.StatusUnknown
	rec, ok := s.records[id]
	if ok {
		from = rec.status
	}
	allowed := ok && task.CanTransition(from, st)
	if allowed {
		rec.status = st
	}
	s.mu.Unlock()

	if !allowed {
		s.logger.Debug("ignoring invalid status transition",
			"task_id", id,
			"from", from,
			"to", st,
		)
	}
}

// Status returns the status of id, or [task.StatusUnknown] if the store has
// never seen it.
func (s *Store[R]) Status(id task.ID) task.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[id]; ok {
		return rec.status
	}
	return task.StatusUnknown
}

// Result returns the result at index i of id. The boolean is false if that
// index is not present yet; callers decide whether it ever will be from the
// task's status.
func (s *Store[R]) Result(id task.ID, i int) (R, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero R
	rec, ok := s.records[id]
	if !ok || i < 0 || i >= len(rec.results) {
		return zero, false
	}
	return rec.results[i], true
}

// HasResult reports whether at least one result exists for id.
func (s *Store[R]) HasResult(id task.ID) bool {
	return s.Len(id) > 0
}

// Len returns the number of results recorded for id.
func (s *Store[R]) Len(id task.ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[id]; ok {
		return len(rec.results)
	}
	return 0
}

// Forget drops the entry of id. Later appends for id become no-ops and its
// status reads as UNKNOWN again.
func (s *Store[R]) Forget(id task.ID) {
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
}

// Size returns the number of tracked task ids.
func (s *Store[R]) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
