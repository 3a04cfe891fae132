package task

// Status is the lifecycle marker a result store keeps per task id.
//
// The zero value is StatusUnknown: a store reports it for every id it has
// never registered (or has already forgotten). Registered tasks move
// monotonically through PENDING → RUNNING → FINISHED. There is no failure
// state; a failed conversion is a FINISHED task without results.
type Status int

const (
	// StatusUnknown is reported for ids the store has never seen.
	StatusUnknown Status = iota

	// StatusPending means the task is registered and waiting in its queue.
	StatusPending

	// StatusRunning means a worker has dequeued the task and is converting it.
	StatusRunning

	// StatusFinished means no further results will ever be appended.
	StatusFinished
)

// String returns the upper-case name of s.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusRunning:
		return "RUNNING"
	case StatusFinished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether s is the final status of a task.
func (s Status) Terminal() bool { return s == StatusFinished }

// CanTransition reports whether a registered task may move from one status to
// another. Repeating the current status is allowed so that idempotent writers
// do not trip the check.
func CanTransition(from, to Status) bool {
	if from == to {
		return from != StatusUnknown
	}
	switch from {
	case StatusUnknown:
		return to == StatusPending
	case StatusPending:
		return to == StatusRunning || to == StatusFinished
	case StatusRunning:
		return to == StatusFinished
	default:
		return false
	}
}
