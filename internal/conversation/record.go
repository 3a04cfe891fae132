package conversation

import (
	"time"

	"github.com/MrWong99/murmur/pkg/task"
)

// Outcome summarises how a turn ended.
type Outcome string

const (
	// OutcomeOK means every step produced its result and every clip played.
	OutcomeOK Outcome = "ok"

	// OutcomeDegraded means the turn completed with a fallback: the default
	// question was used, generation was cut short, or clips were skipped.
	OutcomeDegraded Outcome = "degraded"

	// OutcomeFailed means the turn could not start, e.g. recording failed.
	OutcomeFailed Outcome = "failed"

	// OutcomeCancelled means the turn context ended before the turn did.
	OutcomeCancelled Outcome = "cancelled"
)

// TurnRecord is the bookkeeping of one turn: every task id issued, what was
// asked and how far the answer got.
type TurnRecord struct {
	Conversation string    `json:"conversation"`
	Turn         int       `json:"turn"`
	StartedAt    time.Time `json:"started_at"`
	Duration     Duration  `json:"duration"`

	Question         string `json:"question"`
	FallbackQuestion bool   `json:"fallback_question"`
	// Context is an excerpt of the context snapshot.
	Context string `json:"context"`

	TaskIDs []task.ID `json:"task_ids"`
	Chunks  []string  `json:"chunks"`
	Played  int       `json:"played"`
	Skipped int       `json:"skipped"`

	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

// degrade lowers an OK outcome to degraded and leaves worse outcomes alone.
func (r *TurnRecord) degrade() {
	if r.Outcome == OutcomeOK {
		r.Outcome = OutcomeDegraded
	}
}

// clone returns a deep copy of r.
func (r *TurnRecord) clone() TurnRecord {
	out := *r
	out.TaskIDs = append([]task.ID(nil), r.TaskIDs...)
	out.Chunks = append([]string(nil), r.Chunks...)
	return out
}

// Duration is a time.Duration that marshals to a human-readable string.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
