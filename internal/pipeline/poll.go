package pipeline

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by [Poller.Until] when the condition did not hold
// within the timeout.
var ErrTimeout = errors.New("pipeline: poll timed out")

// DefaultPoller is used by the orchestrator unless configured otherwise.
var DefaultPoller = Poller{
	Initial:    10 * time.Millisecond,
	Max:        250 * time.Millisecond,
	Multiplier: 2,
}

// Poller re-checks a condition at growing intervals: Initial, then
// multiplied by Multiplier after every miss, capped at Max.
type Poller struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Until calls cond until it returns true, the timeout elapses or ctx is done.
// It returns nil, [ErrTimeout] or ctx.Err() respectively. cond is always
// called at least once; a non-positive timeout waits for ctx alone.
func (p Poller) Until(ctx context.Context, timeout time.Duration, cond func() bool) error {
	p = p.normalized()

	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	interval := p.Initial
	for {
		if cond() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		wait := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return ctx.Err()
		case <-deadline:
			wait.Stop()
			// One last look: the condition may have become true while we slept.
			if cond() {
				return nil
			}
			return ErrTimeout
		case <-wait.C:
		}
		interval = min(time.Duration(float64(interval)*p.Multiplier), p.Max)
	}
}

func (p Poller) normalized() Poller {
	if p.Initial <= 0 {
		p.Initial = DefaultPoller.Initial
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	return p
}
