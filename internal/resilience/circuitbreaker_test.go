package resilience

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

func ok() error   { return nil }
func fail() error { return errTest }

// transitions records every state change of a breaker.
type transitions struct {
	mu  sync.Mutex
	log []string
}

func (tr *transitions) record(_ string, from, to State) {
	tr.mu.Lock()
	tr.log = append(tr.log, from.String()+"->"+to.String())
	tr.mu.Unlock()
}

func (tr *transitions) get() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return slices.Clone(tr.log)
}

func newBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *transitions) {
	tr := &transitions{}
	cfg.Name = "whisper"
	cfg.OnStateChange = tr.record
	return NewCircuitBreaker(cfg), tr
}

func run(cb *CircuitBreaker, calls ...func() error) {
	for _, c := range calls {
		_ = cb.Execute(c)
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test"})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = %d/%v/%d, want 5/30s/3", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Transitions(t *testing.T) {
	t.Parallel()

	const reset = 10 * time.Millisecond

	tests := []struct {
		name    string
		before  []func() error // run while closed
		wait    bool           // sleep past the reset timeout
		after   []func() error // run after the optional wait
		want    State
		viaAPI  bool // compare State() instead of the raw state
		changes []string
	}{
		{
			name:   "failures below threshold stay closed",
			before: []func() error{fail, fail},
			want:   StateClosed,
		},
		{
			name:    "threshold opens",
			before:  []func() error{fail, fail, fail},
			want:    StateOpen,
			changes: []string{"closed->open"},
		},
		{
			name:   "success resets the count",
			before: []func() error{fail, fail, ok, fail, fail},
			want:   StateClosed,
		},
		{
			name:    "open reports half-open after the timeout",
			before:  []func() error{fail, fail, fail},
			wait:    true,
			want:    StateHalfOpen,
			viaAPI:  true,
			changes: []string{"closed->open"},
		},
		{
			name:    "successful probes close",
			before:  []func() error{fail, fail, fail},
			wait:    true,
			after:   []func() error{ok, ok},
			want:    StateClosed,
			changes: []string{"closed->open", "open->half-open", "half-open->closed"},
		},
		{
			name:    "failed probe re-opens",
			before:  []func() error{fail, fail, fail},
			wait:    true,
			after:   []func() error{ok, fail},
			want:    StateOpen,
			changes: []string{"closed->open", "open->half-open", "half-open->open"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cb, tr := newBreaker(CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: reset, HalfOpenMax: 2})

			run(cb, tc.before...)
			if tc.wait {
				time.Sleep(reset + 5*time.Millisecond)
			}
			run(cb, tc.after...)

			// State() reports an expired open breaker as half-open; the
			// re-open case must not depend on timing.
			cb.mu.Lock()
			got := cb.state
			cb.mu.Unlock()
			if tc.viaAPI {
				got = cb.State()
			}
			if got != tc.want {
				t.Errorf("state = %v, want %v", got, tc.want)
			}
			if changes := tr.get(); !slices.Equal(changes, tc.changes) {
				t.Errorf("transitions = %v, want %v", changes, tc.changes)
			}
		})
	}
}

func TestCircuitBreaker_OpenRejectsWithoutCalling(t *testing.T) {
	t.Parallel()

	cb, _ := newBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	run(cb, fail)

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn called while open")
	}
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	t.Parallel()

	cb, _ := newBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: 5 * time.Millisecond, HalfOpenMax: 1})
	run(cb, fail)
	time.Sleep(10 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb, tr := newBreaker(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})
	run(cb, fail, fail)

	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", cb.State())
	}
	if err := cb.Execute(ok); err != nil {
		t.Fatalf("Execute after reset: %v", err)
	}
	want := []string{"closed->open", "open->closed"}
	if got := tr.get(); !slices.Equal(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}

	// Resetting a closed breaker is silent.
	cb.Reset()
	if got := tr.get(); len(got) != 2 {
		t.Errorf("transitions after no-op reset = %v", got)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestCircuitBreaker_CancellationIsNotFailure(t *testing.T) {
	t.Parallel()

	cb, _ := newBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	for _, err := range []error{
		context.Canceled,
		fmt.Errorf("synthesize: %w", context.DeadlineExceeded),
	} {
		if got := cb.Execute(func() error { return err }); !errors.Is(got, err) {
			t.Fatalf("Execute = %v, want %v", got, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_CustomClassifier(t *testing.T) {
	t.Parallel()

	errBadInput := errors.New("bad input")
	cb, _ := newBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Hour,
		IsFailure:    func(err error) bool { return !errors.Is(err, errBadInput) },
	})

	run(cb, func() error { return errBadInput })
	if cb.State() != StateClosed {
		t.Fatalf("state after ignored error = %v, want closed", cb.State())
	}
	run(cb, fail)
	if cb.State() != StateOpen {
		t.Fatalf("state after failure = %v, want open", cb.State())
	}
}
