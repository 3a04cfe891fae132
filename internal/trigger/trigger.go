// Package trigger decides when the next conversation turn starts.
package trigger

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
)

// Trigger blocks until the user asks for a turn.
type Trigger interface {
	// Wait returns nil when a turn should start, io.EOF when no more turns
	// will be requested, or ctx.Err() when ctx is done first.
	Wait(ctx context.Context) error
}

// QuitCommand typed on its own line ends the session.
const QuitCommand = "q"

// Line triggers a turn on every line read from an input stream, usually
// stdin: the user presses Enter to start speaking. A line containing only
// [QuitCommand] or the end of the input ends the session.
type Line struct {
	r     io.Reader
	once  sync.Once
	lines chan string
}

var _ Trigger = (*Line)(nil)

// NewLine returns a Line trigger reading from r.
func NewLine(r io.Reader) *Line {
	return &Line{r: r, lines: make(chan string)}
}

// Wait implements Trigger.
func (l *Line) Wait(ctx context.Context) error {
	l.once.Do(func() { go l.scan() })

	select {
	case <-ctx.Done():
		return ctx.Err()
	case line, ok := <-l.lines:
		if !ok {
			return io.EOF
		}
		if strings.EqualFold(strings.TrimSpace(line), QuitCommand) {
			return io.EOF
		}
		return nil
	}
}

// scan feeds lines to Wait. The reading goroutine lives as long as the input
// stays open since a blocked Read cannot be interrupted.
func (l *Line) scan() {
	defer close(l.lines)
	sc := bufio.NewScanner(l.r)
	for sc.Scan() {
		l.lines <- sc.Text()
	}
}

// Func adapts a function to the Trigger interface.
type Func func(ctx context.Context) error

// Wait implements Trigger.
func (f Func) Wait(ctx context.Context) error { return f(ctx) }

// Count triggers n turns and then reports io.EOF. It runs scripted sessions
// without user input.
func Count(n int) Trigger {
	var mu sync.Mutex
	return Func(func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		if n <= 0 {
			return io.EOF
		}
		n--
		return nil
	})
}
