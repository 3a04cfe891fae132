package trigger

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestLine(t *testing.T) {
	t.Parallel()

	l := NewLine(strings.NewReader("\n\nq\nignored\n"))
	ctx := context.Background()

	for i := range 2 {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait #%d = %v, want nil", i, err)
		}
	}
	if err := l.Wait(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Wait on quit = %v, want io.EOF", err)
	}
}

func TestLine_EndOfInput(t *testing.T) {
	t.Parallel()

	l := NewLine(strings.NewReader("go\n"))
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait = %v", err)
	}
	if err := l.Wait(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Wait at EOF = %v, want io.EOF", err)
	}
	if err := l.Wait(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("repeated Wait at EOF = %v, want io.EOF", err)
	}
}

func TestLine_Cancelled(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer pw.Close()

	l := NewLine(pr)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait = %v, want deadline exceeded", err)
	}
}

func TestCount(t *testing.T) {
	t.Parallel()

	tr := Count(2)
	ctx := context.Background()
	if tr.Wait(ctx) != nil || tr.Wait(ctx) != nil {
		t.Fatal("expected two turns")
	}
	if err := tr.Wait(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("third Wait = %v, want io.EOF", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := Count(5).Wait(cancelled); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait on cancelled ctx = %v", err)
	}
}
