// Package clipboard provides context sources for conversation turns: text the
// user copied before asking a question.
//
// [Command] reads the system clipboard through a platform tool (pbpaste,
// wl-paste, xclip, ...). [Static] returns fixed text and is used in tests and
// headless setups.
package clipboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"unicode/utf8"
)

// Source returns a snapshot of the current context text.
type Source interface {
	Snapshot(ctx context.Context) (string, error)
}

// ErrNoTool is returned by [Detect] when no clipboard tool is installed.
var ErrNoTool = errors.New("clipboard: no clipboard tool found")

// DefaultMaxBytes limits how much clipboard text is kept.
const DefaultMaxBytes = 16 << 10

// candidates lists clipboard read commands per GOOS in order of preference.
var candidates = map[string][][]string{
	"darwin":  {{"pbpaste"}},
	"linux":   {{"wl-paste", "--no-newline"}, {"xclip", "-selection", "clipboard", "-o"}, {"xsel", "--clipboard", "--output"}},
	"freebsd": {{"xclip", "-selection", "clipboard", "-o"}, {"xsel", "--clipboard", "--output"}},
	"windows": {{"powershell.exe", "-NoProfile", "-Command", "Get-Clipboard"}},
}

// Command reads the clipboard by running an external program and capturing
// its stdout.
type Command struct {
	argv     []string
	maxBytes int
}

var _ Source = (*Command)(nil)

// NewCommand returns a Command source running argv. maxBytes <= 0 selects
// DefaultMaxBytes.
func NewCommand(argv []string, maxBytes int) (*Command, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("clipboard: command must not be empty")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Command{argv: append([]string(nil), argv...), maxBytes: maxBytes}, nil
}

// Detect returns a Command for the first clipboard tool found on PATH for the
// running platform.
func Detect(maxBytes int) (*Command, error) {
	for _, argv := range candidates[runtime.GOOS] {
		if _, err := exec.LookPath(argv[0]); err == nil {
			return NewCommand(argv, maxBytes)
		}
	}
	return nil, fmt.Errorf("%w for %s", ErrNoTool, runtime.GOOS)
}

// Snapshot implements Source. Text longer than the byte limit is cut at a
// rune boundary.
func (c *Command) Snapshot(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("clipboard: %s: %w", c.argv[0], err)
		}
		return "", fmt.Errorf("clipboard: %s: %w: %s", c.argv[0], err, msg)
	}
	return truncate(strings.TrimSpace(stdout.String()), c.maxBytes), nil
}

// Static is a Source that always returns Text.
type Static struct {
	Text string
}

var _ Source = Static{}

// Snapshot implements Source.
func (s Static) Snapshot(context.Context) (string, error) { return s.Text, nil }

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
