package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Placeholders substituted in command arguments.
const (
	// OutputPlaceholder is replaced with the file a recorder command writes.
	OutputPlaceholder = "{output}"

	// InputPlaceholder is replaced with the file a player command reads.
	InputPlaceholder = "{input}"
)

// ─── Recorder ────────────────────────────────────────────────────────────────

// CommandRecorder records by running an external program (arecord, sox, ffmpeg)
// that writes a WAV file to the path substituted for {output}.
//
// Example:
//
//	rec, _ := audio.NewCommandRecorder([]string{
//	    "arecord", "-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-d", "6", "{output}",
//	})
type CommandRecorder struct {
	argv   []string
	tmpDir string
}

// RecorderOption configures a [CommandRecorder].
type RecorderOption func(*CommandRecorder)

// WithRecordDir sets the directory for intermediate recordings. Defaults to
// os.TempDir().
func WithRecordDir(dir string) RecorderOption {
	return func(r *CommandRecorder) { r.tmpDir = dir }
}

// NewCommandRecorder validates argv and returns a recorder. argv must contain
// the {output} placeholder exactly once.
func NewCommandRecorder(argv []string, opts ...RecorderOption) (*CommandRecorder, error) {
	if len(argv) == 0 {
		return nil, errors.New("audio: recorder command must not be empty")
	}
	if n := countPlaceholder(argv, OutputPlaceholder); n != 1 {
		return nil, fmt.Errorf("audio: recorder command must contain %s exactly once, found %d", OutputPlaceholder, n)
	}
	r := &CommandRecorder{argv: argv}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Record implements [Recorder]. The recording program receives SIGKILL when
// ctx is cancelled.
func (r *CommandRecorder) Record(ctx context.Context) (Clip, error) {
	f, err := os.CreateTemp(r.tmpDir, "murmur-rec-*.wav")
	if err != nil {
		return Clip{}, fmt.Errorf("audio: record: create temp file: %w", err)
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	if err := run(ctx, substitute(r.argv, OutputPlaceholder, path)); err != nil {
		return Clip{}, fmt.Errorf("audio: record: %w", err)
	}
	clip, err := ReadFile(path)
	if err != nil {
		return Clip{}, fmt.Errorf("audio: record: %w", err)
	}
	if clip.Empty() {
		return Clip{}, errors.New("audio: record: recorder produced no audio")
	}
	return clip, nil
}

var _ Recorder = (*CommandRecorder)(nil)

// ─── Player ──────────────────────────────────────────────────────────────────

// CommandPlayer plays clips by writing them to a temp file and running an
// external program (ffplay, afplay, aplay) on the path substituted for {input}.
//
// Example:
//
//	p, _ := audio.NewCommandPlayer([]string{
//	    "ffplay", "-autoexit", "-nodisp", "-loglevel", "quiet", "{input}",
//	})
type CommandPlayer struct {
	argv   []string
	tmpDir string
}

// PlayerOption configures a [CommandPlayer].
type PlayerOption func(*CommandPlayer)

// WithPlayDir sets the directory for temporary playback files.
func WithPlayDir(dir string) PlayerOption {
	return func(p *CommandPlayer) { p.tmpDir = dir }
}

// NewCommandPlayer validates argv and returns a player. argv must contain the
// {input} placeholder exactly once.
func NewCommandPlayer(argv []string, opts ...PlayerOption) (*CommandPlayer, error) {
	if len(argv) == 0 {
		return nil, errors.New("audio: player command must not be empty")
	}
	if n := countPlaceholder(argv, InputPlaceholder); n != 1 {
		return nil, fmt.Errorf("audio: player command must contain %s exactly once, found %d", InputPlaceholder, n)
	}
	p := &CommandPlayer{argv: argv}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Play implements [Player].
func (p *CommandPlayer) Play(ctx context.Context, clip Clip) error {
	if clip.Empty() {
		return errors.New("audio: play: empty clip")
	}
	f, err := os.CreateTemp(p.tmpDir, "murmur-play-*"+clip.Encoding.Ext())
	if err != nil {
		return fmt.Errorf("audio: play: create temp file: %w", err)
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	if err := clip.WriteFile(path); err != nil {
		return fmt.Errorf("audio: play: %w", err)
	}
	if err := run(ctx, substitute(p.argv, InputPlaceholder, path)); err != nil {
		return fmt.Errorf("audio: play: %w", err)
	}
	return nil
}

var _ Player = (*CommandPlayer)(nil)

// ─── helpers ─────────────────────────────────────────────────────────────────

func run(ctx context.Context, argv []string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", filepath.Base(argv[0]), err, msg)
		}
		return fmt.Errorf("%s: %w", filepath.Base(argv[0]), err)
	}
	return nil
}

func substitute(argv []string, placeholder, value string) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = strings.ReplaceAll(a, placeholder, value)
	}
	return out
}

func countPlaceholder(argv []string, placeholder string) int {
	n := 0
	for _, a := range argv {
		n += strings.Count(a, placeholder)
	}
	return n
}
