// Package task defines the shared vocabulary of the Murmur pipeline: stage
// kinds, task identifiers, the per-stage task payloads and the status state
// machine that the result stores track for every submitted task.
//
// Tasks are immutable values. The conversation orchestrator constructs each
// task exactly once, hands it to a stage queue, and from then on only the
// worker that dequeued it reads its payload.
package task

import (
	"fmt"
	"strings"

	"github.com/MrWong99/murmur/pkg/audio"
)

// Stage identifies one of the three conversion kinds of the pipeline.
type Stage string

const (
	// StageTranscription converts recorded speech to text.
	StageTranscription Stage = "transcription"

	// StageGeneration streams a language-model answer for a question.
	StageGeneration Stage = "generation"

	// StageSynthesis converts one answer chunk to playable audio.
	StageSynthesis Stage = "synthesis"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageTranscription, StageGeneration, StageSynthesis}

// tag returns the short upper-case marker used inside task ids.
func (s Stage) tag() string {
	switch s {
	case StageTranscription:
		return "STT"
	case StageGeneration:
		return "LLM"
	case StageSynthesis:
		return "TTS"
	default:
		return strings.ToUpper(string(s))
	}
}

// ID is an opaque task identifier. Ids are unique within a conversation and
// never reused: they embed the conversation id, the stage, the monotonically
// increasing turn number and, for fanned-out synthesis tasks, the emission
// index of the chunk they carry.
type ID string

// NewID builds the id of the single task a stage receives in a turn.
//
//	NewID("c0ffee", StageTranscription, 3) == "TASK_c0ffee_STT_3"
func NewID(conversation string, stage Stage, turn int) ID {
	return ID(fmt.Sprintf("TASK_%s_%s_%d", conversation, stage.tag(), turn))
}

// NewIndexedID builds the id of the index-th task a stage receives in a turn.
//
//	NewIndexedID("c0ffee", StageSynthesis, 3, 1) == "TASK_c0ffee_TTS_3_1"
func NewIndexedID(conversation string, stage Stage, turn, index int) ID {
	return ID(fmt.Sprintf("TASK_%s_%s_%d_%d", conversation, stage.tag(), turn, index))
}

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// Task is implemented by every stage payload.
type Task interface {
	// TaskID returns the id the task was registered under.
	TaskID() ID
}

// Transcription asks the transcription stage to convert recorded speech.
type Transcription struct {
	ID   ID
	Turn int

	// Audio is the recorded question. Path is set when the recording was
	// persisted to the conversation's temp directory.
	Audio audio.Clip
	Path  string
}

// TaskID implements Task.
func (t Transcription) TaskID() ID { return t.ID }

// Generation asks the generation stage for a streamed answer.
type Generation struct {
	ID   ID
	Turn int

	// Context is the snapshot of the context source (usually the clipboard)
	// taken while the question was being transcribed. May be empty.
	Context string

	// Question is the transcribed question or the configured fallback.
	Question string
}

// TaskID implements Task.
func (t Generation) TaskID() ID { return t.ID }

// Synthesis asks the synthesis stage to voice one generation chunk.
type Synthesis struct {
	ID   ID
	Turn int

	// Index is the emission index of the generation chunk this task carries.
	// Playback order equals Index order.
	Index int
	Text  string
}

// TaskID implements Task.
func (t Synthesis) TaskID() ID { return t.ID }

var (
	_ Task = Transcription{}
	_ Task = Generation{}
	_ Task = Synthesis{}
)
