package pipeline

import (
	"io"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/pkg/task"
)

// ---- shared test helpers ----

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions(t *testing.T) []Option {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return []Option{WithLogger(discardLogger()), WithMetrics(m)}
}

func genTask(turn int) task.Generation {
	return task.Generation{
		ID:       task.NewID("conv", task.StageGeneration, turn),
		Turn:     turn,
		Question: "q",
	}
}

func synthTask(index int) task.Synthesis {
	return task.Synthesis{
		ID:    task.NewIndexedID("conv", task.StageSynthesis, 1, index),
		Turn:  1,
		Index: index,
		Text:  "chunk",
	}
}
