package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	sttmock "github.com/MrWong99/murmur/pkg/provider/stt/mock"
)

var testClip = audio.Clip{Data: []byte{1, 2, 3, 4}, Encoding: audio.EncodingPCM, Format: audio.SpeechFormat}

func TestSTTFallback_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Provider{Result: stt.Transcript{Text: "from primary"}}
	secondary := &sttmock.Provider{Result: stt.Transcript{Text: "from secondary"}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	got, err := fb.Transcribe(context.Background(), testClip)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "from primary" {
		t.Fatalf("text = %q, want 'from primary'", got.Text)
	}
	if secondary.CallCount() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.CallCount())
	}
}

func TestSTTFallback_Failover(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("whisper server down")}
	secondary := &sttmock.Provider{Result: stt.Transcript{Text: "from secondary"}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	got, err := fb.Transcribe(context.Background(), testClip)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "from secondary" {
		t.Fatalf("text = %q, want 'from secondary'", got.Text)
	}
	if len(secondary.Calls) != 1 || len(secondary.Calls[0].Clip.Data) != len(testClip.Data) {
		t.Fatalf("secondary did not receive the same clip: %+v", secondary.Calls)
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	fb := NewSTTFallback(&sttmock.Provider{Err: errors.New("down")}, "primary", FallbackConfig{})
	fb.AddFallback("secondary", &sttmock.Provider{Err: errors.New("also down")})

	_, err := fb.Transcribe(context.Background(), testClip)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if fb.Group().Len() != 2 {
		t.Errorf("group len = %d, want 2", fb.Group().Len())
	}
}

func TestSTTFallback_BlankTranscriptIsAnswer(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{}
	secondary := &sttmock.Provider{Result: stt.Transcript{Text: "should not be asked"}}
	fb := NewSTTFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	got, err := fb.Transcribe(t.Context(), testClip)
	if err != nil || got.Text != "" {
		t.Fatalf("Transcribe = %+v, %v; want blank transcript", got, err)
	}
	if secondary.CallCount() != 0 {
		t.Error("blank transcript triggered failover")
	}
}

func TestSTTFallback_EmptyClipSkipsBackends(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{}
	fb := NewSTTFallback(primary, "primary", FallbackConfig{})

	_, err := fb.Transcribe(t.Context(), audio.Clip{})
	if !errors.Is(err, ErrNoAudio) {
		t.Fatalf("err = %v, want ErrNoAudio", err)
	}
	if primary.CallCount() != 0 {
		t.Error("backend called for an empty clip")
	}
}
