package melo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/tts"
)

func TestNew_EmptyURL(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty serverURL")
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	var got convertRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != convertEndpoint {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(audio.EncodeWAV(make([]byte, 4410*2), audio.Format{SampleRate: 44100, Channels: 1}))
	}))
	defer srv.Close()

	p, err := New(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	clip, err := p.Synthesize(context.Background(), "Hello world.")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got.Text != "Hello world." || got.Language != DefaultLanguage || got.SpeakerID != DefaultSpeaker {
		t.Errorf("request = %+v", got)
	}
	if clip.Encoding != audio.EncodingWAV || clip.Format.SampleRate != 44100 {
		t.Errorf("clip = %s %+v", clip.Encoding, clip.Format)
	}
}

func TestSynthesize_Options(t *testing.T) {
	t.Parallel()

	var got convertRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write(audio.EncodeWAV(make([]byte, 64), audio.SpeechFormat))
	}))
	defer srv.Close()

	p, _ := New(srv.URL, WithLanguage("ES"), WithSpeaker("ES"))
	if _, err := p.Synthesize(context.Background(), "Hola."); err != nil {
		t.Fatal(err)
	}
	if got.Language != "ES" || got.SpeakerID != "ES" {
		t.Errorf("request = %+v", got)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req convertRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Text == "fail" {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	ctx := context.Background()

	if _, err := p.Synthesize(ctx, ""); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("empty text: err = %v", err)
	}
	_, err := p.Synthesize(ctx, "fail")
	if err == nil || !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("server error: err = %v", err)
	}
	if _, err := p.Synthesize(ctx, "json"); !errors.Is(err, audio.ErrNotWAV) {
		t.Errorf("non-wav payload: err = %v", err)
	}
}
