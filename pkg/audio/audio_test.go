package audio_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/murmur/pkg/audio"
)

// samplesToBytes converts int16 samples to little-endian PCM.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts little-endian PCM to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func equalSamples(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

// ─── WAV ─────────────────────────────────────────────────────────────────────

func TestEncodeDecodeWAV(t *testing.T) {
	t.Parallel()

	pcm := samplesToBytes([]int16{1, -1, 300, -300, 32767, -32768})
	f := audio.Format{SampleRate: 22050, Channels: 2}
	wav := audio.EncodeWAV(pcm, f)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad riff header: %q", wav[:12])
	}

	gotPCM, gotFmt, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if gotFmt != f {
		t.Errorf("format = %+v, want %+v", gotFmt, f)
	}
	if !bytes.Equal(gotPCM, pcm) {
		t.Errorf("pcm mismatch")
	}
}

func TestDecodeWAV_SkipsUnknownChunks(t *testing.T) {
	t.Parallel()

	pcm := samplesToBytes([]int16{10, 20, 30})
	wav := audio.EncodeWAV(pcm, audio.SpeechFormat)

	// Insert an odd-sized LIST chunk between fmt and data.
	list := append([]byte("LIST"), 3, 0, 0, 0, 'a', 'b', 'c', 0)
	withList := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)

	got, f, err := audio.DecodeWAV(withList)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if f != audio.SpeechFormat {
		t.Errorf("format = %+v", f)
	}
	equalSamples(t, bytesToSamples(got), []int16{10, 20, 30})
}

func TestDecodeWAV_Rejects(t *testing.T) {
	t.Parallel()

	tests := map[string][]byte{
		"empty":    nil,
		"not riff": []byte("OggS00000000WAVE"),
		"no data":  audio.EncodeWAV(nil, audio.SpeechFormat)[:36],
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, _, err := audio.DecodeWAV(in); !errors.Is(err, audio.ErrNotWAV) {
				t.Errorf("err = %v, want ErrNotWAV", err)
			}
		})
	}
}

// ─── Clip ────────────────────────────────────────────────────────────────────

func TestClip_Duration(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 16000*2) // one second of 16 kHz mono
	tests := []struct {
		name string
		clip audio.Clip
		want time.Duration
	}{
		{"pcm", audio.Clip{Data: pcm, Encoding: audio.EncodingPCM, Format: audio.SpeechFormat}, time.Second},
		{"wav", audio.Clip{Data: audio.EncodeWAV(pcm, audio.SpeechFormat), Encoding: audio.EncodingWAV}, time.Second},
		{"mp3", audio.Clip{Data: []byte("ID3"), Encoding: audio.EncodingMP3}, 0},
		{"no format", audio.Clip{Data: pcm, Encoding: audio.EncodingPCM}, 0},
	}
	for _, tc := range tests {
		if got := tc.clip.Duration(); got != tc.want {
			t.Errorf("%s: Duration() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestClip_WriteAndReadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "input_1.wav")
	pcm := samplesToBytes([]int16{5, 6, 7, 8})
	clip := audio.Clip{Data: pcm, Encoding: audio.EncodingPCM, Format: audio.SpeechFormat}

	if err := clip.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := audio.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got.Encoding != audio.EncodingWAV {
		t.Errorf("encoding = %s, want wav", got.Encoding)
	}
	if got.Format != audio.SpeechFormat {
		t.Errorf("format = %+v", got.Format)
	}
	body, _, err := audio.DecodeWAV(got.Data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	equalSamples(t, bytesToSamples(body), []int16{5, 6, 7, 8})
}

// ─── Conversion ──────────────────────────────────────────────────────────────

func TestMonoToStereo(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.MonoToStereo(samplesToBytes([]int16{100, 200, 300})))
	equalSamples(t, got, []int16{100, 100, 200, 200, 300, 300})
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.StereoToMono(samplesToBytes([]int16{100, 200, -100, -200, 32767, 32767})))
	equalSamples(t, got, []int16{150, -150, 32767})
}

func TestResample16(t *testing.T) {
	t.Parallel()

	t.Run("downsample halves frames", func(t *testing.T) {
		in := samplesToBytes([]int16{0, 100, 200, 300, 400, 500, 600, 700})
		got := bytesToSamples(audio.Resample16(in, 1, 32000, 16000))
		equalSamples(t, got, []int16{0, 200, 400, 600})
	})

	t.Run("upsample interpolates", func(t *testing.T) {
		in := samplesToBytes([]int16{0, 100})
		got := bytesToSamples(audio.Resample16(in, 1, 8000, 16000))
		equalSamples(t, got, []int16{0, 50, 100, 100})
	})

	t.Run("stereo keeps channels apart", func(t *testing.T) {
		in := samplesToBytes([]int16{10, -10, 20, -20, 30, -30, 40, -40})
		got := bytesToSamples(audio.Resample16(in, 2, 48000, 24000))
		equalSamples(t, got, []int16{10, -10, 30, -30})
	})

	t.Run("equal rates pass through", func(t *testing.T) {
		in := samplesToBytes([]int16{1, 2, 3})
		if got := audio.Resample16(in, 1, 16000, 16000); !bytes.Equal(got, in) {
			t.Errorf("expected unchanged input")
		}
	})
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	stereo48k := audio.Clip{
		Data:     audio.EncodeWAV(make([]byte, 48000*2*2), audio.Format{SampleRate: 48000, Channels: 2}),
		Encoding: audio.EncodingWAV,
	}
	got, err := audio.Normalize(stereo48k, audio.SpeechFormat)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got.Encoding != audio.EncodingWAV || got.Format != audio.SpeechFormat {
		t.Fatalf("got %s %+v", got.Encoding, got.Format)
	}
	if d := got.Duration(); d != time.Second {
		t.Errorf("duration = %v, want 1s", d)
	}

	if _, err := audio.Normalize(audio.Clip{Data: []byte("x"), Encoding: audio.EncodingMP3}, audio.SpeechFormat); err == nil {
		t.Error("expected error for mp3 input")
	}
}

// ─── Commands ────────────────────────────────────────────────────────────────

func TestNewCommandRecorder_Validation(t *testing.T) {
	t.Parallel()

	if _, err := audio.NewCommandRecorder(nil); err == nil {
		t.Error("expected error for empty command")
	}
	if _, err := audio.NewCommandRecorder([]string{"arecord"}); err == nil {
		t.Error("expected error for missing placeholder")
	}
	if _, err := audio.NewCommandPlayer([]string{"ffplay", "{input}", "{input}"}); err == nil {
		t.Error("expected error for duplicated placeholder")
	}
}

func TestCommandRecorder_Record(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.wav")
	if err := os.WriteFile(src, audio.EncodeWAV(samplesToBytes([]int16{1, 2, 3}), audio.SpeechFormat), 0o644); err != nil {
		t.Fatal(err)
	}

	rec, err := audio.NewCommandRecorder([]string{"cp", src, "{output}"}, audio.WithRecordDir(dir))
	if err != nil {
		t.Fatalf("NewCommandRecorder: %v", err)
	}
	clip, err := rec.Record(context.Background())
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if clip.Encoding != audio.EncodingWAV || clip.Format != audio.SpeechFormat {
		t.Errorf("clip = %s %+v", clip.Encoding, clip.Format)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temp recording not cleaned up: %d entries", len(entries))
	}
}

func TestCommandPlayer_Play(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dst := filepath.Join(dir, "played.mp3")
	p, err := audio.NewCommandPlayer([]string{"cp", "{input}", dst}, audio.WithPlayDir(dir))
	if err != nil {
		t.Fatalf("NewCommandPlayer: %v", err)
	}

	clip := audio.Clip{Data: []byte("ID3-fake-mp3"), Encoding: audio.EncodingMP3}
	if err := p.Play(context.Background(), clip); err != nil {
		t.Fatalf("Play: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, clip.Data) {
		t.Errorf("played bytes = %q", got)
	}

	if err := p.Play(context.Background(), audio.Clip{}); err == nil {
		t.Error("expected error for empty clip")
	}
}

func TestCommandPlayer_FailingCommand(t *testing.T) {
	t.Parallel()

	p, err := audio.NewCommandPlayer([]string{"false", "{input}"}, audio.WithPlayDir(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Play(context.Background(), audio.Clip{Data: []byte{1}, Encoding: audio.EncodingMP3}); err == nil {
		t.Error("expected error from failing player command")
	}
}
