package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Encoding names the container or codec of a clip's Data.
type Encoding string

const (
	// EncodingPCM is raw 16-bit signed little-endian PCM.
	EncodingPCM Encoding = "pcm"

	// EncodingWAV is a RIFF/WAVE container holding 16-bit PCM.
	EncodingWAV Encoding = "wav"

	// EncodingMP3 is an MPEG-1 layer III stream.
	EncodingMP3 Encoding = "mp3"
)

// Ext returns the file extension for e, including the leading dot.
func (e Encoding) Ext() string {
	switch e {
	case EncodingWAV:
		return ".wav"
	case EncodingMP3:
		return ".mp3"
	default:
		return ".pcm"
	}
}

// ContentType returns the MIME type for e.
func (e Encoding) ContentType() string {
	switch e {
	case EncodingWAV:
		return "audio/wav"
	case EncodingMP3:
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

// Format describes the sample rate and channel count of PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form, e.g. "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// SpeechFormat is the format speech recognisers expect: 16 kHz mono.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

// Clip is one self-contained piece of audio. Clips are treated as immutable
// once created; callers must not modify Data after handing a clip on.
type Clip struct {
	Data     []byte
	Encoding Encoding

	// Format is only meaningful for PCM and WAV clips. For compressed
	// encodings it may be zero.
	Format Format
}

// Empty reports whether the clip carries no audio bytes.
func (c Clip) Empty() bool { return len(c.Data) == 0 }

// Duration returns the playback length of a PCM or WAV clip, or 0 when it
// cannot be derived without decoding.
func (c Clip) Duration() time.Duration {
	pcm := c.Data
	f := c.Format
	switch c.Encoding {
	case EncodingPCM:
	case EncodingWAV:
		var err error
		pcm, f, err = DecodeWAV(c.Data)
		if err != nil {
			return 0
		}
	default:
		return 0
	}
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(pcm) / (bytesPerSample * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// WAV returns the clip as a WAV container. PCM clips are wrapped, WAV clips
// are returned unchanged, anything else is an error.
func (c Clip) WAV() (Clip, error) {
	switch c.Encoding {
	case EncodingWAV:
		return c, nil
	case EncodingPCM:
		return Clip{Data: EncodeWAV(c.Data, c.Format), Encoding: EncodingWAV, Format: c.Format}, nil
	default:
		return Clip{}, fmt.Errorf("audio: cannot convert %s clip to wav", c.Encoding)
	}
}

// WriteFile stores the clip at path, creating parent directories as needed.
// PCM clips are written as WAV so the file is self-describing.
func (c Clip) WriteFile(path string) error {
	out := c
	if c.Encoding == EncodingPCM {
		var err error
		if out, err = c.WAV(); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("audio: create directory: %w", err)
	}
	if err := os.WriteFile(path, out.Data, 0o644); err != nil {
		return fmt.Errorf("audio: write %s: %w", path, err)
	}
	return nil
}

// ReadFile loads a clip from disk. The encoding is derived from the file
// extension; WAV headers are parsed to fill in Format.
func ReadFile(path string) (Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Clip{}, fmt.Errorf("audio: read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		_, f, err := DecodeWAV(data)
		if err != nil {
			return Clip{}, fmt.Errorf("audio: read %s: %w", path, err)
		}
		return Clip{Data: data, Encoding: EncodingWAV, Format: f}, nil
	case ".mp3":
		return Clip{Data: data, Encoding: EncodingMP3}, nil
	default:
		return Clip{Data: data, Encoding: EncodingPCM, Format: SpeechFormat}, nil
	}
}
