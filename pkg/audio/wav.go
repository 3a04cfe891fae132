package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	bitsPerSample  = 16
	bytesPerSample = bitsPerSample / 8
	wavHeaderSize  = 44
)

// ErrNotWAV is returned by [DecodeWAV] when the input is not a 16-bit PCM
// RIFF/WAVE file.
var ErrNotWAV = errors.New("audio: not a 16-bit pcm wav file")

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a canonical
// 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, f Format) []byte {
	byteRate := f.SampleRate * f.Channels * bytesPerSample
	blockAlign := f.Channels * bytesPerSample

	buf := make([]byte, wavHeaderSize+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[wavHeaderSize:], pcm)
	return buf
}

// DecodeWAV extracts the PCM payload and format from a RIFF/WAVE file. Only
// uncompressed 16-bit PCM is supported. Unknown chunks (LIST, fact, ...) are
// skipped.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return nil, Format{}, ErrNotWAV
	}

	var (
		f       Format
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if end > len(data) {
			// Streaming writers sometimes leave the data size unset.
			end = len(data)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			if tag := binary.LittleEndian.Uint16(data[body : body+2]); tag != 1 {
				return nil, Format{}, fmt.Errorf("%w: format tag %d", ErrNotWAV, tag)
			}
			if bps := binary.LittleEndian.Uint16(data[body+14 : body+16]); bps != bitsPerSample {
				return nil, Format{}, fmt.Errorf("%w: %d bits per sample", ErrNotWAV, bps)
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, fmt.Errorf("%w: data before fmt chunk", ErrNotWAV)
			}
			return data[body:end], f, nil
		}

		// Chunks are word aligned.
		pos = end + size%2
	}
	return nil, Format{}, fmt.Errorf("%w: missing data chunk", ErrNotWAV)
}
