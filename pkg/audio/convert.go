package audio

import (
	"fmt"
	"log/slog"
)

// Normalize converts a PCM or WAV clip to the target format and returns it
// as WAV. Resampling happens before channel conversion so that stereo input
// headed for mono output is only resampled once per frame.
//
// Clips that already match the target are returned with their data shared.
func Normalize(c Clip, target Format) (Clip, error) {
	pcm := c.Data
	f := c.Format
	switch c.Encoding {
	case EncodingPCM:
	case EncodingWAV:
		var err error
		if pcm, f, err = DecodeWAV(c.Data); err != nil {
			return Clip{}, err
		}
	default:
		return Clip{}, fmt.Errorf("audio: normalize: unsupported encoding %s", c.Encoding)
	}
	if len(pcm)%bytesPerSample != 0 {
		return Clip{}, fmt.Errorf("audio: normalize: odd byte count %d in pcm data", len(pcm))
	}

	if f == target {
		return c.WAV()
	}
	slog.Debug("audio: converting clip", "from", f.String(), "to", target.String())

	if f.SampleRate != target.SampleRate {
		pcm = Resample16(pcm, f.Channels, f.SampleRate, target.SampleRate)
	}
	switch {
	case f.Channels == 1 && target.Channels == 2:
		pcm = MonoToStereo(pcm)
	case f.Channels == 2 && target.Channels == 1:
		pcm = StereoToMono(pcm)
	case f.Channels != target.Channels:
		return Clip{}, fmt.Errorf("audio: normalize: unsupported channel conversion %d -> %d", f.Channels, target.Channels)
	}
	return Clip{Data: EncodeWAV(pcm, target), Encoding: EncodingWAV, Format: target}, nil
}

func sampleAt(pcm []byte, i int) int32 {
	return int32(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
}

func putSample(pcm []byte, i int, v int32) {
	v = max(min(v, 32767), -32768)
	pcm[2*i] = byte(v)
	pcm[2*i+1] = byte(v >> 8)
}

// MonoToStereo duplicates every mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / bytesPerSample
	out := make([]byte, n*2*bytesPerSample)
	for i := range n {
		s := sampleAt(pcm, i)
		putSample(out, 2*i, s)
		putSample(out, 2*i+1, s)
	}
	return out
}

// StereoToMono averages each L+R pair, clamping to the int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / (2 * bytesPerSample)
	out := make([]byte, frames*bytesPerSample)
	for i := range frames {
		putSample(out, i, (sampleAt(pcm, 2*i)+sampleAt(pcm, 2*i+1))/2)
	}
	return out
}

// Resample16 resamples interleaved 16-bit PCM with the given channel count
// from srcRate to dstRate using linear interpolation. Invalid rates and equal
// rates return the input unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (channels * bytesPerSample)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*channels*bytesPerSample)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for ch := range channels {
			s0 := float64(sampleAt(pcm, idx*channels+ch))
			s1 := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int32(s0*(1-frac)+s1*frac))
		}
	}
	return out
}
