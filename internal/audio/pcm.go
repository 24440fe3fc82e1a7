package audio

import (
	"bytes"
	"encoding/binary"
)

// BytesToSamples reads little-endian 16-bit PCM. A trailing odd byte is ignored.
func BytesToSamples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func SamplesToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// StripWAVHeader returns the data chunk of a RIFF/WAVE file, or b unchanged when it
// is not a WAV container.
func StripWAVHeader(b []byte) []byte {
	if len(b) < 12 || !bytes.Equal(b[0:4], []byte("RIFF")) || !bytes.Equal(b[8:12], []byte("WAVE")) {
		return b
	}
	pos := 12
	for pos+8 <= len(b) {
		id := b[pos : pos+4]
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		pos += 8
		if bytes.Equal(id, []byte("data")) {
			end := pos + size
			if end > len(b) || size < 0 {
				end = len(b)
			}
			return b[pos:end]
		}
		pos += size + size%2
	}
	return nil
}

// ToStereo48k converts interleaved PCM at any rate and channel count to 48kHz stereo
// using nearest-sample resampling.
func ToStereo48k(pcm []int16, rate, channels int) []int16 {
	if rate <= 0 || channels <= 0 || len(pcm) == 0 {
		return nil
	}
	frames := len(pcm) / channels
	outFrames := int(int64(frames) * SampleRate / int64(rate))
	out := make([]int16, outFrames*Channels)
	for i := 0; i < outFrames; i++ {
		src := int(int64(i) * int64(rate) / SampleRate)
		if src >= frames {
			src = frames - 1
		}
		left := pcm[src*channels]
		right := left
		if channels > 1 {
			right = pcm[src*channels+1]
		}
		out[i*2] = left
		out[i*2+1] = right
	}
	return out
}

// ToMono16k downmixes 48kHz stereo PCM for recognizers that expect 16kHz mono.
func ToMono16k(pcm []int16) []int16 {
	frames := len(pcm) / Channels
	out := make([]int16, frames/3)
	for i := range out {
		src := i * 3 * Channels
		out[i] = int16((int32(pcm[src]) + int32(pcm[src+1])) / 2)
	}
	return out
}

// SplitFrames cuts 48kHz stereo PCM into 20ms frames; the last frame is zero-padded.
func SplitFrames(pcm []int16) [][]int16 {
	var frames [][]int16
	for start := 0; start < len(pcm); start += FrameSamples {
		frame := make([]int16, FrameSamples)
		copy(frame, pcm[start:])
		frames = append(frames, frame)
	}
	return frames
}

// Peak returns the largest absolute sample value.
func Peak(pcm []int16) int {
	peak := 0
	for _, v := range pcm {
		a := int(v)
		if a < 0 {
			a = -a
		}
		if a > peak {
			peak = a
		}
	}
	return peak
}

func ClampPCM(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// EncodeWAV wraps 16-bit PCM in a minimal RIFF/WAVE container.
func EncodeWAV(pcm []int16, rate, channels int) []byte {
	data := SamplesToBytes(pcm)
	var buf bytes.Buffer
	buf.Grow(44 + len(data))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(rate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(rate*channels*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	return buf.Bytes()
}
