// Package audio holds the PCM and Opus plumbing used by voice-channel transports.
package audio

import "errors"

const (
	SampleRate = 48000
	Channels   = 2
	FrameMs    = 20
	// FrameSamples is the number of interleaved int16 samples in one 20ms stereo frame.
	FrameSamples = SampleRate * FrameMs * Channels / 1000
)

// ErrCodecUnavailable is returned when the binary was built without Opus support.
var ErrCodecUnavailable = errors.New("audio: opus codec not available in this build")

// Encoder turns one 20ms frame of 48kHz stereo PCM into an Opus packet.
type Encoder interface {
	Encode(frame []int16) ([]byte, error)
}

// Mixer decodes Opus packets from several speakers and mixes them into one PCM stream.
type Mixer interface {
	WriteOpusPacket(speakerID string, opus []byte)
	ReadMixedPCM(buf []byte) (int, error)
	Close()
}

type Codec interface {
	Available() bool
	NewEncoder() (Encoder, error)
	NewMixer() Mixer
}
