//go:build !opus

package audio

import "github.com/foxseedlab/disciplinecall/internal/audio"

type noopCodec struct{}

// NewOpusCodec returns a codec that reports itself unavailable; build with -tags opus
// to link libopus.
func NewOpusCodec() audio.Codec {
	return noopCodec{}
}

func (noopCodec) Available() bool { return false }

func (noopCodec) NewEncoder() (audio.Encoder, error) {
	return nil, audio.ErrCodecUnavailable
}

func (noopCodec) NewMixer() audio.Mixer {
	return noopMixer{}
}

type noopMixer struct{}

func (noopMixer) WriteOpusPacket(string, []byte) {}

func (noopMixer) ReadMixedPCM([]byte) (int, error) {
	return 0, nil
}

func (noopMixer) Close() {}
