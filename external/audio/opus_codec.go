//go:build opus

package audio

import (
	"fmt"
	"sync"

	"github.com/foxseedlab/disciplinecall/internal/audio"
	"github.com/hraban/opus"
)

const maxOpusPacketSize = 4000

type OpusCodec struct{}

func NewOpusCodec() audio.Codec {
	return OpusCodec{}
}

func (OpusCodec) Available() bool { return true }

func (OpusCodec) NewEncoder() (audio.Encoder, error) {
	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

func (OpusCodec) NewMixer() audio.Mixer {
	return NewOpusMixer()
}

type opusEncoder struct {
	enc *opus.Encoder
}

func (e *opusEncoder) Encode(frame []int16) ([]byte, error) {
	buf := make([]byte, maxOpusPacketSize)
	n, err := e.enc.Encode(frame, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// OpusMixer keeps one decoder and frame queue per speaker and sums the head frames
// of every queue on each read.
type OpusMixer struct {
	mu       sync.Mutex
	decoders map[string]*opus.Decoder
	queues   map[string][][]int16
	closed   bool
}

func NewOpusMixer() *OpusMixer {
	return &OpusMixer{
		decoders: make(map[string]*opus.Decoder),
		queues:   make(map[string][][]int16),
	}
}

func (m *OpusMixer) WriteOpusPacket(speakerID string, packet []byte) {
	if len(packet) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	dec, ok := m.decoders[speakerID]
	if !ok {
		var err error
		dec, err = opus.NewDecoder(audio.SampleRate, audio.Channels)
		if err != nil {
			return
		}
		m.decoders[speakerID] = dec
	}
	pcm := make([]int16, audio.FrameSamples)
	n, err := dec.Decode(packet, pcm)
	if err != nil || n <= 0 {
		return
	}
	total := min(n*audio.Channels, audio.FrameSamples)
	m.queues[speakerID] = append(m.queues[speakerID], pcm[:total])
}

func (m *OpusMixer) ReadMixedPCM(buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, nil
	}
	mixed := make([]int16, audio.FrameSamples)
	heard := false
	for id, q := range m.queues {
		if len(q) == 0 {
			continue
		}
		heard = true
		frame := q[0]
		m.queues[id] = q[1:]
		for i := 0; i < len(frame); i++ {
			mixed[i] = audio.ClampPCM(int32(mixed[i]) + int32(frame[i]))
		}
	}
	if !heard {
		return 0, nil
	}
	return copy(buf, audio.SamplesToBytes(mixed)), nil
}

func (m *OpusMixer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.decoders = nil
	m.queues = nil
}
