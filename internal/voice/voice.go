// Package voice converts between message text and channel audio.
package voice

import (
	"context"
	"errors"

	"github.com/foxseedlab/disciplinecall/internal/call"
)

// Format names an audio encoding exchanged with a channel.
type Format string

const (
	FormatOggOpus Format = "ogg_opus"
	FormatMP3     Format = "mp3"
	// FormatPCM48kStereo is raw little-endian 16-bit PCM at 48kHz, two channels.
	FormatPCM48kStereo Format = "pcm_s16le_48k_stereo"
	FormatPCM16kMono   Format = "pcm_s16le_16k_mono"
)

var (
	// ErrNotSupported is returned by a synthesizer that cannot produce the format.
	ErrNotSupported = errors.New("voice: format not supported")
	// ErrUntranscribable means the audio held no recognizable speech.
	ErrUntranscribable = errors.New("voice: could not transcribe")
)

// Style tunes synthesis per personality.
type Style struct {
	Voice string
	// Rate is the speaking rate relative to normal (1.0).
	Rate float64
	// Pitch is in semitones relative to the voice default.
	Pitch float64
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string, style Style, format Format) ([]byte, error)
}

type Recognizer interface {
	Transcribe(ctx context.Context, audio []byte, format Format) (string, error)
}

var defaultStyles = map[call.Personality]Style{
	call.PersonalityMotivator:     {Voice: "energetic", Rate: 1.1, Pitch: 2},
	call.PersonalityDrillSergeant: {Voice: "commanding", Rate: 1.15, Pitch: -2},
	call.PersonalityAbuser:        {Voice: "wry", Rate: 1.0, Pitch: 0},
	call.PersonalityFriend:        {Voice: "warm", Rate: 0.95, Pitch: 1},
	call.PersonalityMentor:        {Voice: "calm", Rate: 0.9, Pitch: -1},
}

func StyleFor(p call.Personality) Style {
	if s, ok := defaultStyles[p]; ok {
		return s
	}
	return Style{Voice: "neutral", Rate: 1.0}
}
