package voice

import (
	"context"
	"errors"
	"testing"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSynth struct {
	calls int
	style Style
}

func (s *countingSynth) Synthesize(_ context.Context, text string, style Style, format Format) ([]byte, error) {
	s.calls++
	s.style = style
	return []byte(string(format) + ":" + text), nil
}

type stubRecognizer struct {
	text string
	err  error
}

func (r stubRecognizer) Transcribe(context.Context, []byte, Format) (string, error) {
	return r.text, r.err
}

func TestBridge_SynthesizeCachesByTextStyleAndFormat(t *testing.T) {
	synth := &countingSynth{}
	b, err := NewBridge(synth, nil, 8, nil)
	require.NoError(t, err)

	ctx := context.Background()
	a1, err := b.Synthesize(ctx, "Good morning", call.PersonalityMentor, FormatOggOpus)
	require.NoError(t, err)
	a2, err := b.Synthesize(ctx, "Good morning", call.PersonalityMentor, FormatOggOpus)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
	assert.Equal(t, 1, synth.calls)
	assert.Equal(t, StyleFor(call.PersonalityMentor), synth.style)

	_, err = b.Synthesize(ctx, "Good morning", call.PersonalityDrillSergeant, FormatOggOpus)
	require.NoError(t, err)
	_, err = b.Synthesize(ctx, "Good morning", call.PersonalityMentor, FormatMP3)
	require.NoError(t, err)
	assert.Equal(t, 3, synth.calls)
}

func TestBridge_NoSynthesizer(t *testing.T) {
	b, err := NewBridge(nil, nil, 0, nil)
	require.NoError(t, err)
	_, err = b.Synthesize(context.Background(), "hi", call.PersonalityFriend, FormatMP3)
	assert.ErrorIs(t, err, ErrNotSupported)
	assert.False(t, b.CanSynthesize())
}

func TestBridge_Transcribe(t *testing.T) {
	b, err := NewBridge(nil, stubRecognizer{text: "I went running"}, 0, nil)
	require.NoError(t, err)

	got, err := b.Transcribe(context.Background(), []byte{1, 2, 3}, FormatOggOpus)
	require.NoError(t, err)
	assert.Equal(t, "I went running", got)

	_, err = b.Transcribe(context.Background(), nil, FormatOggOpus)
	assert.ErrorIs(t, err, ErrUntranscribable)
}

func TestBridge_TranscribePassesErrorsThrough(t *testing.T) {
	cause := errors.New("quota exceeded")
	b, err := NewBridge(nil, stubRecognizer{err: cause}, 0, nil)
	require.NoError(t, err)

	_, err = b.Transcribe(context.Background(), []byte{1}, FormatOggOpus)
	assert.ErrorIs(t, err, cause)
}
