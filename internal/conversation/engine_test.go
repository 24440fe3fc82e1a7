package conversation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	replies  []string
	err      error
	requests []GenerateRequest
}

func (f *fakeGenerator) Generate(_ context.Context, req GenerateRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "keep going", nil
	}
	out := f.replies[0]
	f.replies = f.replies[1:]
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

func transcriptWith(systemTurns int) []call.Turn {
	var turns []call.Turn
	for i := 0; i < systemTurns; i++ {
		turns = append(turns,
			call.Turn{Speaker: call.SpeakerSystem, Text: "question"},
			call.Turn{Speaker: call.SpeakerUser, Text: "answer"},
		)
	}
	return turns
}

func TestEngine_OpeningMessage(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"Good morning! What is your top goal today?"}}
	e := NewEngine(gen, nil, 6, testLogger())

	d, err := e.Next(context.Background(), Request{Personality: call.PersonalityMotivator, Kind: call.KindMorning})
	require.NoError(t, err)
	assert.Equal(t, "Good morning! What is your top goal today?", d.Message)
	assert.False(t, d.End)

	require.Len(t, gen.requests, 1)
	assert.True(t, gen.requests[0].Opening)
	assert.False(t, gen.requests[0].Closing)
	assert.Contains(t, gen.requests[0].SystemPrompt, "energetic")
	assert.Contains(t, gen.requests[0].SystemPrompt, EndMarker)
}

func TestEngine_EndMarkerEndsCall(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"Great work today. [END]"}}
	e := NewEngine(gen, nil, 6, testLogger())

	d, err := e.Next(context.Background(), Request{Kind: call.KindEvening, Transcript: transcriptWith(1), Utterance: strPtr("I finished the report")})
	require.NoError(t, err)
	assert.Equal(t, "Great work today.", d.Message)
	assert.True(t, d.End)
}

func TestEngine_EndMarkerOnlyAfterFirstMessage(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"[END]"}}
	e := NewEngine(gen, nil, 6, testLogger())

	d, err := e.Next(context.Background(), Request{Kind: call.KindMidday, Transcript: transcriptWith(2), Utterance: strPtr("ok")})
	require.NoError(t, err)
	assert.Empty(t, d.Message)
	assert.True(t, d.End)
}

func TestEngine_EmptyGenerationIsGenerationError(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"   "}}
	e := NewEngine(gen, nil, 6, testLogger())

	_, err := e.Next(context.Background(), Request{Kind: call.KindMorning})
	require.Error(t, err)
	assert.ErrorIs(t, err, call.ErrGeneration)
}

func TestEngine_GeneratorFailureIsGenerationError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("backend down")}
	e := NewEngine(gen, nil, 6, testLogger())

	_, err := e.Next(context.Background(), Request{Kind: call.KindMorning, Transcript: transcriptWith(1), Utterance: strPtr("hi")})
	require.Error(t, err)
	assert.ErrorIs(t, err, call.ErrGeneration)
}

func TestEngine_TurnCeilingForcesClosing(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"Time to wrap up, great call."}}
	e := NewEngine(gen, nil, 3, testLogger())

	d, err := e.Next(context.Background(), Request{Kind: call.KindMorning, Transcript: transcriptWith(2), Utterance: strPtr("sure")})
	require.NoError(t, err)
	assert.True(t, d.End)
	assert.Equal(t, "Time to wrap up, great call.", d.Message)
	require.Len(t, gen.requests, 1)
	assert.True(t, gen.requests[0].Closing)
}

func TestEngine_ClosingFallsBackToFixedLine(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("rate limited")}
	e := NewEngine(gen, nil, 2, testLogger())

	d, err := e.Next(context.Background(), Request{Personality: call.PersonalityDrillSergeant, Kind: call.KindMorning, Transcript: transcriptWith(1), Utterance: strPtr("yes")})
	require.NoError(t, err)
	assert.True(t, d.End)
	assert.Equal(t, DefaultPrompts().Personality(call.PersonalityDrillSergeant).Closing, d.Message)
}

func TestEngine_BeyondCeilingEndsWithoutMessage(t *testing.T) {
	gen := &fakeGenerator{}
	e := NewEngine(gen, nil, 2, testLogger())

	d, err := e.Next(context.Background(), Request{Kind: call.KindMorning, Transcript: transcriptWith(2), Utterance: strPtr("more")})
	require.NoError(t, err)
	assert.True(t, d.End)
	assert.Empty(t, d.Message)
	assert.Empty(t, gen.requests)
}

func TestEngine_ClosingPhraseEndsCall(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"Talk soon!"}}
	e := NewEngine(gen, nil, 6, testLogger())

	d, err := e.Next(context.Background(), Request{Kind: call.KindEvening, Transcript: transcriptWith(1), Utterance: strPtr("Thanks, bye!")})
	require.NoError(t, err)
	assert.True(t, d.End)
	assert.True(t, gen.requests[0].Closing)
}

func TestIsClosingPhrase(t *testing.T) {
	cases := map[string]bool{
		"Bye!":                        true,
		"ok gotta go now":             true,
		"That's all, thanks.":         true,
		"I want to bypass the gym":    false,
		"":                            false,
		"I'll see you at the meeting": true,
		"my goal is to finish":        false,
	}
	for in, want := range cases {
		assert.Equal(t, want, IsClosingPhrase(in, defaultClosingPhrases), in)
	}
}

func TestStripEndMarker(t *testing.T) {
	msg, end := StripEndMarker("  See you tomorrow [END] ")
	assert.True(t, end)
	assert.Equal(t, "See you tomorrow", msg)

	msg, end = StripEndMarker("How did it go?")
	assert.False(t, end)
	assert.Equal(t, "How did it go?", msg)
}

func TestLoadPrompts_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	data := `
personalities:
  mentor:
    closing: "Reflect on that. Talk soon."
templates:
  morning:
    tone: calm
    topics: [sleep, goals]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	p, err := LoadPrompts(path)
	require.NoError(t, err)
	assert.Equal(t, "Reflect on that. Talk soon.", p.Personality(call.PersonalityMentor).Closing)
	assert.NotEmpty(t, p.Personality(call.PersonalityMentor).System)
	assert.Equal(t, "calm", p.Template(call.KindMorning).Tone)
	assert.Equal(t, []string{"sleep", "goals"}, p.Template(call.KindMorning).Topics)
	assert.Equal(t, 120, p.Template(call.KindMorning).DurationSec)
}

func TestLoadPrompts_UnknownPersonality(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("personalities:\n  therapist:\n    system: hi\n"), 0o600))

	_, err := LoadPrompts(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, call.ErrConfiguration)
}

func TestSystemPrompt_IncludesReason(t *testing.T) {
	p := DefaultPrompts()
	got := p.SystemPrompt(call.PersonalityFriend, call.KindUrgent, "missed gym twice")
	assert.True(t, strings.HasPrefix(got, p.Personality(call.PersonalityFriend).System))
	assert.Contains(t, got, "missed gym twice")
}
