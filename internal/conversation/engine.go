// Package conversation decides each system message of a coaching call and whether the
// call should end, independent of which text-generation backend is configured.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/foxseedlab/disciplinecall/internal/call"
)

// EndMarker is appended by the generator to its last message of a call.
const EndMarker = "[END]"

const DefaultMaxTurns = 6

// GenerateRequest is everything a backend needs to produce the next system message.
type GenerateRequest struct {
	SystemPrompt string
	Personality  call.Personality
	Kind         call.Kind
	History      []call.Turn
	Opening      bool
	Closing      bool
}

type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

type Request struct {
	Personality call.Personality
	Kind        call.Kind
	Transcript  []call.Turn
	// Utterance is the user's latest reply; nil for the opening message.
	Utterance *string
	// Reason carries free-text context for urgent and follow-up calls.
	Reason string
}

// Decision is the next system message and whether the call ends after it. Message may
// be empty only when End is set and at least one message was already sent.
type Decision struct {
	Message string
	End     bool
}

type Engine struct {
	generator Generator
	prompts   *Prompts
	maxTurns  int
	closers   []string
	logger    *slog.Logger
}

func NewEngine(generator Generator, prompts *Prompts, maxTurns int, logger *slog.Logger) *Engine {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		generator: generator,
		prompts:   prompts,
		maxTurns:  maxTurns,
		closers:   defaultClosingPhrases,
		logger:    logger,
	}
}

func (e *Engine) MaxTurns() int {
	return e.maxTurns
}

// Next produces the next system message. The closing message is the maxTurns-th system
// message at the latest, so a transcript never holds more than maxTurns system turns.
func (e *Engine) Next(ctx context.Context, req Request) (Decision, error) {
	sent := countSystemTurns(req.Transcript)
	if sent >= e.maxTurns {
		return Decision{End: true}, nil
	}

	opening := req.Utterance == nil
	closing := sent+1 >= e.maxTurns
	if !opening && IsClosingPhrase(*req.Utterance, e.closers) {
		e.logger.Debug("user closed the call", "call_kind", req.Kind, "turn", sent)
		closing = true
	}

	genReq := GenerateRequest{
		SystemPrompt: e.prompts.SystemPrompt(req.Personality, req.Kind, req.Reason),
		Personality:  req.Personality,
		Kind:         req.Kind,
		History:      req.Transcript,
		Opening:      opening,
		Closing:      closing,
	}

	text, err := e.generator.Generate(ctx, genReq)
	if err == nil {
		msg, end := StripEndMarker(text)
		switch {
		case msg != "":
			return Decision{Message: msg, End: end || closing}, nil
		case end && sent > 0:
			return Decision{End: true}, nil
		default:
			err = errors.New("generator returned an empty message")
		}
	}

	if closing {
		e.logger.Warn("closing message generation failed, using fixed closing line",
			"personality", req.Personality, "error", err)
		return Decision{Message: e.prompts.Personality(req.Personality).Closing, End: true}, nil
	}
	return Decision{}, call.NewGenerationError("generate message", fmt.Errorf("turn %d: %w", sent+1, err))
}

// StripEndMarker removes every end marker from text and reports whether one was present.
func StripEndMarker(text string) (string, bool) {
	if !strings.Contains(text, EndMarker) {
		return strings.TrimSpace(text), false
	}
	return strings.TrimSpace(strings.ReplaceAll(text, EndMarker, "")), true
}

func countSystemTurns(transcript []call.Turn) int {
	n := 0
	for _, t := range transcript {
		if t.Speaker == call.SpeakerSystem {
			n++
		}
	}
	return n
}
