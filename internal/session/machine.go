package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/channel"
	"github.com/foxseedlab/disciplinecall/internal/conversation"
	"github.com/foxseedlab/disciplinecall/internal/voice"
)

type Dispatcher interface {
	Capabilities(id call.ChannelID) (channel.Capabilities, error)
	Send(ctx context.Context, pref call.ChannelPreference, payload channel.Payload) (channel.Handle, error)
	AwaitReply(ctx context.Context, h channel.Handle, timeout time.Duration) (channel.Reply, error)
	Close(ctx context.Context, h channel.Handle)
}

type TurnEngine interface {
	Next(ctx context.Context, req conversation.Request) (conversation.Decision, error)
}

type VoiceBridge interface {
	Synthesize(ctx context.Context, text string, personality call.Personality, format voice.Format) ([]byte, error)
	Transcribe(ctx context.Context, audio []byte, format voice.Format) (string, error)
}

type Limits struct {
	MaxTurns          int
	ReplyTimeout      time.Duration
	GenerationTimeout time.Duration
	VoiceTimeout      time.Duration
	SendTimeout       time.Duration
}

// Params identifies one session attempt.
type Params struct {
	SessionID   string
	UserID      string
	Kind        call.Kind
	CycleID     string
	Attempt     int
	Channels    []call.ChannelPreference
	Personality call.Personality
	Reason      string
}

type MachineDeps struct {
	Engine     TurnEngine
	Dispatcher Dispatcher
	Voice      VoiceBridge
	Clock      func() time.Time
	Logger     *slog.Logger
	// OnFallback is called when the session switches to its next preferred channel.
	OnFallback func(from, to call.ChannelID)
}

var allowedTransitions = map[call.Status][]call.Status{
	call.StatusCreated:          {call.StatusDispatching, call.StatusFailed},
	call.StatusDispatching:      {call.StatusAwaitingResponse, call.StatusEnding, call.StatusFailed},
	call.StatusAwaitingResponse: {call.StatusProcessing, call.StatusDispatching, call.StatusMissed, call.StatusFailed},
	call.StatusProcessing:       {call.StatusDispatching, call.StatusEnding, call.StatusFailed},
	call.StatusEnding:           {call.StatusCompleted, call.StatusFailed},
}

func transitionAllowed(from, to call.Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Machine drives one Call Session from creation to a terminal outcome. It is used by a
// single goroutine; turns within a session are strictly sequential.
type Machine struct {
	params Params
	limits Limits
	deps   MachineDeps
	logger *slog.Logger

	status       call.Status
	transcript   []call.Turn
	channelIdx   int
	fallbackUsed bool
	handle       *channel.Handle
	startedAt    time.Time
}

func NewMachine(params Params, limits Limits, deps MachineDeps) *Machine {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if limits.MaxTurns <= 0 {
		limits.MaxTurns = conversation.DefaultMaxTurns
	}
	return &Machine{
		params: params,
		limits: limits,
		deps:   deps,
		logger: deps.Logger.With(
			"session_id", params.SessionID,
			"user_id", params.UserID,
			"call_kind", params.Kind,
			"cycle_id", params.CycleID,
			"attempt", params.Attempt,
		),
		status: call.StatusCreated,
	}
}

func (m *Machine) Status() call.Status {
	return m.status
}

// sessionEnd carries the terminal state out of the run loop.
type sessionEnd struct {
	status call.Status
	reason call.Reason
	err    error
}

// Run executes the session and returns its outcome. It never returns a collaborator
// error; every failure is folded into the outcome classification.
func (m *Machine) Run(ctx context.Context) call.Outcome {
	m.startedAt = m.deps.Clock()
	m.logger.Info("session started", "channels", len(m.params.Channels))

	end := m.run(ctx)
	if end.err != nil {
		level := slog.LevelWarn
		if errors.Is(end.err, call.ErrInvariant) {
			level = slog.LevelError
		}
		m.logger.Log(context.Background(), level, "session ended abnormally", "status", end.status, "reason", end.reason, "error", end.err)
	}
	if err := m.transition(end.status); err != nil {
		m.logger.Error("illegal terminal transition", "error", err)
		m.status = call.StatusFailed
		end = sessionEnd{status: call.StatusFailed, reason: call.ReasonInvariantViolation, err: err}
	}
	if m.handle != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), m.limits.SendTimeout)
		m.deps.Dispatcher.Close(closeCtx, *m.handle)
		cancel()
	}

	o := m.outcome(end)
	m.logger.Info("session ended", "status", o.Status, "reason", o.Reason, "channel", o.Channel, "turns", o.TurnCount, "duration_ms", o.Duration().Milliseconds())
	return o
}

func (m *Machine) run(ctx context.Context) sessionEnd {
	if len(m.params.Channels) == 0 {
		return sessionEnd{status: call.StatusFailed, reason: call.ReasonChannelError, err: call.NewChannelError("start session", errors.New("no channel preferences"))}
	}
	if err := ctx.Err(); err != nil {
		return m.fail(ctx, err)
	}
	if err := m.transition(call.StatusDispatching); err != nil {
		return m.fail(ctx, err)
	}

	decision, err := m.decide(ctx, nil)
	if err != nil {
		return m.fail(ctx, err)
	}

	for {
		// Dispatching
		if decision.Message == "" {
			// Only reachable once something was sent; the engine guarantees it.
			if len(m.transcript) == 0 {
				return m.fail(ctx, call.NewInvariantViolation("dispatch", errors.New("empty opening message")))
			}
		} else {
			if err := m.deliver(ctx, decision.Message); err != nil {
				return m.fail(ctx, err)
			}
			if err := m.appendTurn(call.SpeakerSystem, decision.Message); err != nil {
				return m.fail(ctx, err)
			}
		}

		if decision.End {
			if err := m.transition(call.StatusEnding); err != nil {
				return m.fail(ctx, err)
			}
			return sessionEnd{status: call.StatusCompleted}
		}

		reply, err := m.awaitReply(ctx)
		if err != nil {
			return m.fail(ctx, err)
		}

		// Processing
		if err := m.transition(call.StatusProcessing); err != nil {
			return m.fail(ctx, err)
		}
		utterance, err := m.utterance(ctx, reply)
		if err != nil {
			return m.fail(ctx, err)
		}
		if err := m.appendTurn(call.SpeakerUser, utterance); err != nil {
			return m.fail(ctx, err)
		}

		decision, err = m.decide(ctx, &utterance)
		if err != nil {
			return m.fail(ctx, err)
		}
		if decision.Message == "" && decision.End {
			if err := m.transition(call.StatusEnding); err != nil {
				return m.fail(ctx, err)
			}
			return sessionEnd{status: call.StatusCompleted}
		}
		if err := m.transition(call.StatusDispatching); err != nil {
			return m.fail(ctx, err)
		}
	}
}

// awaitReply waits in AwaitingResponse. A channel error moves the session to the next
// preferred channel once and resends the last system message there.
func (m *Machine) awaitReply(ctx context.Context) (channel.Reply, error) {
	for {
		if err := m.transition(call.StatusAwaitingResponse); err != nil {
			return channel.Reply{}, err
		}
		reply, err := m.deps.Dispatcher.AwaitReply(ctx, *m.handle, m.limits.ReplyTimeout)
		if err == nil {
			return reply, nil
		}
		if ctx.Err() != nil || !errors.Is(err, call.ErrChannel) || !m.fallback(err) {
			return channel.Reply{}, err
		}
		if err := m.transition(call.StatusDispatching); err != nil {
			return channel.Reply{}, err
		}
		if err := m.deliver(ctx, m.lastSystemText()); err != nil {
			return channel.Reply{}, err
		}
	}
}

func (m *Machine) decide(ctx context.Context, utterance *string) (conversation.Decision, error) {
	genCtx, cancel := context.WithTimeout(ctx, m.limits.GenerationTimeout)
	defer cancel()
	d, err := m.deps.Engine.Next(genCtx, conversation.Request{
		Personality: m.params.Personality,
		Kind:        m.params.Kind,
		Transcript:  m.transcript,
		Utterance:   utterance,
		Reason:      m.params.Reason,
	})
	if err != nil {
		if call.KindOf(err) == call.ErrorKindUnknown {
			err = call.NewGenerationError("next turn", err)
		}
		return conversation.Decision{}, err
	}
	return d, nil
}

// deliver sends text on the current channel, falling back to the next preference once.
func (m *Machine) deliver(ctx context.Context, text string) error {
	for {
		pref := m.params.Channels[m.channelIdx]
		err := m.sendOn(ctx, pref, text)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !errors.Is(err, call.ErrChannel) || !m.fallback(err) {
			return err
		}
	}
}

func (m *Machine) sendOn(ctx context.Context, pref call.ChannelPreference, text string) error {
	caps, err := m.deps.Dispatcher.Capabilities(pref.Channel)
	if err != nil {
		return err
	}
	payload, err := m.payload(ctx, caps, text)
	if err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, m.limits.SendTimeout)
	defer cancel()
	h, err := m.deps.Dispatcher.Send(sendCtx, pref, payload)
	if err != nil {
		return err
	}
	m.handle = &h
	return nil
}

func (m *Machine) payload(ctx context.Context, caps channel.Capabilities, text string) (channel.Payload, error) {
	p := channel.Payload{Conversation: m.params.SessionID, Text: text}
	if !caps.VoiceOut || m.deps.Voice == nil {
		if caps.AudioOnly() {
			return p, call.NewGenerationError("synthesize", errors.New("audio-only channel without a synthesizer"))
		}
		return p, nil
	}
	voiceCtx, cancel := context.WithTimeout(ctx, m.limits.VoiceTimeout)
	defer cancel()
	audio, err := m.deps.Voice.Synthesize(voiceCtx, text, m.params.Personality, caps.AudioFormat)
	if err != nil {
		if caps.AudioOnly() {
			return p, call.NewGenerationError("synthesize", err)
		}
		if !errors.Is(err, voice.ErrNotSupported) {
			m.logger.Warn("speech synthesis failed, sending text", "error", err)
		}
		return p, nil
	}
	p.Audio = audio
	p.Format = caps.AudioFormat
	return p, nil
}

func (m *Machine) utterance(ctx context.Context, reply channel.Reply) (string, error) {
	if !reply.IsAudio() {
		return reply.Text, nil
	}
	if m.deps.Voice == nil {
		return reply.Text, nil
	}
	voiceCtx, cancel := context.WithTimeout(ctx, m.limits.VoiceTimeout)
	defer cancel()
	text, err := m.deps.Voice.Transcribe(voiceCtx, reply.Audio, reply.Format)
	switch {
	case err == nil:
		return text, nil
	case errors.Is(err, voice.ErrUntranscribable), errors.Is(err, voice.ErrNotSupported):
		m.logger.Info("reply could not be transcribed, continuing with its text part", "error", err)
		return reply.Text, nil
	default:
		return "", call.NewGenerationError("transcribe", err)
	}
}

func (m *Machine) fallback(cause error) bool {
	if m.fallbackUsed || m.channelIdx+1 >= len(m.params.Channels) {
		return false
	}
	from := m.params.Channels[m.channelIdx].Channel
	if m.handle != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), m.limits.SendTimeout)
		m.deps.Dispatcher.Close(closeCtx, *m.handle)
		cancel()
		m.handle = nil
	}
	m.fallbackUsed = true
	m.channelIdx++
	to := m.params.Channels[m.channelIdx].Channel
	m.logger.Warn("channel failed, falling back", "from", from, "to", to, "error", cause)
	if m.deps.OnFallback != nil {
		m.deps.OnFallback(from, to)
	}
	return true
}

func (m *Machine) transition(to call.Status) error {
	if !transitionAllowed(m.status, to) {
		return call.NewInvariantViolation("transition", fmt.Errorf("%s -> %s", m.status, to))
	}
	m.logger.Debug("session transition", "from", m.status, "to", to)
	m.status = to
	return nil
}

// appendTurn keeps the transcript alternating, opening with a system message, and
// bounded by twice the turn ceiling.
func (m *Machine) appendTurn(speaker call.Speaker, text string) error {
	n := len(m.transcript)
	switch {
	case n == 0 && speaker != call.SpeakerSystem:
		return call.NewInvariantViolation("append turn", errors.New("transcript must open with a system message"))
	case n > 0 && m.transcript[n-1].Speaker == speaker:
		return call.NewInvariantViolation("append turn", fmt.Errorf("two consecutive %s turns", speaker))
	case n >= 2*m.limits.MaxTurns:
		return call.NewInvariantViolation("append turn", fmt.Errorf("transcript exceeds %d turns", 2*m.limits.MaxTurns))
	}
	m.transcript = append(m.transcript, call.Turn{Speaker: speaker, Text: text, At: m.deps.Clock()})
	return nil
}

func (m *Machine) lastSystemText() string {
	for i := len(m.transcript) - 1; i >= 0; i-- {
		if m.transcript[i].Speaker == call.SpeakerSystem {
			return m.transcript[i].Text
		}
	}
	return ""
}

// fail maps an error to a terminal state. Cancellation of ctx wins over whatever the
// collaborator reported.
func (m *Machine) fail(ctx context.Context, err error) sessionEnd {
	if ctx.Err() != nil {
		return sessionEnd{status: call.StatusFailed, reason: call.ReasonCancelled, err: err}
	}
	switch call.KindOf(err) {
	case call.ErrorKindTimeout:
		if m.status == call.StatusAwaitingResponse {
			return sessionEnd{status: call.StatusMissed, reason: call.ReasonTimeout, err: err}
		}
		return sessionEnd{status: call.StatusFailed, reason: call.ReasonChannelError, err: err}
	case call.ErrorKindChannel:
		return sessionEnd{status: call.StatusFailed, reason: call.ReasonChannelError, err: err}
	case call.ErrorKindGeneration:
		return sessionEnd{status: call.StatusFailed, reason: call.ReasonGenerationError, err: err}
	case call.ErrorKindInvariant:
		return sessionEnd{status: call.StatusFailed, reason: call.ReasonInvariantViolation, err: err}
	case call.ErrorKindConfiguration:
		return sessionEnd{status: call.StatusFailed, reason: call.ReasonConfiguration, err: err}
	default:
		if errors.Is(err, context.Canceled) {
			return sessionEnd{status: call.StatusFailed, reason: call.ReasonCancelled, err: err}
		}
		return sessionEnd{status: call.StatusFailed, reason: call.ReasonChannelError, err: err}
	}
}

func (m *Machine) outcome(end sessionEnd) call.Outcome {
	ch := m.params.Channels
	var used call.ChannelID
	if len(ch) > 0 {
		used = ch[m.channelIdx].Channel
	}
	detail := ""
	if end.err != nil {
		detail = end.err.Error()
	}
	turns := 0
	for _, t := range m.transcript {
		if t.Speaker == call.SpeakerSystem {
			turns++
		}
	}
	return call.Outcome{
		SessionID:      m.params.SessionID,
		UserID:         m.params.UserID,
		Kind:           m.params.Kind,
		CycleID:        m.params.CycleID,
		Attempt:        m.params.Attempt,
		Status:         m.status,
		Classification: call.ClassificationFor(m.status),
		Reason:         end.reason,
		Channel:        used,
		Personality:    m.params.Personality,
		TurnCount:      turns,
		StartedAt:      m.startedAt,
		EndedAt:        m.deps.Clock(),
		Transcript:     append([]call.Turn(nil), m.transcript...),
		Detail:         detail,
	}
}
