package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/config"
	"github.com/foxseedlab/disciplinecall/internal/metrics"
	"github.com/foxseedlab/disciplinecall/internal/repository"
	"github.com/foxseedlab/disciplinecall/internal/webhook"
	"github.com/google/uuid"
)

const finalizeTimeout = 30 * time.Second

var (
	ErrSessionRunning  = errors.New("session already running for this user and call kind")
	ErrManagerShutdown = errors.New("session manager is shutting down")
)

// OutcomeSink receives every terminal outcome after it was persisted.
type OutcomeSink interface {
	OnSessionOutcome(ctx context.Context, o call.Outcome)
}

type LaunchRequest struct {
	UserID      string
	Kind        call.Kind
	CycleID     string
	Attempt     int
	Channels    []call.ChannelPreference
	Personality call.Personality
	// Reason is free-text context for urgent calls or the prior session of a follow-up.
	Reason string
}

type Manager struct {
	cfg        *config.Config
	repo       repository.OutcomeRepository
	dispatcher Dispatcher
	engine     TurnEngine
	voice      VoiceBridge
	webhook    webhook.Sender
	metrics    *metrics.Metrics
	clock      func() time.Time
	loc        *time.Location

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*runningSession
	users    map[string]*userTurn
	sink     OutcomeSink
	closed   bool
}

type runningSession struct {
	id     string
	cancel context.CancelFunc
}

// userTurn lets one session of a user talk at a time. Sessions of other call kinds
// queue behind it.
type userTurn struct {
	token chan struct{}
	refs  int
}

func NewManager(cfg *config.Config, repo repository.OutcomeRepository, dispatcher Dispatcher, engine TurnEngine, vb VoiceBridge, wh webhook.Sender, m *metrics.Metrics) *Manager {
	loc := time.UTC
	if cfg.DefaultTimezone != "" && cfg.DefaultTimezone != "UTC" {
		if l, err := time.LoadLocation(cfg.DefaultTimezone); err == nil {
			loc = l
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		repo:       repo,
		dispatcher: dispatcher,
		engine:     engine,
		voice:      vb,
		webhook:    wh,
		metrics:    m,
		clock:      time.Now,
		loc:        loc,
		baseCtx:    ctx,
		baseCancel: cancel,
		sessions:   make(map[string]*runningSession),
		users:      make(map[string]*userTurn),
	}
}

// SetOutcomeSink wires the scheduler after both are constructed.
func (m *Manager) SetOutcomeSink(sink OutcomeSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

func (m *Manager) SetClock(clock func() time.Time) {
	m.clock = clock
}

func sessionKey(userID string, kind call.Kind) string {
	return userID + ":" + string(kind)
}

// Launch starts a session in its own goroutine and returns its id. The session runs
// detached from ctx; use Cancel to stop it. An invalid request is reported as a failed
// launch_error outcome as well as an error.
func (m *Manager) Launch(ctx context.Context, req LaunchRequest) (string, error) {
	sessionID := uuid.NewString()
	logger := slog.With("session_id", sessionID, "user_id", req.UserID, "call_kind", req.Kind, "attempt", req.Attempt)

	if err := validateLaunch(req); err != nil {
		logger.Error("failed to launch session", "error", err)
		now := m.clock()
		o := call.Outcome{
			SessionID:      sessionID,
			UserID:         req.UserID,
			Kind:           req.Kind,
			CycleID:        req.CycleID,
			Attempt:        req.Attempt,
			Status:         call.StatusFailed,
			Classification: call.ClassFailed,
			Reason:         call.ReasonLaunchError,
			Personality:    req.Personality,
			StartedAt:      now,
			EndedAt:        now,
			Detail:         err.Error(),
		}
		m.metrics.SessionStarted()
		m.finalize(ctx, o)
		return sessionID, err
	}

	key := sessionKey(req.UserID, req.Kind)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrManagerShutdown
	}
	if rs, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		logger.Warn("session already running; launch skipped", "running_session_id", rs.id)
		return "", ErrSessionRunning
	}
	sessCtx, cancel := context.WithCancel(m.baseCtx)
	m.sessions[key] = &runningSession{id: sessionID, cancel: cancel}
	turn, ok := m.users[req.UserID]
	if !ok {
		turn = &userTurn{token: make(chan struct{}, 1)}
		m.users[req.UserID] = turn
	}
	turn.refs++
	m.wg.Add(1)
	m.mu.Unlock()

	machine := NewMachine(Params{
		SessionID:   sessionID,
		UserID:      req.UserID,
		Kind:        req.Kind,
		CycleID:     req.CycleID,
		Attempt:     req.Attempt,
		Channels:    req.Channels,
		Personality: req.Personality,
		Reason:      req.Reason,
	}, Limits{
		MaxTurns:          m.cfg.MaxTurns,
		ReplyTimeout:      m.cfg.ReplyTimeout(req.Kind),
		GenerationTimeout: m.cfg.GenerationTimeout(),
		VoiceTimeout:      m.cfg.VoiceTimeout(),
		SendTimeout:       m.cfg.SendTimeout(),
	}, MachineDeps{
		Engine:     m.engine,
		Dispatcher: m.dispatcher,
		Voice:      m.voice,
		Clock:      m.clock,
		OnFallback: m.metrics.ChannelFallback,
	})

	m.metrics.SessionStarted()
	logger.Info("session launched", "cycle_id", req.CycleID, "channels", len(req.Channels))

	go func() {
		defer m.wg.Done()
		defer cancel()
		release := m.waitTurn(sessCtx, req.UserID, turn, logger)
		o := machine.Run(sessCtx)
		release()

		m.mu.Lock()
		if rs, ok := m.sessions[key]; ok && rs.id == sessionID {
			delete(m.sessions, key)
		}
		m.mu.Unlock()

		m.finalize(context.Background(), o)
	}()
	return sessionID, nil
}

// waitTurn blocks until no other session of userID is talking or ctx ends. A session
// whose ctx ended while queued still runs and fails as cancelled.
func (m *Manager) waitTurn(ctx context.Context, userID string, turn *userTurn, logger *slog.Logger) func() {
	held := false
	select {
	case turn.token <- struct{}{}:
		held = true
	default:
		logger.Info("waiting for the user's other session to end")
		select {
		case turn.token <- struct{}{}:
			held = true
		case <-ctx.Done():
		}
	}
	return func() {
		if held {
			<-turn.token
		}
		m.mu.Lock()
		turn.refs--
		if turn.refs == 0 {
			delete(m.users, userID)
		}
		m.mu.Unlock()
	}
}

func validateLaunch(req LaunchRequest) error {
	switch {
	case req.UserID == "":
		return call.NewConfigurationError("launch session", errors.New("user id is required"))
	case !req.Kind.Valid():
		return call.NewConfigurationError("launch session", fmt.Errorf("unknown call kind %q", req.Kind))
	case len(req.Channels) == 0:
		return call.NewConfigurationError("launch session", errors.New("no channel preferences"))
	case !req.Personality.Valid():
		return call.NewConfigurationError("launch session", fmt.Errorf("unknown personality %q", req.Personality))
	}
	return nil
}

// Cancel stops the running session for (userID, kind). It reports whether one was running.
func (m *Manager) Cancel(userID string, kind call.Kind) bool {
	m.mu.Lock()
	rs, ok := m.sessions[sessionKey(userID, kind)]
	m.mu.Unlock()
	if !ok {
		return false
	}
	slog.Info("cancelling session", "session_id", rs.id, "user_id", userID, "call_kind", kind)
	rs.cancel()
	return true
}

func (m *Manager) Running(userID string, kind call.Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionKey(userID, kind)]
	return ok
}

// Shutdown cancels every running session and waits for their outcomes to be recorded.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	running := len(m.sessions)
	m.mu.Unlock()
	slog.Info("shutting down session manager", "running_sessions", running)

	m.baseCancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session manager shutdown: %w", ctx.Err())
	}
}

func (m *Manager) finalize(ctx context.Context, o call.Outcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	m.metrics.SessionEnded(o)

	payload := buildOutcomeWebhookPayload(o, m.loc)
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal outcome payload", "error", err, "session_id", o.SessionID)
	}
	if err := m.repo.SaveOutcome(ctx, repository.SaveOutcomeInput{
		Outcome:            o,
		TranscriptText:     string(buildTranscriptText(o, m.loc)),
		WebhookPayloadJSON: payloadJSON,
	}); err != nil {
		slog.Error("failed to save outcome", "error", err, "session_id", o.SessionID)
	}
	if err := m.webhook.SendOutcome(ctx, payload); err != nil {
		slog.Error("failed to send outcome webhook", "error", err, "session_id", o.SessionID)
	}

	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink != nil {
		sink.OnSessionOutcome(ctx, o)
	}
}
