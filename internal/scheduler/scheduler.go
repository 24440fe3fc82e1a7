// Package scheduler owns the trigger table: which session should start for whom and
// when, including bounded retries of missed or failed calls.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/metrics"
	"github.com/foxseedlab/disciplinecall/internal/session"
	"github.com/google/uuid"
)

type Launcher interface {
	Launch(ctx context.Context, req session.LaunchRequest) (string, error)
}

type ExhaustionListener interface {
	OnCycleExhausted(ctx context.Context, ex call.CycleExhaustion)
}

type Options struct {
	MaxRetries int
	Backoff    []time.Duration
	Clock      func() time.Time
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

type Scheduler struct {
	launcher   Launcher
	maxRetries int
	backoff    []time.Duration
	clock      func() time.Time
	metrics    *metrics.Metrics
	logger     *slog.Logger

	mu       sync.Mutex
	plans    map[string]call.Plan
	triggers map[Key]*Trigger
	listener ExhaustionListener
}

func New(launcher Launcher, opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		launcher:   launcher,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		clock:      opts.Clock,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		plans:      make(map[string]call.Plan),
		triggers:   make(map[Key]*Trigger),
	}
}

func (s *Scheduler) SetExhaustionListener(l ExhaustionListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

func (s *Scheduler) Now() time.Time {
	return s.clock()
}

// UpsertPlan registers or replaces a user's plan. Re-submitting an identical plan
// leaves every trigger untouched. Pending retries survive a plan change.
func (s *Scheduler) UpsertPlan(plan call.Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	loc, err := plan.Location()
	if err != nil {
		return call.NewConfigurationError("upsert plan", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.plans[plan.UserID]; ok && cur.Equal(plan) {
		return nil
	}
	s.plans[plan.UserID] = plan.Clone()

	now := s.clock()
	for _, kind := range call.DailyKinds {
		slot, _ := plan.Slot(kind)
		key := Key{UserID: plan.UserID, Kind: kind, Lane: LaneScheduled}
		s.triggers[key] = &Trigger{
			Key:       key,
			Due:       NextOccurrence(slot, loc, now),
			Slot:      slot,
			Recurring: true,
		}
	}
	s.logger.Info("plan scheduled", "user_id", plan.UserID, "time_zone", plan.TimeZone,
		"morning", plan.Morning.String(), "midday", plan.Midday.String(), "evening", plan.Evening.String())
	return nil
}

// RemovePlan forgets the user's plan and every trigger belonging to the user.
func (s *Scheduler) RemovePlan(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.plans[userID]
	delete(s.plans, userID)
	for key := range s.triggers {
		if key.UserID == userID {
			delete(s.triggers, key)
		}
	}
	return ok
}

func (s *Scheduler) Plan(userID string) (call.Plan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[userID]
	if !ok {
		return call.Plan{}, false
	}
	return p.Clone(), true
}

// RequestUrgent queues an urgent call that fires on the next tick.
func (s *Scheduler) RequestUrgent(userID, reason string) error {
	return s.requestNow(userID, call.KindUrgent, reason)
}

// RequestFollowup queues a follow-up to an earlier session that fires on the next tick.
func (s *Scheduler) RequestFollowup(userID, sessionRef string) error {
	reason := ""
	if sessionRef != "" {
		reason = "follow-up to session " + sessionRef
	}
	return s.requestNow(userID, call.KindFollowup, reason)
}

func (s *Scheduler) requestNow(userID string, kind call.Kind, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[userID]; !ok {
		return fmt.Errorf("request %s call for %s: %w", kind, userID, call.ErrNotFound)
	}
	key := Key{UserID: userID, Kind: kind, Lane: LaneScheduled}
	s.triggers[key] = &Trigger{Key: key, Due: s.clock(), Reason: reason}
	s.logger.Info("one-off call requested", "user_id", userID, "call_kind", kind)
	return nil
}

// Cancel removes the outstanding triggers of (userID, kind) in both lanes. A daily slot
// stays armed: its pending occurrence is skipped and the following one is scheduled.
func (s *Scheduler) Cancel(userID string, kind call.Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := false
	retryKey := Key{UserID: userID, Kind: kind, Lane: LaneRetry}
	if _, ok := s.triggers[retryKey]; ok {
		delete(s.triggers, retryKey)
		removed = true
	}

	key := Key{UserID: userID, Kind: kind, Lane: LaneScheduled}
	tr, ok := s.triggers[key]
	if !ok {
		return removed
	}
	removed = true
	plan, hasPlan := s.plans[userID]
	if !tr.Recurring || !hasPlan {
		delete(s.triggers, key)
		return removed
	}
	loc, err := plan.Location()
	if err != nil {
		delete(s.triggers, key)
		return removed
	}
	tr.Due = NextOccurrence(tr.Slot, loc, tr.Due)
	s.logger.Info("pending occurrence cancelled", "user_id", userID, "call_kind", kind, "next_due", tr.Due)
	return removed
}

// Triggers returns a snapshot of the user's triggers ordered by due time.
func (s *Scheduler) Triggers(userID string) []Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Trigger
	for key, tr := range s.triggers {
		if key.UserID == userID {
			out = append(out, *tr)
		}
	}
	sortTriggers(out)
	return out
}

func sortTriggers(ts []Trigger) {
	sort.Slice(ts, func(i, j int) bool { return triggerLess(ts[i], ts[j]) })
}

func triggerLess(a, b Trigger) bool {
	if !a.Due.Equal(b.Due) {
		return a.Due.Before(b.Due)
	}
	if a.UserID != b.UserID {
		return a.UserID < b.UserID
	}
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.Lane < b.Lane
}

type firing struct {
	trigger Trigger
	plan    call.Plan
}

// Tick fires every trigger due at or before now exactly once and returns how many
// launches were attempted. Recurring triggers move to their next occurrence strictly
// after now; occurrences skipped while the process was down are dropped.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	var due []firing

	s.mu.Lock()
	for key, tr := range s.triggers {
		if tr.Due.After(now) {
			continue
		}
		plan, ok := s.plans[key.UserID]
		if !ok {
			delete(s.triggers, key)
			continue
		}
		fired := *tr
		if fired.CycleID == "" {
			fired.CycleID = uuid.NewString()
		}
		if tr.Recurring {
			loc, err := plan.Location()
			if err != nil {
				delete(s.triggers, key)
				s.logger.Error("dropping trigger with invalid time zone", "user_id", key.UserID, "error", err)
				continue
			}
			tr.Due = NextOccurrence(tr.Slot, loc, now)
		} else {
			delete(s.triggers, key)
		}
		due = append(due, firing{trigger: fired, plan: plan.Clone()})
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return triggerLess(due[i].trigger, due[j].trigger) })

	for _, f := range due {
		s.fire(ctx, f)
	}
	return len(due)
}

func (s *Scheduler) fire(ctx context.Context, f firing) {
	tr := f.trigger
	s.metrics.TriggerFired(tr.Kind, string(tr.Lane))
	sessionID, err := s.launcher.Launch(ctx, session.LaunchRequest{
		UserID:      tr.UserID,
		Kind:        tr.Kind,
		CycleID:     tr.CycleID,
		Attempt:     tr.Attempt,
		Channels:    f.plan.Channels,
		Personality: f.plan.Personality,
		Reason:      tr.Reason,
	})
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, session.ErrSessionRunning) {
			level = slog.LevelWarn
		}
		s.logger.Log(ctx, level, "failed to launch session", "user_id", tr.UserID, "call_kind", tr.Kind,
			"lane", tr.Lane, "attempt", tr.Attempt, "cycle_id", tr.CycleID, "error", err)
		// No outcome will follow a rejected retry, so the cycle ends here.
		if sessionID == "" && tr.Lane == LaneRetry && !errors.Is(err, session.ErrManagerShutdown) {
			s.exhaust(ctx, call.CycleExhaustion{
				UserID:             tr.UserID,
				Kind:               tr.Kind,
				CycleID:            tr.CycleID,
				Attempts:           tr.Attempt + 1,
				LastClassification: call.ClassFailed,
				At:                 s.clock(),
			})
		}
		return
	}
	s.logger.Info("trigger fired", "user_id", tr.UserID, "call_kind", tr.Kind, "lane", tr.Lane,
		"attempt", tr.Attempt, "cycle_id", tr.CycleID, "session_id", sessionID)
}

// OnSessionOutcome applies the retry policy. A missed or failed attempt k below the
// ceiling gets exactly one retry trigger for attempt k+1; at the ceiling the cycle is
// reported as exhausted.
func (s *Scheduler) OnSessionOutcome(ctx context.Context, o call.Outcome) {
	logger := s.logger.With("user_id", o.UserID, "call_kind", o.Kind, "cycle_id", o.CycleID, "attempt", o.Attempt)
	if o.Classification == call.ClassCompleted {
		logger.Info("cycle completed")
		return
	}
	if !o.Reason.Retryable() {
		logger.Info("outcome is not retryable", "reason", o.Reason)
		return
	}

	if o.Attempt < s.maxRetries {
		s.mu.Lock()
		if _, ok := s.plans[o.UserID]; !ok {
			s.mu.Unlock()
			logger.Info("plan removed, retry dropped")
			return
		}
		key := Key{UserID: o.UserID, Kind: o.Kind, Lane: LaneRetry}
		tr := &Trigger{
			Key:     key,
			Due:     o.EndedAt.Add(s.backoffFor(o.Attempt)),
			Attempt: o.Attempt + 1,
			CycleID: o.CycleID,
			Reason:  retryReason(o),
		}
		s.triggers[key] = tr
		s.mu.Unlock()

		s.metrics.RetryEnqueued(o.Kind)
		logger.Info("retry scheduled", "classification", o.Classification, "reason", o.Reason, "next_attempt", tr.Attempt, "due", tr.Due)
		return
	}

	s.exhaust(ctx, call.CycleExhaustion{
		UserID:             o.UserID,
		Kind:               o.Kind,
		CycleID:            o.CycleID,
		Attempts:           o.Attempt + 1,
		LastClassification: o.Classification,
		At:                 s.clock(),
	})
}

func (s *Scheduler) exhaust(ctx context.Context, ex call.CycleExhaustion) {
	s.metrics.CycleExhausted(ex.Kind)
	s.logger.Warn("cycle exhausted", "user_id", ex.UserID, "call_kind", ex.Kind, "cycle_id", ex.CycleID,
		"attempts", ex.Attempts, "last_classification", ex.LastClassification)

	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		l.OnCycleExhausted(ctx, ex)
	}
}

func (s *Scheduler) backoffFor(attempt int) time.Duration {
	if len(s.backoff) == 0 {
		return 0
	}
	if attempt >= len(s.backoff) {
		return s.backoff[len(s.backoff)-1]
	}
	return s.backoff[attempt]
}

func retryReason(o call.Outcome) string {
	return fmt.Sprintf("retry of a %s %s call (%s)", o.Classification, o.Kind, o.Reason)
}
