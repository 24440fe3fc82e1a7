// Package coach is the surface used by the HTTP API and the CLI. It persists plans,
// keeps the scheduler's trigger table in step with them and exposes call history.
package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/config"
	"github.com/foxseedlab/disciplinecall/internal/repository"
	"github.com/foxseedlab/disciplinecall/internal/webhook"
)

type Scheduler interface {
	UpsertPlan(plan call.Plan) error
	RemovePlan(userID string) bool
	RequestUrgent(userID, reason string) error
	RequestFollowup(userID, sessionRef string) error
	Cancel(userID string, kind call.Kind) bool
}

type Sessions interface {
	Cancel(userID string, kind call.Kind) bool
}

// PlanInput is a plan as submitted by a caller. Empty times, time zone and
// personality fall back to the configured defaults.
type PlanInput struct {
	UserID      string                   `json:"user_id"`
	Morning     string                   `json:"morning_time,omitempty"`
	Midday      string                   `json:"midday_time,omitempty"`
	Evening     string                   `json:"evening_time,omitempty"`
	TimeZone    string                   `json:"time_zone,omitempty"`
	Channels    []call.ChannelPreference `json:"channels"`
	Personality string                   `json:"personality,omitempty"`
}

type Service struct {
	cfg       *config.Config
	repo      repository.Repository
	scheduler Scheduler
	sessions  Sessions
	webhook   webhook.Sender
	logger    *slog.Logger
}

func NewService(cfg *config.Config, repo repository.Repository, s Scheduler, sessions Sessions, wh webhook.Sender) *Service {
	return &Service{
		cfg:       cfg,
		repo:      repo,
		scheduler: s,
		sessions:  sessions,
		webhook:   wh,
		logger:    slog.Default().With("component", "coach"),
	}
}

// BuildPlan turns caller input into a validated plan.
func (s *Service) BuildPlan(in PlanInput) (call.Plan, error) {
	plan := call.Plan{
		UserID:      strings.TrimSpace(in.UserID),
		TimeZone:    firstNonEmpty(in.TimeZone, s.cfg.DefaultTimezone),
		Channels:    in.Channels,
		Personality: call.Personality(firstNonEmpty(in.Personality, string(call.PersonalityMotivator))),
	}
	slots := []struct {
		dst      *call.TimeOfDay
		value    string
		fallback string
		name     string
	}{
		{&plan.Morning, in.Morning, s.cfg.DefaultMorningTime, "morning_time"},
		{&plan.Midday, in.Midday, s.cfg.DefaultMiddayTime, "midday_time"},
		{&plan.Evening, in.Evening, s.cfg.DefaultEveningTime, "evening_time"},
	}
	for _, slot := range slots {
		t, err := call.ParseTimeOfDay(firstNonEmpty(slot.value, slot.fallback))
		if err != nil {
			return call.Plan{}, call.NewConfigurationError("build plan", fmt.Errorf("%s: %w", slot.name, err))
		}
		*slot.dst = t
	}
	if err := plan.Validate(); err != nil {
		return call.Plan{}, err
	}
	return plan, nil
}

// SchedulePlan stores the plan and (re)arms its daily triggers.
func (s *Service) SchedulePlan(ctx context.Context, in PlanInput) (call.Plan, error) {
	plan, err := s.BuildPlan(in)
	if err != nil {
		return call.Plan{}, err
	}
	for _, pref := range plan.Channels {
		if !s.cfg.ChannelEnabled(pref.Channel) {
			return call.Plan{}, call.NewConfigurationError("schedule plan", fmt.Errorf("channel %s is not enabled", pref.Channel))
		}
	}
	if err := s.repo.UpsertPlan(ctx, plan); err != nil {
		return call.Plan{}, fmt.Errorf("failed to save plan for %s: %w", plan.UserID, err)
	}
	if err := s.scheduler.UpsertPlan(plan); err != nil {
		return call.Plan{}, err
	}
	return plan, nil
}

func (s *Service) RemovePlan(ctx context.Context, userID string) error {
	existing, err := s.repo.GetPlan(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load plan for %s: %w", userID, err)
	}
	removed := s.scheduler.RemovePlan(userID)
	if existing == nil && !removed {
		return fmt.Errorf("remove plan for %s: %w", userID, call.ErrNotFound)
	}
	if err := s.repo.DeletePlan(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete plan for %s: %w", userID, err)
	}
	return nil
}

func (s *Service) RequestUrgentCall(_ context.Context, userID, reason string) error {
	return s.scheduler.RequestUrgent(userID, strings.TrimSpace(reason))
}

func (s *Service) RequestFollowup(_ context.Context, userID, sessionRef string) error {
	return s.scheduler.RequestFollowup(userID, strings.TrimSpace(sessionRef))
}

// CancelCall drops pending triggers for the call and stops a session that is already
// running. Cancelling a call that is neither pending nor running is a no-op.
func (s *Service) CancelCall(_ context.Context, userID string, kind call.Kind) error {
	if !kind.Valid() {
		return call.NewConfigurationError("cancel call", fmt.Errorf("unknown call kind %q", kind))
	}
	triggers := s.scheduler.Cancel(userID, kind)
	running := s.sessions.Cancel(userID, kind)
	if !triggers && !running {
		s.logger.Info("nothing to cancel", "user_id", userID, "call_kind", kind)
		return nil
	}
	s.logger.Info("call cancelled", "user_id", userID, "call_kind", kind, "pending", triggers, "running", running)
	return nil
}

func (s *Service) GetCallHistory(ctx context.Context, userID string, limit int) (call.History, error) {
	if strings.TrimSpace(userID) == "" {
		return call.History{}, call.NewConfigurationError("get call history", errors.New("user id is required"))
	}
	outcomes, err := s.repo.ListOutcomesByUser(ctx, userID, repository.NormalizeLimit(limit))
	if err != nil {
		return call.History{}, fmt.Errorf("failed to list outcomes for %s: %w", userID, err)
	}
	return call.SummarizeHistory(userID, outcomes), nil
}

// Restore loads persisted plans into the scheduler. Invalid plans are logged and skipped.
func (s *Service) Restore(ctx context.Context) (int, error) {
	plans, err := s.repo.ListPlans(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list plans: %w", err)
	}
	restored := 0
	for _, plan := range plans {
		if err := s.scheduler.UpsertPlan(plan); err != nil {
			s.logger.Warn("skipping stored plan", "user_id", plan.UserID, "error", err)
			continue
		}
		restored++
	}
	return restored, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
