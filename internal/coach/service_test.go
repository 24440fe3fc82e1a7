package coach

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/config"
	"github.com/foxseedlab/disciplinecall/internal/repository"
	"github.com/foxseedlab/disciplinecall/internal/scheduler"
	"github.com/foxseedlab/disciplinecall/internal/session"
	"github.com/foxseedlab/disciplinecall/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRepository struct {
	mu          sync.Mutex
	plans       map[string]call.Plan
	outcomes    []call.Outcome
	exhaustions []call.CycleExhaustion
	lastLimit   int
	listErr     error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{plans: make(map[string]call.Plan)}
}

func (r *memoryRepository) UpsertPlan(_ context.Context, plan call.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans[plan.UserID] = plan
	return nil
}

func (r *memoryRepository) GetPlan(_ context.Context, userID string) (*call.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plans[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *memoryRepository) ListPlans(context.Context) ([]call.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]call.Plan, 0, len(r.plans))
	for _, p := range r.plans {
		out = append(out, p)
	}
	return out, nil
}

func (r *memoryRepository) DeletePlan(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plans, userID)
	return nil
}

func (r *memoryRepository) SaveOutcome(_ context.Context, input repository.SaveOutcomeInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, input.Outcome)
	return nil
}

func (r *memoryRepository) ListOutcomesByUser(_ context.Context, userID string, limit int) ([]call.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastLimit = limit
	var out []call.Outcome
	for _, o := range r.outcomes {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *memoryRepository) SaveExhaustion(_ context.Context, ex call.CycleExhaustion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exhaustions = append(r.exhaustions, ex)
	return nil
}

func (r *memoryRepository) Close() {}

type noopLauncher struct{}

func (noopLauncher) Launch(context.Context, session.LaunchRequest) (string, error) {
	return "session-1", nil
}

type fakeSessions struct {
	running map[call.Kind]bool
}

func (f *fakeSessions) Cancel(_ string, kind call.Kind) bool {
	was := f.running[kind]
	delete(f.running, kind)
	return was
}

type recordingWebhook struct {
	exhausted []webhook.ExhaustionPayload
}

func (w *recordingWebhook) SendOutcome(context.Context, webhook.OutcomePayload) error {
	return nil
}

func (w *recordingWebhook) SendCycleExhausted(_ context.Context, p webhook.ExhaustionPayload) error {
	w.exhausted = append(w.exhausted, p)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		EnabledChannels:    []string{"telegram", "telephony"},
		DefaultMorningTime: "08:00",
		DefaultMiddayTime:  "13:00",
		DefaultEveningTime: "20:00",
		DefaultTimezone:    "UTC",
	}
}

type fixture struct {
	svc       *Service
	repo      *memoryRepository
	scheduler *scheduler.Scheduler
	sessions  *fakeSessions
	webhook   *recordingWebhook
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := newMemoryRepository()
	now := time.Date(2026, 10, 16, 6, 0, 0, 0, time.UTC)
	sched := scheduler.New(noopLauncher{}, scheduler.Options{
		MaxRetries: 2,
		Backoff:    []time.Duration{5 * time.Minute},
		Clock:      func() time.Time { return now },
	})
	sessions := &fakeSessions{running: map[call.Kind]bool{}}
	wh := &recordingWebhook{}
	return fixture{
		svc:       NewService(testConfig(), repo, sched, sessions, wh),
		repo:      repo,
		scheduler: sched,
		sessions:  sessions,
		webhook:   wh,
	}
}

func telegramInput(userID string) PlanInput {
	return PlanInput{
		UserID:   userID,
		Channels: []call.ChannelPreference{{Channel: call.ChannelTelegram, Address: "12345"}},
	}
}

func TestService_SchedulePlanAppliesDefaults(t *testing.T) {
	f := newFixture(t)

	plan, err := f.svc.SchedulePlan(context.Background(), telegramInput("user-1"))
	require.NoError(t, err)

	assert.Equal(t, call.MustTimeOfDay("08:00"), plan.Morning)
	assert.Equal(t, call.MustTimeOfDay("13:00"), plan.Midday)
	assert.Equal(t, call.MustTimeOfDay("20:00"), plan.Evening)
	assert.Equal(t, call.PersonalityMotivator, plan.Personality)
	assert.Equal(t, "UTC", plan.TimeZone)

	stored, err := f.repo.GetPlan(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Equal(plan))
	assert.Len(t, f.scheduler.Triggers("user-1"), 3)
}

func TestService_SchedulePlanRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		input PlanInput
	}{
		{name: "missing user", input: telegramInput("")},
		{name: "bad time", input: func() PlanInput { in := telegramInput("u"); in.Morning = "25:00"; return in }()},
		{name: "unknown personality", input: func() PlanInput { in := telegramInput("u"); in.Personality = "pirate"; return in }()},
		{name: "no channels", input: PlanInput{UserID: "u"}},
		{name: "channel not enabled", input: PlanInput{
			UserID:   "u",
			Channels: []call.ChannelPreference{{Channel: call.ChannelDiscord, Address: "vc-1"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.SchedulePlan(context.Background(), tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, call.ErrConfiguration)
			assert.Empty(t, f.repo.plans)
		})
	}
}

func TestService_RemovePlan(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SchedulePlan(context.Background(), telegramInput("user-1"))
	require.NoError(t, err)

	require.NoError(t, f.svc.RemovePlan(context.Background(), "user-1"))
	assert.Empty(t, f.scheduler.Triggers("user-1"))
	assert.Empty(t, f.repo.plans)

	err = f.svc.RemovePlan(context.Background(), "user-1")
	assert.ErrorIs(t, err, call.ErrNotFound)
}

func TestService_CancelCall(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SchedulePlan(context.Background(), telegramInput("user-1"))
	require.NoError(t, err)

	assert.NoError(t, f.svc.CancelCall(context.Background(), "user-1", call.KindUrgent))
	assert.NoError(t, f.svc.CancelCall(context.Background(), "ghost", call.KindMorning))
	assert.ErrorIs(t, f.svc.CancelCall(context.Background(), "user-1", call.Kind("brunch")), call.ErrConfiguration)

	require.NoError(t, f.svc.RequestUrgentCall(context.Background(), "user-1", "missed workout"))
	require.NoError(t, f.svc.CancelCall(context.Background(), "user-1", call.KindUrgent))

	f.sessions.running[call.KindFollowup] = true
	require.NoError(t, f.svc.CancelCall(context.Background(), "user-1", call.KindFollowup))
}

func TestService_RequestsNeedAPlan(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.svc.RequestUrgentCall(context.Background(), "ghost", "why"), call.ErrNotFound)
	assert.ErrorIs(t, f.svc.RequestFollowup(context.Background(), "ghost", "s-1"), call.ErrNotFound)
}

func TestService_GetCallHistory(t *testing.T) {
	f := newFixture(t)
	f.repo.outcomes = []call.Outcome{
		{UserID: "user-1", Classification: call.ClassCompleted},
		{UserID: "user-1", Classification: call.ClassMissed},
		{UserID: "user-2", Classification: call.ClassCompleted},
	}

	h, err := f.svc.GetCallHistory(context.Background(), "user-1", 0)
	require.NoError(t, err)
	assert.Equal(t, repository.DefaultHistoryLimit, f.repo.lastLimit)
	assert.Equal(t, 2, h.Stats.Total)
	assert.Equal(t, 1, h.Stats.Completed)
	assert.Equal(t, 1, h.Stats.Missed)
	assert.InDelta(t, 0.5, h.Stats.SuccessRate, 1e-9)

	_, err = f.svc.GetCallHistory(context.Background(), " ", 10)
	assert.ErrorIs(t, err, call.ErrConfiguration)
}

func TestService_Restore(t *testing.T) {
	f := newFixture(t)
	good := call.Plan{
		UserID:      "user-1",
		Morning:     call.MustTimeOfDay("07:00"),
		Midday:      call.MustTimeOfDay("12:00"),
		Evening:     call.MustTimeOfDay("19:00"),
		TimeZone:    "UTC",
		Channels:    []call.ChannelPreference{{Channel: call.ChannelTelegram, Address: "1"}},
		Personality: call.PersonalityFriend,
	}
	bad := good
	bad.UserID = "user-2"
	bad.Personality = "pirate"
	f.repo.plans[good.UserID] = good
	f.repo.plans[bad.UserID] = bad

	n, err := f.svc.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.scheduler.Triggers("user-1"), 3)
	assert.Empty(t, f.scheduler.Triggers("user-2"))

	f.repo.listErr = errors.New("db down")
	_, err = f.svc.Restore(context.Background())
	assert.Error(t, err)
}

func TestService_OnCycleExhausted(t *testing.T) {
	f := newFixture(t)
	ex := call.CycleExhaustion{
		UserID:             "user-1",
		Kind:               call.KindEvening,
		CycleID:            "cycle-9",
		Attempts:           3,
		LastClassification: call.ClassMissed,
		At:                 time.Date(2026, 10, 16, 21, 40, 0, 0, time.UTC),
	}

	f.svc.OnCycleExhausted(context.Background(), ex)

	require.Len(t, f.repo.exhaustions, 1)
	assert.Equal(t, ex, f.repo.exhaustions[0])
	require.Len(t, f.webhook.exhausted, 1)
	p := f.webhook.exhausted[0]
	assert.Equal(t, webhook.EventCycleExhausted, p.Event)
	assert.Equal(t, "evening", p.CallKind)
	assert.Equal(t, "missed", p.LastClassification)
	assert.Equal(t, 3, p.Attempts)
	assert.Equal(t, "2026-10-16T21:40:00Z", p.At)
}
