package repository

import (
	"context"

	"github.com/foxseedlab/disciplinecall/internal/call"
)

type SaveOutcomeInput struct {
	Outcome            call.Outcome
	TranscriptText     string
	WebhookPayloadJSON []byte
}

type PlanRepository interface {
	UpsertPlan(ctx context.Context, plan call.Plan) error
	// GetPlan returns nil without error when the user has no plan.
	GetPlan(ctx context.Context, userID string) (*call.Plan, error)
	ListPlans(ctx context.Context) ([]call.Plan, error)
	DeletePlan(ctx context.Context, userID string) error
}

type OutcomeRepository interface {
	SaveOutcome(ctx context.Context, input SaveOutcomeInput) error
	// ListOutcomesByUser returns the most recent outcomes first.
	ListOutcomesByUser(ctx context.Context, userID string, limit int) ([]call.Outcome, error)
}

type CycleRepository interface {
	SaveExhaustion(ctx context.Context, ex call.CycleExhaustion) error
}

type Repository interface {
	PlanRepository
	OutcomeRepository
	CycleRepository
	Close()
}
