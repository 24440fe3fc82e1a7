package coach

import (
	"context"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/webhook"
)

// OnCycleExhausted records that every attempt of a cycle was missed or failed and
// forwards it to the outcome webhook.
func (s *Service) OnCycleExhausted(ctx context.Context, ex call.CycleExhaustion) {
	logger := s.logger.With("user_id", ex.UserID, "call_kind", ex.Kind, "cycle_id", ex.CycleID)

	if err := s.repo.SaveExhaustion(ctx, ex); err != nil {
		logger.Error("failed to save cycle exhaustion", "error", err)
	}
	if s.webhook == nil {
		return
	}
	if err := s.webhook.SendCycleExhausted(ctx, buildExhaustionPayload(ex)); err != nil {
		logger.Error("failed to send cycle exhaustion webhook", "error", err)
	}
}

func buildExhaustionPayload(ex call.CycleExhaustion) webhook.ExhaustionPayload {
	return webhook.ExhaustionPayload{
		SchemaVersion:      webhook.OutcomeWebhookSchemaVersion,
		Event:              webhook.EventCycleExhausted,
		UserID:             ex.UserID,
		CallKind:           string(ex.Kind),
		CycleID:            ex.CycleID,
		Attempts:           ex.Attempts,
		LastClassification: string(ex.LastClassification),
		At:                 ex.At.UTC().Format(time.RFC3339),
	}
}
