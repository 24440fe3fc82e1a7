package webhook

import "context"

const OutcomeWebhookSchemaVersion = "2026-10-01"

type Event string

const (
	EventCallOutcome    Event = "call.outcome"
	EventCycleExhausted Event = "call.cycle_exhausted"
)

type TurnPayload struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	At      string `json:"at"`
}

type OutcomePayload struct {
	SchemaVersion   string        `json:"schema_version"`
	Event           Event         `json:"event"`
	SessionID       string        `json:"session_id"`
	UserID          string        `json:"user_id"`
	CallKind        string        `json:"call_kind"`
	CycleID         string        `json:"cycle_id"`
	Attempt         int           `json:"attempt"`
	Status          string        `json:"status"`
	Classification  string        `json:"classification"`
	Reason          string        `json:"reason,omitempty"`
	Channel         string        `json:"channel,omitempty"`
	Personality     string        `json:"personality"`
	StartAt         string        `json:"start_at"`
	EndAt           string        `json:"end_at"`
	DurationSeconds int64         `json:"duration_seconds"`
	TurnCount       int           `json:"turn_count"`
	Turns           []TurnPayload `json:"turns"`
	Transcript      string        `json:"transcript"`
}

type ExhaustionPayload struct {
	SchemaVersion      string `json:"schema_version"`
	Event              Event  `json:"event"`
	UserID             string `json:"user_id"`
	CallKind           string `json:"call_kind"`
	CycleID            string `json:"cycle_id"`
	Attempts           int    `json:"attempts"`
	LastClassification string `json:"last_classification"`
	At                 string `json:"at"`
}

type Sender interface {
	SendOutcome(ctx context.Context, payload OutcomePayload) error
	SendCycleExhausted(ctx context.Context, payload ExhaustionPayload) error
}
