package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/call"
)

// planRow is the column layout shared by the Postgres and SQLite plan tables.
type planRow struct {
	UserID      string
	Morning     string
	Midday      string
	Evening     string
	TimeZone    string
	Channels    []byte
	Personality string
}

func newPlanRow(p call.Plan) (planRow, error) {
	channels, err := json.Marshal(p.Channels)
	if err != nil {
		return planRow{}, fmt.Errorf("failed to encode channels: %w", err)
	}
	return planRow{
		UserID:      p.UserID,
		Morning:     p.Morning.String(),
		Midday:      p.Midday.String(),
		Evening:     p.Evening.String(),
		TimeZone:    p.TimeZone,
		Channels:    channels,
		Personality: string(p.Personality),
	}, nil
}

func (r planRow) plan() (call.Plan, error) {
	p := call.Plan{
		UserID:      r.UserID,
		TimeZone:    r.TimeZone,
		Personality: call.Personality(r.Personality),
	}
	var err error
	if p.Morning, err = call.ParseTimeOfDay(r.Morning); err != nil {
		return call.Plan{}, err
	}
	if p.Midday, err = call.ParseTimeOfDay(r.Midday); err != nil {
		return call.Plan{}, err
	}
	if p.Evening, err = call.ParseTimeOfDay(r.Evening); err != nil {
		return call.Plan{}, err
	}
	if len(r.Channels) > 0 {
		if err := json.Unmarshal(r.Channels, &p.Channels); err != nil {
			return call.Plan{}, fmt.Errorf("failed to decode channels of %s: %w", r.UserID, err)
		}
	}
	return p, nil
}

// outcomeRow is the column layout shared by both call_outcomes tables.
type outcomeRow struct {
	SessionID      string
	UserID         string
	Kind           string
	CycleID        string
	Attempt        int
	Status         string
	Classification string
	Reason         string
	Channel        string
	Personality    string
	TurnCount      int
	StartedAt      time.Time
	EndedAt        time.Time
	Transcript     []byte
	Detail         string
}

func newOutcomeRow(o call.Outcome) (outcomeRow, error) {
	turns := o.Transcript
	if turns == nil {
		turns = []call.Turn{}
	}
	transcript, err := json.Marshal(turns)
	if err != nil {
		return outcomeRow{}, fmt.Errorf("failed to encode transcript: %w", err)
	}
	return outcomeRow{
		SessionID:      o.SessionID,
		UserID:         o.UserID,
		Kind:           string(o.Kind),
		CycleID:        o.CycleID,
		Attempt:        o.Attempt,
		Status:         string(o.Status),
		Classification: string(o.Classification),
		Reason:         string(o.Reason),
		Channel:        string(o.Channel),
		Personality:    string(o.Personality),
		TurnCount:      o.TurnCount,
		StartedAt:      o.StartedAt.UTC(),
		EndedAt:        o.EndedAt.UTC(),
		Transcript:     transcript,
		Detail:         o.Detail,
	}, nil
}

func (r outcomeRow) outcome() (call.Outcome, error) {
	o := call.Outcome{
		SessionID:      r.SessionID,
		UserID:         r.UserID,
		Kind:           call.Kind(r.Kind),
		CycleID:        r.CycleID,
		Attempt:        r.Attempt,
		Status:         call.Status(r.Status),
		Classification: call.Classification(r.Classification),
		Reason:         call.Reason(r.Reason),
		Channel:        call.ChannelID(r.Channel),
		Personality:    call.Personality(r.Personality),
		TurnCount:      r.TurnCount,
		StartedAt:      r.StartedAt,
		EndedAt:        r.EndedAt,
		Detail:         r.Detail,
	}
	if len(r.Transcript) > 0 {
		if err := json.Unmarshal(r.Transcript, &o.Transcript); err != nil {
			return call.Outcome{}, fmt.Errorf("failed to decode transcript of %s: %w", r.SessionID, err)
		}
	}
	return o, nil
}

// nullableJSON keeps absent webhook payloads as SQL NULL.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
