package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/webhook"
)

const transcriptTimeLayout = "2006-01-02 15:04:05"

var speakerLabels = map[call.Speaker]string{
	call.SpeakerSystem: "coach",
	call.SpeakerUser:   "user",
}

func buildTranscriptText(o call.Outcome, loc *time.Location) []byte {
	loc = safeLocation(loc)
	startText := o.StartedAt.In(loc).Format(transcriptTimeLayout)
	endText := o.EndedAt.In(loc).Format(transcriptTimeLayout)

	result := string(o.Classification)
	if o.Reason != call.ReasonNone {
		result += " (" + string(o.Reason) + ")"
	}

	lines := []string{
		fmt.Sprintf("Call: %s, attempt %d", o.Kind, o.Attempt+1),
		fmt.Sprintf("User: %s", o.UserID),
		fmt.Sprintf("Coach: %s via %s", o.Personality, o.Channel),
		fmt.Sprintf("Period: %s ~ %s (%s)", startText, endText, loc.String()),
		fmt.Sprintf("Result: %s", result),
		"",
	}
	for _, turn := range o.Transcript {
		elapsed := turn.At.Sub(o.StartedAt)
		if elapsed < 0 {
			elapsed = 0
		}
		lines = append(lines, fmt.Sprintf("%s [%s] %s", formatElapsedHMS(elapsed), speakerLabels[turn.Speaker], turn.Text))
	}
	return []byte(strings.Join(lines, "\n"))
}

func buildOutcomeWebhookPayload(o call.Outcome, loc *time.Location) webhook.OutcomePayload {
	loc = safeLocation(loc)
	turns := make([]webhook.TurnPayload, 0, len(o.Transcript))
	lines := make([]string, 0, len(o.Transcript))
	for _, t := range o.Transcript {
		turns = append(turns, webhook.TurnPayload{
			Speaker: string(t.Speaker),
			Text:    t.Text,
			At:      t.At.In(loc).Format(time.RFC3339),
		})
		lines = append(lines, fmt.Sprintf("%s: %s", speakerLabels[t.Speaker], t.Text))
	}

	return webhook.OutcomePayload{
		SchemaVersion:   webhook.OutcomeWebhookSchemaVersion,
		Event:           webhook.EventCallOutcome,
		SessionID:       o.SessionID,
		UserID:          o.UserID,
		CallKind:        string(o.Kind),
		CycleID:         o.CycleID,
		Attempt:         o.Attempt,
		Status:          string(o.Status),
		Classification:  string(o.Classification),
		Reason:          string(o.Reason),
		Channel:         string(o.Channel),
		Personality:     string(o.Personality),
		StartAt:         o.StartedAt.In(loc).Format(time.RFC3339),
		EndAt:           o.EndedAt.In(loc).Format(time.RFC3339),
		DurationSeconds: int64(o.Duration().Seconds()),
		TurnCount:       o.TurnCount,
		Turns:           turns,
		Transcript:      strings.Join(lines, "\n"),
	}
}

func formatElapsedHMS(d time.Duration) string {
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func safeLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
