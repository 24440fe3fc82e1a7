package session

import (
	"strings"
	"testing"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/webhook"
)

func sampleOutcome(startedAt time.Time) call.Outcome {
	return call.Outcome{
		SessionID:      "session-1",
		UserID:         "user-1",
		Kind:           call.KindEvening,
		CycleID:        "cycle-1",
		Attempt:        1,
		Status:         call.StatusCompleted,
		Classification: call.ClassCompleted,
		Channel:        call.ChannelWhatsApp,
		Personality:    call.PersonalityMentor,
		TurnCount:      2,
		StartedAt:      startedAt,
		EndedAt:        startedAt.Add(2 * time.Minute),
		Transcript: []call.Turn{
			{Speaker: call.SpeakerSystem, Text: "How did today go?", At: startedAt.Add(2 * time.Second)},
			{Speaker: call.SpeakerUser, Text: "Finished the draft", At: startedAt.Add(75 * time.Second)},
			{Speaker: call.SpeakerSystem, Text: "Well done, rest up.", At: startedAt.Add(80 * time.Second)},
		},
	}
}

func TestBuildTranscriptText(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("failed to load location: %v", err)
	}
	startedAt := time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)

	body := string(buildTranscriptText(sampleOutcome(startedAt), loc))

	if !strings.Contains(body, "Call: evening, attempt 2") {
		t.Fatalf("call line not found in body: %s", body)
	}
	if !strings.Contains(body, "Period: 2026-02-28 21:00:00 ~ 2026-02-28 21:02:00 (Asia/Tokyo)") {
		t.Fatalf("period line not found in body: %s", body)
	}
	if !strings.Contains(body, "Result: completed") {
		t.Fatalf("result line not found in body: %s", body)
	}
	if !strings.Contains(body, "00:00:02 [coach] How did today go?") {
		t.Fatalf("first turn line not found in body: %s", body)
	}
	if !strings.Contains(body, "00:01:15 [user] Finished the draft") {
		t.Fatalf("second turn line not found in body: %s", body)
	}
}

func TestBuildTranscriptText_IncludesReason(t *testing.T) {
	o := sampleOutcome(time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC))
	o.Status = call.StatusMissed
	o.Classification = call.ClassMissed
	o.Reason = call.ReasonTimeout

	body := string(buildTranscriptText(o, nil))
	if !strings.Contains(body, "Result: missed (timeout)") {
		t.Fatalf("result line not found in body: %s", body)
	}
}

func TestBuildOutcomeWebhookPayload(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("failed to load location: %v", err)
	}
	startedAt := time.Date(2026, 2, 28, 19, 0, 0, 0, loc)

	payload := buildOutcomeWebhookPayload(sampleOutcome(startedAt), loc)

	if payload.SchemaVersion != webhook.OutcomeWebhookSchemaVersion || payload.Event != webhook.EventCallOutcome {
		t.Fatalf("unexpected header: %s %s", payload.SchemaVersion, payload.Event)
	}
	if payload.DurationSeconds != 120 {
		t.Fatalf("unexpected duration: %d", payload.DurationSeconds)
	}
	if len(payload.Turns) != 3 || payload.Turns[1].Speaker != "user" {
		t.Fatalf("unexpected turns: %+v", payload.Turns)
	}
	if payload.StartAt != startedAt.Format(time.RFC3339) {
		t.Fatalf("unexpected start_at: %s", payload.StartAt)
	}
	if !strings.HasPrefix(payload.Transcript, "coach: How did today go?\nuser: Finished the draft") {
		t.Fatalf("unexpected transcript: %s", payload.Transcript)
	}
	if payload.Reason != "" {
		t.Fatalf("expected empty reason, got %s", payload.Reason)
	}
}
