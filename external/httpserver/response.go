package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/call"
)

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// serviceError maps the core error taxonomy onto HTTP statuses.
func serviceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, call.ErrNotFound):
		status = http.StatusNotFound
	case call.KindOf(err) == call.ErrorKindConfiguration:
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	Error(w, status, err.Error())
}

type planResponse struct {
	UserID      string                   `json:"user_id"`
	Morning     string                   `json:"morning_time"`
	Midday      string                   `json:"midday_time"`
	Evening     string                   `json:"evening_time"`
	TimeZone    string                   `json:"time_zone"`
	Channels    []call.ChannelPreference `json:"channels"`
	Personality string                   `json:"personality"`
}

func newPlanResponse(p call.Plan) planResponse {
	return planResponse{
		UserID:      p.UserID,
		Morning:     p.Morning.String(),
		Midday:      p.Midday.String(),
		Evening:     p.Evening.String(),
		TimeZone:    p.TimeZone,
		Channels:    p.Channels,
		Personality: string(p.Personality),
	}
}

type historyEntry struct {
	SessionID       string `json:"session_id"`
	CallKind        string `json:"call_kind"`
	CycleID         string `json:"cycle_id"`
	Attempt         int    `json:"attempt"`
	Classification  string `json:"classification"`
	Reason          string `json:"reason,omitempty"`
	Channel         string `json:"channel,omitempty"`
	Personality     string `json:"personality"`
	TurnCount       int    `json:"turn_count"`
	StartedAt       string `json:"started_at"`
	EndedAt         string `json:"ended_at"`
	DurationSeconds int64  `json:"duration_seconds"`
}

type historyResponse struct {
	UserID string            `json:"user_id"`
	Calls  []historyEntry    `json:"calls"`
	Stats  call.HistoryStats `json:"stats"`
}

func newHistoryResponse(h call.History) historyResponse {
	resp := historyResponse{UserID: h.UserID, Stats: h.Stats, Calls: make([]historyEntry, 0, len(h.Outcomes))}
	for _, o := range h.Outcomes {
		resp.Calls = append(resp.Calls, historyEntry{
			SessionID:       o.SessionID,
			CallKind:        string(o.Kind),
			CycleID:         o.CycleID,
			Attempt:         o.Attempt,
			Classification:  string(o.Classification),
			Reason:          string(o.Reason),
			Channel:         string(o.Channel),
			Personality:     string(o.Personality),
			TurnCount:       o.TurnCount,
			StartedAt:       o.StartedAt.UTC().Format(time.RFC3339),
			EndedAt:         o.EndedAt.UTC().Format(time.RFC3339),
			DurationSeconds: int64(o.Duration().Seconds()),
		})
	}
	return resp
}
