package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/coach"
	"github.com/go-chi/chi/v5"
)

const maxRequestBody = 1 << 20

// Coach is the core surface the API exposes.
type Coach interface {
	SchedulePlan(ctx context.Context, in coach.PlanInput) (call.Plan, error)
	RemovePlan(ctx context.Context, userID string) error
	RequestUrgentCall(ctx context.Context, userID, reason string) error
	RequestFollowup(ctx context.Context, userID, sessionRef string) error
	CancelCall(ctx context.Context, userID string, kind call.Kind) error
	GetCallHistory(ctx context.Context, userID string, limit int) (call.History, error)
}

type APIHandler struct {
	coach Coach
}

func NewAPIHandler(c Coach) *APIHandler {
	return &APIHandler{coach: c}
}

func (h *APIHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/plans", h.SchedulePlan)
		r.Delete("/plans/{userID}", h.RemovePlan)
		r.Post("/calls/urgent", h.RequestUrgent)
		r.Post("/calls/followup", h.RequestFollowup)
		r.Delete("/calls/{userID}/{kind}", h.CancelCall)
		r.Get("/calls/history/{userID}", h.History)
	})
}

func (h *APIHandler) SchedulePlan(w http.ResponseWriter, r *http.Request) {
	var in coach.PlanInput
	if !decode(w, r, &in) {
		return
	}
	plan, err := h.coach.SchedulePlan(r.Context(), in)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, newPlanResponse(plan))
}

func (h *APIHandler) RemovePlan(w http.ResponseWriter, r *http.Request) {
	if err := h.coach.RemovePlan(r.Context(), chi.URLParam(r, "userID")); err != nil {
		serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type urgentRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

func (h *APIHandler) RequestUrgent(w http.ResponseWriter, r *http.Request) {
	var in urgentRequest
	if !decode(w, r, &in) {
		return
	}
	if err := h.coach.RequestUrgentCall(r.Context(), in.UserID, in.Reason); err != nil {
		serviceError(w, r, err)
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

type followupRequest struct {
	UserID     string `json:"user_id"`
	SessionRef string `json:"session_ref"`
}

func (h *APIHandler) RequestFollowup(w http.ResponseWriter, r *http.Request) {
	var in followupRequest
	if !decode(w, r, &in) {
		return
	}
	if err := h.coach.RequestFollowup(r.Context(), in.UserID, in.SessionRef); err != nil {
		serviceError(w, r, err)
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (h *APIHandler) CancelCall(w http.ResponseWriter, r *http.Request) {
	kind, err := call.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		serviceError(w, r, err)
		return
	}
	if err := h.coach.CancelCall(r.Context(), chi.URLParam(r, "userID"), kind); err != nil {
		serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	history, err := h.coach.GetCallHistory(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, newHistoryResponse(history))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
