package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/dz-approval-bridge/internal/infra/auth"
)

type QueueController interface {
	SetPaused(ctx context.Context, group, operator string, paused bool) error
}

type ControlHandler struct {
	service QueueController
}

func NewControlHandler(s QueueController) *ControlHandler {
	return &ControlHandler{service: s}
}

// Pause — POST /v1/queue/{group}/pause
func (h *ControlHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.switchState(w, r, true)
}

// Resume — POST /v1/queue/{group}/resume
func (h *ControlHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.switchState(w, r, false)
}

func (h *ControlHandler) switchState(w http.ResponseWriter, r *http.Request, paused bool) {
	group := chi.URLParam(r, "group")
	var operator string
	if c := auth.ClaimsFrom(r.Context()); c != nil {
		operator = c.UserID
	}

	if err := h.service.SetPaused(r.Context(), group, operator, paused); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to switch queue state")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"group": group, "paused": paused})
}
