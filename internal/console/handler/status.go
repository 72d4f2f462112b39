package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/dz-approval-bridge/internal/catalog"
	"github.com/xela07ax/dz-approval-bridge/internal/domain"
)

// StatusApplier — subscription.StatusChanger.
type StatusApplier interface {
	Apply(ctx context.Context, req domain.StatusChangeRequest) (domain.StatusChangeResponse, error)
}

type StatusHandler struct {
	changer StatusApplier
}

func NewStatusHandler(c StatusApplier) *StatusHandler {
	return &StatusHandler{changer: c}
}

// Change — POST /v1/subscriptions/status.
// Оркестратор шлет поля либо на верхнем уровне, либо внутри {"Payload": {...}}.
func (h *StatusHandler) Change(w http.ResponseWriter, r *http.Request) {
	var raw struct {
		Payload *domain.StatusChangeRequest `json:"Payload"`
		domain.StatusChangeRequest
	}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req := raw.StatusChangeRequest
	if raw.Payload != nil {
		req = *raw.Payload
	}

	resp, err := h.changer.Apply(r.Context(), req)
	if err != nil {
		var apiErr *catalog.APIError
		switch {
		case errors.Is(err, domain.ErrValidation):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.As(err, &apiErr):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
