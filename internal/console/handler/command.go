package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/xela07ax/dz-approval-bridge/internal/domain"
	"github.com/xela07ax/dz-approval-bridge/internal/engine"
)

// CommandRunner — service.CommandService.
type CommandRunner interface {
	Run(ctx context.Context, requestID string, req domain.CommandRequest) engine.Result
}

type CommandHandler struct {
	service CommandRunner
}

func NewCommandHandler(s CommandRunner) *CommandHandler {
	return &CommandHandler{service: s}
}

// Execute — POST /v1/workflow/commands {Command, Payload}.
// Успех отдает response_data как есть, ошибка — {"error": <текст колбэка FAILURE>}.
func (h *CommandHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req domain.CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res := h.service.Run(r.Context(), middleware.GetReqID(r.Context()), req)
	switch res.Disposition {
	case engine.Succeeded:
		writeJSON(w, http.StatusOK, res.Response)
	case engine.Halted:
		writeError(w, http.StatusServiceUnavailable, "Error. "+res.Reason)
	default:
		writeError(w, failureCode(res.Failure), res.CallbackError())
	}
}

func failureCode(k engine.FailureKind) int {
	switch k {
	case engine.FailureValidation:
		return http.StatusUnprocessableEntity
	case engine.FailureRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
