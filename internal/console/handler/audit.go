package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/xela07ax/dz-approval-bridge/internal/audit"
	"github.com/xela07ax/dz-approval-bridge/internal/repository/postgres"
)

type OutcomeService interface {
	FetchOutcomes(ctx context.Context, f postgres.OutcomeFilter) ([]audit.OutcomeEvent, error)
}

type AuditHandler struct {
	service OutcomeService
}

func NewAuditHandler(s OutcomeService) *AuditHandler {
	return &AuditHandler{service: s}
}

// GetOutcomes возвращает журнал исходов с фильтрацией
// GET /v1/outcomes?message_id=...&domain_id=...&subscription_req_id=...&limit=...
func (h *AuditHandler) GetOutcomes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := postgres.OutcomeFilter{
		MessageID:         q.Get("message_id"),
		DomainID:          q.Get("domain_id"),
		SubscriptionReqID: q.Get("subscription_req_id"),
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	events, err := h.service.FetchOutcomes(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch outcomes")
		return
	}
	writeJSON(w, http.StatusOK, events)
}
