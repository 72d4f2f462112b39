package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/dz-approval-bridge/internal/audit"
	"github.com/xela07ax/dz-approval-bridge/internal/repository/postgres"
)

// OutcomeReader описывает контракт для чтения журнала исходов.
type OutcomeReader interface {
	FetchOutcomes(ctx context.Context, f postgres.OutcomeFilter) ([]audit.OutcomeEvent, error)
}

type AuditService struct {
	repo OutcomeReader
}

func NewAuditService(repo OutcomeReader) *AuditService {
	return &AuditService{repo: repo}
}

// FetchOutcomes: пустые поля фильтра не фильтруют, лимит ограничивает репозиторий.
func (s *AuditService) FetchOutcomes(ctx context.Context, f postgres.OutcomeFilter) ([]audit.OutcomeEvent, error) {
	events, err := s.repo.FetchOutcomes(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch outcomes: %w", err)
	}
	return events, nil
}
