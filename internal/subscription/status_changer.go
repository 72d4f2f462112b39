package subscription

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/dz-approval-bridge/internal/catalog"
	"github.com/xela07ax/dz-approval-bridge/internal/domain"
)

// StatusChanger переносит решение из тикета в каталог.
// Клиент каталога должен действовать от имени роли, которой разрешено менять подписки.
type StatusChanger struct {
	catalog catalog.Client
	logger  *zap.Logger
}

func NewStatusChanger(c catalog.Client, logger *zap.Logger) *StatusChanger {
	return &StatusChanger{
		catalog: c,
		logger:  logger.With(zap.String("mod", "status_changer")),
	}
}

// Apply: Accepted/Rejected — вызов accept/reject с комментарием, любое другое значение — no-op.
func (s *StatusChanger) Apply(ctx context.Context, req domain.StatusChangeRequest) (domain.StatusChangeResponse, error) {
	status := domain.ApprovalStatus(domain.StrValue(req.ApprovalStatus))
	if !status.IsDecision() {
		s.logger.Info("approval status is neither accepted nor rejected, skipping",
			zap.String("subscription_req_id", req.SubscriptionReqID),
			zap.String("approval_status", string(status)))
		return domain.StatusChangeResponse{StatusCode: http.StatusOK, StatusChangeReason: domain.NoRelevantChange}, nil
	}

	if req.DomainID == "" || req.SubscriptionReqID == "" {
		return domain.StatusChangeResponse{}, domain.NewValidationError("subscription_req_id", "domain_id and subscription_req_id are required")
	}

	reason := fmt.Sprintf("Status of subscription changed to %s by %s based on issue %s.",
		status, domain.StrValue(req.Approver), req.IssueKey)

	var err error
	if status == domain.StatusAccepted {
		s.logger.Info("approving subscription request",
			zap.String("subscription_req_id", req.SubscriptionReqID),
			zap.String("issue_key", req.IssueKey))
		err = s.catalog.AcceptSubscriptionRequest(ctx, req.DomainID, req.SubscriptionReqID, reason)
	} else {
		s.logger.Info("rejecting subscription request",
			zap.String("subscription_req_id", req.SubscriptionReqID),
			zap.String("issue_key", req.IssueKey))
		err = s.catalog.RejectSubscriptionRequest(ctx, req.DomainID, req.SubscriptionReqID, reason)
	}
	if err != nil {
		return domain.StatusChangeResponse{}, err
	}

	return domain.StatusChangeResponse{StatusCode: http.StatusOK, StatusChangeReason: reason}, nil
}
