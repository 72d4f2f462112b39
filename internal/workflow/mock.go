package workflow

import (
	"context"
	"time"

	"github.com/xela07ax/dz-approval-bridge/internal/domain"
)

const (
	MockIssueKey = "IssueId1234567"
	MockAssignee = "assignee"
)

// MockClient — бэкенд без внешней системы: тикет создается всегда,
// статус зависит от флага accept. Используется в стендах и тестах.
type MockClient struct {
	accept bool
	// Latency — имитация задержки сети, по умолчанию ноль.
	Latency time.Duration
}

func NewMockAccept() *MockClient { return &MockClient{accept: true} }

func NewMockReject() *MockClient { return &MockClient{accept: false} }

func (c *MockClient) Name() string {
	if c.accept {
		return "MOCK_ACCEPT"
	}
	return "MOCK_REJECT"
}

func (c *MockClient) CreateTicket(ctx context.Context, _ *domain.ApprovalRequest, _ string) (Outcome[string], error) {
	if err := c.wait(ctx); err != nil {
		return Unreachable[string](err.Error()), nil
	}
	return Success(MockIssueKey), nil
}

func (c *MockClient) GetTicketStatus(ctx context.Context, _ string) (Outcome[domain.Ticket], error) {
	if err := c.wait(ctx); err != nil {
		return Unreachable[domain.Ticket](err.Error()), nil
	}

	status := string(domain.StatusRejected)
	if c.accept {
		status = string(domain.StatusAccepted)
	}
	return Success(domain.Ticket{
		Key:      MockIssueKey,
		Status:   domain.StrPtr(status),
		Assignee: domain.StrPtr(MockAssignee),
	}), nil
}

func (c *MockClient) wait(ctx context.Context) error {
	if c.Latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(c.Latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
