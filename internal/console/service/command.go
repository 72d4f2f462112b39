package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/dz-approval-bridge/internal/audit"
	"github.com/xela07ax/dz-approval-bridge/internal/domain"
	"github.com/xela07ax/dz-approval-bridge/internal/engine"
)

// consoleGroup — GroupID аудита для команд, пришедших не из очереди.
const consoleGroup = "console"

// CommandExecutor — engine.Executor.
type CommandExecutor interface {
	Execute(ctx context.Context, cmd domain.Command, payload json.RawMessage) engine.Result
}

// CommandService выполняет одиночную команду синхронно, без очереди и колбэка.
type CommandService struct {
	exec    CommandExecutor
	auditor audit.Auditor
	backend string
	logger  *zap.Logger
}

func NewCommandService(exec CommandExecutor, auditor audit.Auditor, backend string, logger *zap.Logger) *CommandService {
	if auditor == nil {
		auditor = audit.Discard{}
	}
	return &CommandService{
		exec:    exec,
		auditor: auditor,
		backend: backend,
		logger:  logger.With(zap.String("mod", "command_service")),
	}
}

// Run: requestID попадает в аудит как MessageID.
func (s *CommandService) Run(ctx context.Context, requestID string, req domain.CommandRequest) engine.Result {
	start := time.Now()
	res := s.exec.Execute(ctx, req.Command, req.Payload)

	s.logger.Info("command executed",
		zap.String("request_id", requestID),
		zap.String("command", req.Command.String()),
		zap.String("disposition", string(res.Disposition)))

	s.auditor.Record(audit.OutcomeEvent{
		MessageID:         requestID,
		GroupID:           consoleGroup,
		Command:           req.Command.String(),
		DomainID:          res.DomainID,
		SubscriptionReqID: res.SubscriptionReqID,
		IssueKey:          res.IssueKey,
		Backend:           s.backend,
		Disposition:       audit.Disposition(res.Disposition),
		Reason:            res.Reason,
		ReceiveCount:      1,
		DurationMs:        time.Since(start).Milliseconds(),
	})
	return res
}
