package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/dz-approval-bridge/internal/audit"
	"github.com/xela07ax/dz-approval-bridge/internal/callback"
	"github.com/xela07ax/dz-approval-bridge/internal/domain"
)

// Processor обрабатывает пакет сообщений строго по порядку.
// Первый недоступный бэкенд останавливает пакет: это сообщение и все следующие
// возвращаются в BatchOutcome и остаются в очереди.
type Processor struct {
	exec       *Executor
	dispatcher callback.Dispatcher
	auditor    audit.Auditor
	metrics    *Metrics
	backend    string
	logger     *zap.Logger
}

func NewProcessor(exec *Executor, dispatcher callback.Dispatcher, auditor audit.Auditor, metrics *Metrics, logger *zap.Logger) *Processor {
	if auditor == nil {
		auditor = audit.Discard{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Processor{
		exec:       exec,
		dispatcher: dispatcher,
		auditor:    auditor,
		metrics:    metrics,
		backend:    exec.client.Name(),
		logger:     logger.With(zap.String("mod", "processor")),
	}
}

// Process возвращает *HaltError после остановки на недоступном бэкенде
// и ошибку контекста, если пакет прерван между сообщениями.
// BatchOutcome валиден в обоих случаях.
func (p *Processor) Process(ctx context.Context, msgs []domain.QueueMessage) (domain.BatchOutcome, error) {
	p.logger.Info("processing batch", zap.Int("batch_size", len(msgs)))

	for i, m := range msgs {
		// Отмена учитывается только между сообщениями
		if err := ctx.Err(); err != nil {
			p.logger.Warn("batch interrupted", zap.Int("unresolved", len(msgs)-i), zap.Error(err))
			return p.unresolved(msgs[i:]), err
		}

		res := p.handle(ctx, m)
		if res.Disposition == Halted {
			out := p.unresolved(msgs[i:])
			p.logger.Error("backend unreachable, keeping remaining messages in the queue",
				zap.String("message_id", m.MessageID),
				zap.Int("unresolved", len(out.BatchItemFailures)),
				zap.String("reason", res.Reason))
			return out, &HaltError{MessageID: m.MessageID, Reason: res.Reason}
		}
	}

	p.logger.Info("finished processing batch", zap.Int("batch_size", len(msgs)))
	return domain.BatchOutcome{BatchItemFailures: []domain.BatchItemFailure{}}, nil
}

func (p *Processor) handle(ctx context.Context, m domain.QueueMessage) Result {
	start := time.Now()
	log := p.logger.With(
		zap.String("message_id", m.MessageID),
		zap.String("group_id", m.GroupID),
		zap.String("command", m.Command.String()))
	log.Info("processing message")

	res := p.exec.Execute(ctx, m.Command, m.Payload)

	// Исход уже известен и сообщение будет подтверждено: колбэк уходит и при остановке
	signalCtx := context.WithoutCancel(ctx)
	switch res.Disposition {
	case Succeeded:
		p.dispatcher.Signal(signalCtx, m.ContinuationToken, callback.KindSuccess, res.Response)
	case Failed:
		log.Error("command failed", zap.String("reason", res.Reason))
		p.dispatcher.Signal(signalCtx, m.ContinuationToken, callback.KindFailure, res.CallbackError())
	case Halted:
		// Колбэка нет: сообщение будет доставлено повторно
	}

	p.metrics.MessagesTotal.WithLabelValues(m.Command.String(), string(res.Disposition)).Inc()
	p.auditor.Record(audit.OutcomeEvent{
		MessageID:         m.MessageID,
		GroupID:           m.GroupID,
		Command:           m.Command.String(),
		DomainID:          res.DomainID,
		SubscriptionReqID: res.SubscriptionReqID,
		IssueKey:          res.IssueKey,
		Backend:           p.backend,
		Disposition:       audit.Disposition(res.Disposition),
		Reason:            res.Reason,
		ReceiveCount:      m.ReceiveCount,
		DurationMs:        time.Since(start).Milliseconds(),
	})
	return res
}

func (p *Processor) unresolved(rest []domain.QueueMessage) domain.BatchOutcome {
	out := domain.BatchOutcome{BatchItemFailures: make([]domain.BatchItemFailure, 0, len(rest))}
	for _, m := range rest {
		out.BatchItemFailures = append(out.BatchItemFailures, domain.BatchItemFailure{ItemIdentifier: m.MessageID})
	}
	p.metrics.UnresolvedMessages.Add(float64(len(rest)))
	return out
}
