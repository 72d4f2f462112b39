package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/dz-approval-bridge/internal/domain"
	"github.com/xela07ax/dz-approval-bridge/internal/ledger"
	"github.com/xela07ax/dz-approval-bridge/internal/subscription"
	"github.com/xela07ax/dz-approval-bridge/internal/workflow"
)

const unknownCommandReason = "Command not defined under expected key 'command' or command has invalid value. Only CREATE_ISSUE or GET_ISSUE_STATUS are allowed."

// RequestFetcher — источник ApprovalRequest (subscription.Fetcher).
type RequestFetcher interface {
	Fetch(ctx context.Context, event json.RawMessage) (*domain.ApprovalRequest, error)
}

// Executor выполняет одну команду: CREATE_ISSUE или GET_ISSUE_STATUS.
// Общий для пакетного обработчика очереди и одиночного HTTP обработчика.
type Executor struct {
	client    workflow.Client
	fetcher   RequestFetcher
	projector *workflow.StatusProjector
	ledger    ledger.Ledger
	limiter   *rate.Limiter
	approver  string
	metrics   *Metrics
	logger    *zap.Logger
	now       func() time.Time
}

type ExecutorDeps struct {
	Client    workflow.Client
	Fetcher   RequestFetcher
	Projector *workflow.StatusProjector
	// Ledger может быть nil — тогда проверка дубликатов выключена
	Ledger   ledger.Ledger
	Limiter  *rate.Limiter
	Approver string
	Metrics  *Metrics
}

func NewExecutor(d ExecutorDeps, logger *zap.Logger) *Executor {
	if d.Ledger == nil {
		d.Ledger = ledger.Nop{}
	}
	if d.Limiter == nil {
		d.Limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics(nil)
	}
	return &Executor{
		client:    d.Client,
		fetcher:   d.Fetcher,
		projector: d.Projector,
		ledger:    d.Ledger,
		limiter:   d.Limiter,
		approver:  d.Approver,
		metrics:   d.Metrics,
		logger:    logger.With(zap.String("mod", "executor"), zap.String("backend", d.Client.Name())),
		now:       time.Now,
	}
}

func (e *Executor) Execute(ctx context.Context, cmd domain.Command, payload json.RawMessage) (res Result) {
	// Паника в обработчике не должна ронять остальной пакет
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("command handler panicked", zap.Any("panic", p), zap.String("command", cmd.String()))
			res = failed(FailureUnexpected, fmt.Sprintf("%v", p))
		}
	}()

	switch cmd {
	case domain.CommandCreateIssue:
		return e.createIssue(ctx, payload)
	case domain.CommandGetIssueStatus:
		return e.getIssueStatus(ctx, payload)
	default:
		return failed(FailureValidation, unknownCommandReason)
	}
}

func (e *Executor) createIssue(ctx context.Context, event json.RawMessage) Result {
	// 1. Идентификаторы нужны до всего остального: по ним проверяем леджер
	domainID, requestID, err := subscription.Identifiers(event)
	if err != nil {
		return e.classify(ctx, err)
	}
	log := e.logger.With(zap.String("domain_id", domainID), zap.String("subscription_req_id", requestID))

	// 2. Тикет уже создавался (повторная доставка после остановки пакета)
	if key, found, err := e.ledger.Lookup(ctx, domainID, requestID); err != nil {
		log.Warn("ticket ledger unavailable, creating without duplicate check", zap.Error(err))
	} else if found {
		log.Info("ticket already exists for request, reporting it", zap.String("issue_key", key))
		return e.created(domainID, requestID, key)
	}

	// 3. Темп обращений к бэкенду
	if err := e.limiter.Wait(ctx); err != nil {
		return halted(err.Error())
	}

	// 4. Детали заявки из каталога
	req, err := e.fetcher.Fetch(ctx, event)
	if err != nil {
		log.Error("failed to fetch subscription request", zap.Error(err))
		r := e.classify(ctx, err)
		r.DomainID, r.SubscriptionReqID = domainID, requestID
		return r
	}

	// 5. Тикет
	start := time.Now()
	out, err := e.client.CreateTicket(ctx, req, e.approver)
	e.observe("create", out.Kind, err, start)

	var r Result
	switch {
	case err != nil:
		log.Error("unexpected error during issue creation", zap.Error(err))
		r = e.classify(ctx, err)
	case out.Kind == workflow.OutcomeSuccess:
		// Тикет уже есть в бэкенде: запись в леджер не зависит от остановки процесса
		if err := e.ledger.Remember(context.WithoutCancel(ctx), req.DomainID, req.RequestID, out.Value); err != nil {
			log.Warn("failed to record ticket in ledger", zap.String("issue_key", out.Value), zap.Error(err))
		}
		log.Info("issue created", zap.String("issue_key", out.Value))
		return e.created(req.DomainID, req.RequestID, out.Value)
	case out.Kind == workflow.OutcomeRejected:
		log.Warn("backend rejected issue creation", zap.String("reason", out.Reason))
		r = failed(FailureRejected, out.Reason)
	default:
		log.Warn("backend unreachable, halting", zap.String("reason", out.Reason))
		r = halted(out.Reason)
	}
	r.DomainID, r.SubscriptionReqID = req.DomainID, req.RequestID
	return r
}

func (e *Executor) getIssueStatus(ctx context.Context, raw json.RawMessage) Result {
	var p domain.PollPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return failed(FailureValidation, "invalid GET_ISSUE_STATUS payload: "+err.Error())
	}
	if p.IssueKey == "" {
		r := failed(FailureValidation, "Missing 'issue_key' in the event data.")
		r.DomainID, r.SubscriptionReqID = p.DomainID, p.SubscriptionReqID
		return r
	}
	log := e.logger.With(zap.String("issue_key", p.IssueKey))

	if err := e.limiter.Wait(ctx); err != nil {
		return halted(err.Error())
	}

	start := time.Now()
	out, err := e.client.GetTicketStatus(ctx, p.IssueKey)
	e.observe("get_status", out.Kind, err, start)

	var r Result
	switch {
	case err != nil:
		log.Error("unexpected error during issue status check", zap.Error(err))
		r = e.classify(ctx, err)
	case out.Kind == workflow.OutcomeSuccess:
		status := e.projector.Project(out.Value.Status)
		log.Info("issue status fetched",
			zap.String("approval_status", domain.StrValue(status)),
			zap.String("approver", domain.StrValue(out.Value.Assignee)))
		r = Result{
			Disposition: Succeeded,
			Response: &domain.ResponseData{
				StatusCode:        http.StatusOK,
				DomainID:          p.DomainID,
				SubscriptionReqID: p.SubscriptionReqID,
				IssueKey:          p.IssueKey,
				Approver:          out.Value.Assignee,
				ApprovalStatus:    status,
				Timestamp:         e.now().UTC().Format(time.RFC3339Nano),
			},
		}
	case out.Kind == workflow.OutcomeRejected:
		log.Warn("backend rejected issue status request", zap.String("reason", out.Reason))
		r = failed(FailureRejected, out.Reason)
	default:
		log.Warn("backend unreachable, halting", zap.String("reason", out.Reason))
		r = halted(out.Reason)
	}
	r.DomainID, r.SubscriptionReqID, r.IssueKey = p.DomainID, p.SubscriptionReqID, p.IssueKey
	return r
}

func (e *Executor) created(domainID, requestID, key string) Result {
	return Result{
		Disposition: Succeeded,
		Response: &domain.ResponseData{
			StatusCode:        http.StatusOK,
			DomainID:          domainID,
			SubscriptionReqID: requestID,
			IssueKey:          key,
		},
		DomainID:          domainID,
		SubscriptionReqID: requestID,
		IssueKey:          key,
	}
}

// classify раскладывает ошибку вне Outcome: битые данные, прерванный контекст или непредвиденное.
func (e *Executor) classify(ctx context.Context, err error) Result {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return failed(FailureValidation, err.Error())
	case ctx.Err() != nil:
		// Процесс останавливается, сообщение вернется в очередь
		return halted(ctx.Err().Error())
	default:
		return failed(FailureUnexpected, err.Error())
	}
}

func (e *Executor) observe(op string, kind workflow.OutcomeKind, err error, start time.Time) {
	outcome := kind.String()
	if err != nil {
		outcome = "error"
	}
	e.metrics.BackendCallDuration.
		WithLabelValues(e.client.Name(), op, outcome).
		Observe(time.Since(start).Seconds())
}

func failed(kind FailureKind, reason string) Result {
	return Result{Disposition: Failed, Failure: kind, Reason: reason}
}

func halted(reason string) Result {
	return Result{Disposition: Halted, Reason: reason}
}
