package workflow

import (
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/xela07ax/dz-approval-bridge/internal/infra"
)

type options struct {
	httpClient    HTTPDoer
	creds         *infra.JiraCredentials
	onStateChange func(name string, from, to gobreaker.State)
}

type Option func(*options)

// WithHTTPClient подменяет http.Client (тесты, кастомный TLS для on-prem Jira).
func WithHTTPClient(c HTTPDoer) Option {
	return func(o *options) { o.httpClient = c }
}

// WithCredentials — готовые креды вместо чтения секрета.
func WithCredentials(c infra.JiraCredentials) Option {
	return func(o *options) { o.creds = &c }
}

// WithStateChange — подписка на переключения Circuit Breaker (метрики).
func WithStateChange(fn func(name string, from, to gobreaker.State)) Option {
	return func(o *options) { o.onStateChange = fn }
}

// New выбирает реализацию по тегу бэкенда. Вызывается один раз при старте процесса:
// неизвестный тег или отсутствующий секрет — фатальная ошибка до чтения очереди.
func New(cfg infra.WorkflowConfig, logger *zap.Logger, opts ...Option) (Client, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	switch cfg.Backend {
	case infra.BackendMockAccept:
		return NewMockAccept(), nil
	case infra.BackendMockReject:
		return NewMockReject(), nil
	case infra.BackendJira:
		creds := o.creds
		if creds == nil {
			loaded, err := infra.LoadJiraCredentials(cfg.Jira.SecretRef)
			if err != nil {
				return nil, fmt.Errorf("load jira credentials: %w", err)
			}
			creds = loaded
		}
		hc := o.httpClient
		if hc == nil {
			hc = &http.Client{Timeout: cfg.Jira.Timeout}
		}

		transport := NewTransport(hc, TransportSettings{
			Name:          string(infra.BackendJira),
			Attempts:      cfg.RetryAttempts,
			Delay:         cfg.RetryDelay,
			MaxDelay:      cfg.RetryMaxDelay,
			CBMaxRequests: cfg.CBMaxRequests,
			CBInterval:    cfg.CBInterval,
			CBTimeout:     cfg.CBTimeout,
			CBMaxFailures: cfg.CBMaxFailures,
			OnStateChange: o.onStateChange,
		}, logger)
		return NewJiraClient(cfg.Jira, *creds, transport, logger), nil
	default:
		return nil, fmt.Errorf("unsupported workflow backend %q, try one of: %s, %s, %s",
			cfg.Backend, infra.BackendMockAccept, infra.BackendMockReject, infra.BackendJira)
	}
}
