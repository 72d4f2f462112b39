package workflow

import (
	"context"

	"github.com/xela07ax/dz-approval-bridge/internal/domain"
)

// OutcomeKind — три исхода обращения к бэкенду.
type OutcomeKind int

const (
	// OutcomeSuccess — бэкенд ответил 2xx.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRejected — бэкенд доступен, но отказал. Повтор не поможет, отчитываемся об ошибке.
	OutcomeRejected
	// OutcomeUnreachable — бэкенд недоступен или перегружен. Сообщение остается в очереди.
	OutcomeUnreachable
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRejected:
		return "rejected"
	case OutcomeUnreachable:
		return "unreachable"
	}
	return "unknown"
}

// Outcome — явный результат вместо исключений, пересекающих границы компонентов.
// Value заполнен только для OutcomeSuccess, Reason — для остальных.
type Outcome[T any] struct {
	Kind   OutcomeKind
	Value  T
	Reason string
}

func Success[T any](v T) Outcome[T] {
	return Outcome[T]{Kind: OutcomeSuccess, Value: v}
}

func Rejected[T any](reason string) Outcome[T] {
	return Outcome[T]{Kind: OutcomeRejected, Reason: reason}
}

func Unreachable[T any](reason string) Outcome[T] {
	return Outcome[T]{Kind: OutcomeUnreachable, Reason: reason}
}

// Client — внешняя система согласования (Jira или мок).
// Ошибка возвращается только для непредвиденных сбоев; отказ и недоступность бэкенда — это Outcome.
type Client interface {
	Name() string

	// CreateTicket создает тикет по заявке и возвращает его ключ.
	CreateTicket(ctx context.Context, req *domain.ApprovalRequest, assignee string) (Outcome[string], error)

	// GetTicketStatus перечитывает тикет: сырой статус и исполнитель.
	GetTicketStatus(ctx context.Context, key string) (Outcome[domain.Ticket], error)
}
