package engine

import (
	"fmt"

	"github.com/xela07ax/dz-approval-bridge/internal/domain"
)

// Disposition — итог обработки одной команды.
type Disposition string

const (
	// Succeeded — команда выполнена, оркестратор получает SUCCESS.
	Succeeded Disposition = "SUCCEEDED"
	// Failed — окончательный отказ, сообщение снимается с очереди, оркестратор получает FAILURE.
	Failed Disposition = "FAILED"
	// Halted — бэкенд недоступен, сообщение остается в очереди, колбэка нет.
	Halted Disposition = "HALTED"
)

// FailureKind уточняет Failed: от него зависит текст колбэка и HTTP код одиночного обработчика.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureRejected
	FailureValidation
	FailureUnexpected
)

type Result struct {
	Disposition Disposition
	Failure     FailureKind
	Response    *domain.ResponseData
	Reason      string

	// Известные на момент завершения идентификаторы (для аудита и логов)
	DomainID          string
	SubscriptionReqID string
	IssueKey          string
}

// CallbackError — текст FAILURE колбэка. Оркестратор ветвится по префиксу.
func (r Result) CallbackError() string {
	if r.Failure == FailureRejected {
		return "ExternalWorkflowRespondedWithNOK. " + r.Reason
	}
	return "Error. " + r.Reason
}

// HaltError — пакет остановлен на первом недоступном бэкенде.
type HaltError struct {
	MessageID string
	Reason    string
}

func (e *HaltError) Error() string {
	return fmt.Sprintf("batch halted at message %s: %s", e.MessageID, e.Reason)
}
