package audit

import "time"

// Disposition — чем закончилась обработка сообщения.
type Disposition string

const (
	DispositionSucceeded    Disposition = "SUCCEEDED"
	DispositionFailed       Disposition = "FAILED"
	DispositionHalted       Disposition = "HALTED"
	DispositionDeadLettered Disposition = "DEAD_LETTERED"
)

// OutcomeEvent — одна запись журнала исходов.
type OutcomeEvent struct {
	ID                string      `json:"id"`         // UUID события
	MessageID         string      `json:"message_id"` // ID записи в очереди или X-Request-Id для HTTP
	GroupID           string      `json:"group_id"`
	Command           string      `json:"command"`
	DomainID          string      `json:"domain_id"`
	SubscriptionReqID string      `json:"subscription_req_id"`
	IssueKey          string      `json:"issue_key"`
	Backend           string      `json:"backend"`
	Disposition       Disposition `json:"disposition"`
	Reason            string      `json:"reason,omitempty"`
	ReceiveCount      int64       `json:"receive_count"`
	DurationMs        int64       `json:"duration_ms"`
	Timestamp         time.Time   `json:"timestamp"`
}
