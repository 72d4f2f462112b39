package domain

import "encoding/json"

// ResponseData — то, что уходит оркестратору при успехе (callback или прямой ответ).
type ResponseData struct {
	StatusCode        int     `json:"statusCode"`
	DomainID          string  `json:"domain_id"`
	SubscriptionReqID string  `json:"subscription_req_id"`
	IssueKey          string  `json:"issue_key"`
	Approver          *string `json:"approver,omitempty"`
	ApprovalStatus    *string `json:"approval_status,omitempty"`
	Timestamp         string  `json:"timestamp,omitempty"`
}

// PollPayload — полезная нагрузка команды GET_ISSUE_STATUS.
type PollPayload struct {
	DomainID          string `json:"domain_id"`
	SubscriptionReqID string `json:"subscription_req_id"`
	IssueKey          string `json:"issue_key"`
}

// CommandRequest — вход одиночного (не пакетного) обработчика.
type CommandRequest struct {
	Command Command         `json:"Command"`
	Payload json.RawMessage `json:"Payload"`
}

// StatusChangeRequest — вход обработчика смены статуса подписки.
type StatusChangeRequest struct {
	DomainID          string  `json:"domain_id"`
	IssueKey          string  `json:"issue_key"`
	SubscriptionReqID string  `json:"subscription_req_id"`
	Approver          *string `json:"approver"`
	ApprovalStatus    *string `json:"approval_status"`
}

type StatusChangeResponse struct {
	StatusCode         int    `json:"statusCode"`
	StatusChangeReason string `json:"status_change_reason"`
}

// NoRelevantChange — ответ, когда статус тикета не является решением.
const NoRelevantChange = "No relevant change in status."

// StrPtr — хелпер для опциональных строковых полей.
func StrPtr(s string) *string {
	return &s
}

// StrValue возвращает значение или "None", как его видит человек в комментарии.
func StrValue(s *string) string {
	if s == nil {
		return "None"
	}
	return *s
}
