package domain

import (
	"errors"
	"fmt"
	"time"
)

// Статусы решения по заявке в терминах каталога
type ApprovalStatus string

const (
	StatusAccepted ApprovalStatus = "Accepted"
	StatusRejected ApprovalStatus = "Rejected"
	StatusPending  ApprovalStatus = "Pending"
)

// IsDecision — только Accepted/Rejected меняют состояние подписки в каталоге.
func (s ApprovalStatus) IsDecision() bool {
	return s == StatusAccepted || s == StatusRejected
}

// ApprovalRequest — полная информация о заявке на подписку, собранная из каталога.
// Создается один раз фетчером и дальше только читается.
type ApprovalRequest struct {
	// Идентификаторы
	DomainID            string `json:"domain_id"`
	RequestID           string `json:"subscription_req_id"`
	RequesterID         string `json:"requester_id"`
	OwnerProjectID      string `json:"owner_project_id"`
	SubscriberProjectID string `json:"subscriber_project_id"`

	// Кто просит
	SubscriberProjectName string `json:"subscriber_project_name"`
	RequesterType         string `json:"requester_type"`    // SSO | IAM
	RequesterDetails      string `json:"requester_details"` // username или arn
	RequestReason         string `json:"request_reason"`
	RequestDate           string `json:"request_date"`

	// Что просят (целевой ресурс)
	CatalogName      string `json:"catalog_name"`
	OwnerProjectName string `json:"owner_project_name"`
	DataType         string `json:"data_type"`
	TechnicalName    string `json:"technical_name"`
	TableARN         string `json:"table_arn"`
	DatabaseName     string `json:"database_name"`
	BucketLocation   string `json:"bucket_location"`
	Account          string `json:"account"`
	Region           string `json:"region"`

	FetchedAt time.Time `json:"fetched_at"`
}

// ErrValidation — маркер для errors.Is: входные данные от апстрима битые, повтор не поможет.
var ErrValidation = errors.New("validation failed")

// ValidationError описывает отсутствующее или некорректное поле во входящих данных.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError — короткий конструктор для фетчера и движка.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
