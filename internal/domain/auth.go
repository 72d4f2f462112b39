package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// Scopes, которые проверяет Console API
const (
	ScopeWorkflowExecute  = "workflow.execute"
	ScopeSubscriptionEdit = "subscription.decide"
	ScopeAuditRead        = "audit.read"
	ScopeQueueControl     = "queue.control"
)

type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "workflow.execute": true
	jwt.RegisteredClaims
}

// HasScope — "admin" открывает всё.
func (c *CustomClaims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	return c.Scopes["admin"] || c.Scopes[scope]
}
