package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AccessOutcome is the result of a role guard
type AccessOutcome string

const (
	AccessOutcomeAllowed         AccessOutcome = "allowed"
	AccessOutcomeForbidden       AccessOutcome = "forbidden"
	AccessOutcomeUnauthenticated AccessOutcome = "unauthenticated"
	AccessOutcomeUnavailable     AccessOutcome = "unavailable"
)

// AuthAuditLog records one role guard decision. Claim sets are never stored,
// only the identity fields needed to review a decision.
type AuthAuditLog struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	Subject      string          `json:"subject,omitempty" db:"subject"`
	RequiredRole string          `json:"required_role" db:"required_role"`
	ActualRole   string          `json:"actual_role,omitempty" db:"actual_role"`
	Outcome      AccessOutcome   `json:"outcome" db:"outcome"`
	ErrorKind    *string         `json:"error_kind,omitempty" db:"error_kind"`
	Method       string          `json:"method" db:"method"`
	Path         string          `json:"path" db:"path"`
	Details      json.RawMessage `json:"details,omitempty" db:"details"` // JSONB for flexible metadata
	IPAddress    string          `json:"ip_address" db:"ip_address"`
	UserAgent    string          `json:"user_agent" db:"user_agent"`
	RequestID    string          `json:"request_id" db:"request_id"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// NewAuthAuditLog creates a new AuthAuditLog instance
func NewAuthAuditLog(requiredRole string, outcome AccessOutcome) *AuthAuditLog {
	return &AuthAuditLog{
		ID:           uuid.New(),
		RequiredRole: requiredRole,
		Outcome:      outcome,
		Timestamp:    time.Now().UTC(),
	}
}

// WithIdentity sets the subject and role read from verified claims
func (a *AuthAuditLog) WithIdentity(subject, actualRole string) *AuthAuditLog {
	a.Subject = subject
	a.ActualRole = actualRole
	return a
}

// WithErrorKind sets the rejection kind
func (a *AuthAuditLog) WithErrorKind(kind string) *AuthAuditLog {
	if kind != "" {
		a.ErrorKind = &kind
	}
	return a
}

// WithDetails sets the details
func (a *AuthAuditLog) WithDetails(details interface{}) *AuthAuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuthAuditLog) WithRequest(requestID, method, path, ipAddress, userAgent string) *AuthAuditLog {
	a.RequestID = requestID
	a.Method = method
	a.Path = path
	a.IPAddress = ipAddress
	a.UserAgent = userAgent
	return a
}

// IsDenied reports whether the request was turned away
func (a *AuthAuditLog) IsDenied() bool {
	return a.Outcome != AccessOutcomeAllowed
}
