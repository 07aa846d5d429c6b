package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/drdecide/clinic-gateway/models"
	"github.com/google/uuid"
)

// ErrAuditLogNotFound is returned when no audit log matches the lookup
var ErrAuditLogNotFound = errors.New("audit log not found")

// AuditRepository handles auth audit log data operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuthAuditLog) error

	// GetByID retrieves an audit log by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuthAuditLog, error)

	// GetBySubject retrieves the decisions taken for a caller, newest first
	GetBySubject(ctx context.Context, subject string, limit, offset int) ([]*models.AuthAuditLog, error)

	// GetByRequestID retrieves audit logs by request ID
	GetByRequestID(ctx context.Context, requestID string) ([]*models.AuthAuditLog, error)

	// GetDenied retrieves denied decisions within a date range
	GetDenied(ctx context.Context, start, end time.Time, limit, offset int) ([]*models.AuthAuditLog, error)

	// Ping checks that the store is reachable
	Ping(ctx context.Context) error
}
