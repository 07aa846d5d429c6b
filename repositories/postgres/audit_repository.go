package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/drdecide/clinic-gateway/models"
	"github.com/drdecide/clinic-gateway/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const auditColumns = `id, subject, required_role, actual_role, outcome, error_kind,
		       method, path, details, ip_address, user_agent, request_id, timestamp`

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new audit log entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuthAuditLog) error {
	query := `
		INSERT INTO auth_audit_logs (
			id, subject, required_role, actual_role, outcome, error_kind,
			method, path, details, ip_address, user_agent, request_id, timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		nullString(log.Subject),
		log.RequiredRole,
		nullString(log.ActualRole),
		log.Outcome,
		log.ErrorKind,
		log.Method,
		log.Path,
		nullJSON(log.Details),
		log.IPAddress,
		log.UserAgent,
		log.RequestID,
		log.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	r.logger.Debug("audit log inserted", zap.String("id", log.ID.String()), zap.String("outcome", string(log.Outcome)))
	return nil
}

// GetByID retrieves an audit log by ID
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuthAuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM auth_audit_logs WHERE id = $1`

	log, err := scanAuditLog(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", repositories.ErrAuditLogNotFound, id)
		}
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}
	return log, nil
}

// GetBySubject retrieves the decisions taken for a caller, newest first
func (r *AuditRepository) GetBySubject(ctx context.Context, subject string, limit, offset int) ([]*models.AuthAuditLog, error) {
	query := `SELECT ` + auditColumns + `
		FROM auth_audit_logs
		WHERE subject = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3`

	return r.queryAuditLogs(ctx, query, subject, limit, offset)
}

// GetByRequestID retrieves audit logs by request ID
func (r *AuditRepository) GetByRequestID(ctx context.Context, requestID string) ([]*models.AuthAuditLog, error) {
	query := `SELECT ` + auditColumns + `
		FROM auth_audit_logs
		WHERE request_id = $1
		ORDER BY timestamp ASC`

	return r.queryAuditLogs(ctx, query, requestID)
}

// GetDenied retrieves denied decisions within a date range
func (r *AuditRepository) GetDenied(ctx context.Context, start, end time.Time, limit, offset int) ([]*models.AuthAuditLog, error) {
	query := `SELECT ` + auditColumns + `
		FROM auth_audit_logs
		WHERE outcome <> $1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp DESC
		LIMIT $4 OFFSET $5`

	return r.queryAuditLogs(ctx, query, models.AccessOutcomeAllowed, start, end, limit, offset)
}

// Ping checks that the store is reachable
func (r *AuditRepository) Ping(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

func (r *AuditRepository) queryAuditLogs(ctx context.Context, query string, args ...interface{}) ([]*models.AuthAuditLog, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuthAuditLog
	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return logs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditLog(row rowScanner) (*models.AuthAuditLog, error) {
	var (
		log        models.AuthAuditLog
		subject    sql.NullString
		actualRole sql.NullString
		errorKind  sql.NullString
		method     sql.NullString
		path       sql.NullString
		ipAddress  sql.NullString
		userAgent  sql.NullString
		requestID  sql.NullString
		details    []byte
	)

	err := row.Scan(
		&log.ID,
		&subject,
		&log.RequiredRole,
		&actualRole,
		&log.Outcome,
		&errorKind,
		&method,
		&path,
		&details,
		&ipAddress,
		&userAgent,
		&requestID,
		&log.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	log.Subject = subject.String
	log.ActualRole = actualRole.String
	if errorKind.Valid {
		log.ErrorKind = &errorKind.String
	}
	log.Method = method.String
	log.Path = path.String
	log.Details = details
	log.IPAddress = ipAddress.String
	log.UserAgent = userAgent.String
	log.RequestID = requestID.String
	return &log, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(data []byte) interface{} {
	if len(data) == 0 {
		return nil
	}
	return data
}
