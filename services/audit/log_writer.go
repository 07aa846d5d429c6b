package audit

import (
	"context"

	"github.com/drdecide/clinic-gateway/models"
	"go.uber.org/zap"
)

// LogWriter writes audit logs to the application logger. It is used when no
// audit database is configured.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a new LogWriter
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger.Named("audit")}
}

// Insert logs the entry, at warn level when access was denied
func (w *LogWriter) Insert(_ context.Context, log *models.AuthAuditLog) error {
	fields := []zap.Field{
		zap.String("audit_id", log.ID.String()),
		zap.String("outcome", string(log.Outcome)),
		zap.String("required_role", log.RequiredRole),
		zap.String("actual_role", log.ActualRole),
		zap.String("sub", log.Subject),
		zap.String("method", log.Method),
		zap.String("path", log.Path),
		zap.String("request_id", log.RequestID),
		zap.String("ip_address", log.IPAddress),
		zap.Time("timestamp", log.Timestamp),
	}
	if log.ErrorKind != nil {
		fields = append(fields, zap.String("kind", *log.ErrorKind))
	}
	if log.IsDenied() {
		w.logger.Warn("access decision", fields...)
		return nil
	}
	w.logger.Info("access decision", fields...)
	return nil
}
