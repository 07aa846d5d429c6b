package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/drdecide/clinic-gateway/middleware"
	"github.com/drdecide/clinic-gateway/models"
	"github.com/drdecide/clinic-gateway/repositories"
	"github.com/drdecide/clinic-gateway/utils"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultAuditLimit  = 50
	defaultDeniedRange = 24 * time.Hour
)

// AuditQuery holds the paging parameters of an audit listing
type AuditQuery struct {
	Limit  int `validate:"gte=1,max=500"`
	Offset int `validate:"gte=0"`
}

// AuditLogListResponse represents a page of audit entries
type AuditLogListResponse struct {
	Entries []*models.AuthAuditLog `json:"entries"`
	Count   int                    `json:"count"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// AuditHandler serves the recorded role guard decisions
type AuditHandler struct {
	auditRepo repositories.AuditRepository
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(auditRepo repositories.AuditRepository, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		auditRepo: auditRepo,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleListAuditLogs handles GET /api/receptionist/audit
//
// request_id takes precedence over subject. With neither, denied decisions
// between from and to (RFC 3339, default the last 24 hours) are listed.
func (h *AuditHandler) HandleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	params := r.URL.Query()

	query, ok := h.parsePaging(w, params.Get("limit"), params.Get("offset"))
	if !ok {
		return
	}

	var (
		entries []*models.AuthAuditLog
		err     error
	)

	switch {
	case params.Get("request_id") != "":
		entries, err = h.auditRepo.GetByRequestID(ctx, params.Get("request_id"))
	case params.Get("subject") != "":
		entries, err = h.auditRepo.GetBySubject(ctx, params.Get("subject"), query.Limit, query.Offset)
	default:
		end := h.now().UTC()
		start := end.Add(-defaultDeniedRange)
		if end, ok = parseTimeParam(w, "to", params.Get("to"), end); !ok {
			return
		}
		if start, ok = parseTimeParam(w, "from", params.Get("from"), start); !ok {
			return
		}
		if !start.Before(end) {
			_ = utils.WriteBadRequest(w, "from must be before to", nil)
			return
		}
		entries, err = h.auditRepo.GetDenied(ctx, start, end, query.Limit, query.Offset)
	}

	if err != nil {
		h.logger.Error("failed to list audit logs",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to retrieve audit logs")
		return
	}

	if entries == nil {
		entries = []*models.AuthAuditLog{}
	}

	_ = utils.WriteOK(w, AuditLogListResponse{
		Entries: entries,
		Count:   len(entries),
		Limit:   query.Limit,
		Offset:  query.Offset,
	})
}

// HandleGetAuditLog handles GET /api/receptionist/audit/{id}
func (h *AuditHandler) HandleGetAuditLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid audit log ID format", nil)
		return
	}

	entry, err := h.auditRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrAuditLogNotFound) {
			_ = utils.WriteNotFound(w, "Audit log not found")
			return
		}
		h.logger.Error("failed to get audit log",
			zap.String("request_id", requestID),
			zap.String("audit_id", id.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to retrieve audit log")
		return
	}

	_ = utils.WriteOK(w, entry)
}

func (h *AuditHandler) parsePaging(w http.ResponseWriter, limitStr, offsetStr string) (AuditQuery, bool) {
	query := AuditQuery{Limit: defaultAuditLimit}

	if limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid limit format", nil)
			return query, false
		}
		query.Limit = limit
	}
	if offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid offset format", nil)
			return query, false
		}
		query.Offset = offset
	}

	if err := utils.ValidateStruct(query); err != nil {
		if utils.IsValidationError(err) {
			details := make(map[string]interface{})
			for field, msg := range utils.GetValidationFields(err) {
				details[field] = msg
			}
			_ = utils.WriteBadRequest(w, "Invalid paging parameters", details)
			return query, false
		}
		h.logger.Error("failed to validate audit query", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return query, false
	}

	return query, true
}

func parseTimeParam(w http.ResponseWriter, name, value string, fallback time.Time) (time.Time, bool) {
	if value == "" {
		return fallback, true
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid "+name+" format, expected RFC 3339", nil)
		return fallback, false
	}
	return parsed.UTC(), true
}
