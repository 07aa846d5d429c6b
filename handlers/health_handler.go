package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/drdecide/clinic-gateway/cognito"
	"github.com/drdecide/clinic-gateway/utils"
	"go.uber.org/zap"
)

// KeySetStatus reports the state of the verification key cache
type KeySetStatus interface {
	Stats() cognito.KeySetStats
}

// StorePinger checks that the audit store is reachable
type StorePinger interface {
	Ping(ctx context.Context) error
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string               `json:"status"`
	Timestamp string               `json:"timestamp"`
	Checks    map[string]string    `json:"checks,omitempty"`
	KeySet    *cognito.KeySetStats `json:"key_set,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	store  StorePinger
	keys   KeySetStatus
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. store may be nil when no audit
// database is configured.
func NewHealthHandler(store StorePinger, keys KeySetStatus, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		store:  store,
		keys:   keys,
		logger: logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// A degraded key set still serves from the last snapshot, so it is reported but not fatal.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	stats := h.keys.Stats()
	switch {
	case !stats.Loaded:
		checks["key_set"] = "unavailable"
		allHealthy = false
	case stats.Degraded:
		checks["key_set"] = "degraded"
	default:
		checks["key_set"] = "healthy"
	}

	if h.store == nil {
		checks["database"] = "disabled"
	} else if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	} else {
		checks["database"] = "healthy"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		KeySet:    &stats,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}
