package handlers

import (
	"net/http"

	"github.com/drdecide/clinic-gateway/middleware"
	"github.com/drdecide/clinic-gateway/models"
	"github.com/drdecide/clinic-gateway/utils"
	"go.uber.org/zap"
)

// ProfileHandler serves the identity of the verified caller
type ProfileHandler struct {
	logger *zap.Logger
}

// NewProfileHandler creates a new ProfileHandler
func NewProfileHandler(logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{logger: logger}
}

// HandleProfile handles GET /api/{role}/profile
// Must run behind AuthMiddleware.RequireRole
func (h *ProfileHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	claims := middleware.GetClaimsFromContext(ctx)
	if claims == nil {
		h.logger.Error("claims not found in context", zap.String("request_id", requestID))
		_ = utils.WriteUnauthorized(w, "Authentication required", nil)
		return
	}

	role, _ := claims.Role()
	profile := models.NewUserProfile(
		claims.Subject(),
		claims.Username(),
		claims.Email(),
		models.UserRole(role),
		claims.ExpiresAt(),
	)

	h.logger.Debug("profile served",
		zap.String("request_id", requestID),
		zap.String("sub", profile.Subject),
		zap.String("role", role))

	_ = utils.WriteOK(w, profile)
}
