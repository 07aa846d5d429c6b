package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/drdecide/clinic-gateway/cognito"
	"github.com/drdecide/clinic-gateway/services/audit"
	"github.com/drdecide/clinic-gateway/utils"
	"go.uber.org/zap"
)

// Guard verifies a raw token and authorizes it against a role
type Guard interface {
	Guard(ctx context.Context, rawToken, requiredRole string) cognito.AuthorizationDecision
}

// DecisionAuditor records guard decisions
type DecisionAuditor interface {
	LogDecision(decision cognito.AuthorizationDecision, meta audit.RequestMeta) error
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	guard   Guard
	auditor DecisionAuditor
	logger  *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. auditor may be nil.
func NewAuthMiddleware(guard Guard, auditor DecisionAuditor, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		guard:   guard,
		auditor: auditor,
		logger:  logger,
	}
}

// authTokenCookieName is the cookie name for JWT tokens (Authorization header takes precedence)
const authTokenCookieName = "auth_token"

// RequireRole admits only requests whose token verifies and carries role.
// Verified claims are stored in the request context for the next handler.
func (m *AuthMiddleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			decision := m.guard.Guard(ctx, extractToken(r), role)
			if decision.Allow && !decision.Claims.Trusted() {
				decision.Allow = false
				decision.Err = cognito.ErrUntrustedClaims
			}
			m.audit(r, requestID, decision)

			if !decision.Allow {
				m.reject(w, requestID, decision)
				return
			}

			m.logger.Debug("role check passed",
				zap.String("request_id", requestID),
				zap.String("sub", decision.Claims.Subject()),
				zap.String("required_role", role))

			next.ServeHTTP(w, r.WithContext(WithClaims(ctx, decision.Claims)))
		})
	}
}

// reject writes the response for a denied decision
func (m *AuthMiddleware) reject(w http.ResponseWriter, requestID string, decision cognito.AuthorizationDecision) {
	authErr := decision.Err
	if authErr == nil {
		authErr = &cognito.AuthError{Kind: cognito.KindRoleMismatch, Message: "access denied"}
	}

	switch authErr.Class() {
	case cognito.ClassAuthorization:
		m.logger.Warn("insufficient permissions",
			zap.String("request_id", requestID),
			zap.String("required_role", decision.RequiredRole),
			zap.String("actual_role", decision.ActualRole))
		_ = utils.WriteForbidden(w, "Insufficient permissions", map[string]interface{}{
			"kind":          string(authErr.Kind),
			"required_role": decision.RequiredRole,
			"actual_role":   decision.ActualRole,
		})
	case cognito.ClassUnavailable:
		m.logger.Error("token verification unavailable",
			zap.String("request_id", requestID),
			zap.Error(authErr))
		_ = utils.WriteServiceUnavailable(w, "Token verification is temporarily unavailable")
	default:
		m.logger.Warn("token validation failed",
			zap.String("request_id", requestID),
			zap.String("kind", string(authErr.Kind)),
			zap.Error(authErr))
		_ = utils.WriteUnauthorized(w, "Invalid or expired token", map[string]interface{}{
			"kind": string(authErr.Kind),
		})
	}
}

func (m *AuthMiddleware) audit(r *http.Request, requestID string, decision cognito.AuthorizationDecision) {
	if m.auditor == nil {
		return
	}
	meta := audit.RequestMeta{
		RequestID: requestID,
		Method:    r.Method,
		Path:      r.URL.Path,
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
	if err := m.auditor.LogDecision(decision, meta); err != nil {
		m.logger.Warn("failed to queue audit event",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// extractToken extracts JWT from cookie ("auth_token") or Authorization header ("Bearer TOKEN").
// Authorization header takes precedence when both are present.
func extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(authTokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
