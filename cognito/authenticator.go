package cognito

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Config holds the identity provider settings the gateway verifies against
type Config struct {
	Region     string
	UserPoolID string
	// JWKSURL overrides the URL derived from Region and UserPoolID
	JWKSURL  string
	ClientID string

	RoleClaim string
	ClockSkew time.Duration

	UnknownKeyRefreshInterval time.Duration
	MaxUnknownKeyRefreshes    int
	BackgroundRefresh         time.Duration
	HTTPTimeout               time.Duration
}

// KeySetURL returns the JWKS endpoint to fetch
func (c Config) KeySetURL() string {
	if c.JWKSURL != "" {
		return c.JWKSURL
	}
	return JWKSURL(c.Region, c.UserPoolID)
}

// Validate checks the fields required to verify tokens
func (c Config) Validate() error {
	if c.JWKSURL == "" && (c.Region == "" || c.UserPoolID == "") {
		return errors.New("cognito region and user pool id are required when no JWKS URL is set")
	}
	if c.ClientID == "" {
		return errors.New("cognito client id is required")
	}
	if c.ClockSkew < 0 {
		return errors.New("clock skew must not be negative")
	}
	return nil
}

// Authenticator is the single entry point for request authentication
type Authenticator struct {
	verifier  *SignatureVerifier
	validator *ClaimsValidator
	gate      *RoleGate
	logger    *zap.Logger
	recorder  Recorder
}

// NewAuthenticator creates a new Authenticator
func NewAuthenticator(keys KeySource, validator *ClaimsValidator, logger *zap.Logger, recorder Recorder) *Authenticator {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Authenticator{
		verifier:  NewSignatureVerifier(keys, logger),
		validator: validator,
		gate:      NewRoleGate(),
		logger:    logger,
		recorder:  recorder,
	}
}

// VerifyRequest parses the token, verifies its signature and validates its
// claims. Only the ClaimSet returned here is trusted by the RoleGate.
func (a *Authenticator) VerifyRequest(ctx context.Context, rawToken string) (*ClaimSet, error) {
	claims, err := a.verify(ctx, rawToken)
	if err != nil {
		authErr := AsAuthError(err)
		a.recorder.TokenVerified(string(authErr.Kind))
		a.logger.Debug("token rejected",
			zap.String("kind", string(authErr.Kind)),
			zap.Error(authErr))
		return nil, authErr
	}

	a.recorder.TokenVerified(OutcomeOK)
	return claims, nil
}

// Guard verifies the token and requires the role claim to equal requiredRole
func (a *Authenticator) Guard(ctx context.Context, rawToken, requiredRole string) AuthorizationDecision {
	claims, err := a.VerifyRequest(ctx, rawToken)

	var decision AuthorizationDecision
	if err != nil {
		decision = AuthorizationDecision{Err: AsAuthError(err), RequiredRole: requiredRole}
	} else {
		decision = a.gate.Authorize(claims, requiredRole)
	}

	a.recorder.AccessDecided(requiredRole, decision.Outcome())
	if !decision.Allow && decision.Err.Kind == KindRoleMismatch {
		a.logger.Info("access denied",
			zap.String("sub", claims.Subject()),
			zap.String("required_role", requiredRole),
			zap.String("actual_role", decision.ActualRole))
	}
	return decision
}

func (a *Authenticator) verify(ctx context.Context, rawToken string) (*ClaimSet, error) {
	token, err := ParseToken(rawToken)
	if err != nil {
		return nil, err
	}

	if err := a.verifier.Verify(ctx, token); err != nil {
		return nil, err
	}

	claims, err := a.validator.Validate(token.Payload)
	if err != nil {
		return nil, err
	}

	claims.trusted = true
	return claims, nil
}
