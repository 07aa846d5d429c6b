package cognito

import (
	"errors"
	"fmt"
)

// ErrorKind identifies why a token was rejected
type ErrorKind string

const (
	KindMalformedToken    ErrorKind = "malformed_token"
	KindKeySetUnavailable ErrorKind = "keyset_unavailable"
	KindUnknownKeyID      ErrorKind = "unknown_key_id"
	KindSignatureMismatch ErrorKind = "signature_mismatch"
	KindExpiredToken      ErrorKind = "expired_token"
	KindAudienceMismatch  ErrorKind = "audience_mismatch"
	KindMissingSubject    ErrorKind = "missing_subject"
	KindUntrustedClaims   ErrorKind = "untrusted_claims"
	KindRoleMismatch      ErrorKind = "role_mismatch"
)

// ErrorClass groups error kinds by the response a caller should produce
type ErrorClass string

const (
	// ClassAuthentication covers failures to establish who the caller is (401)
	ClassAuthentication ErrorClass = "authentication"

	// ClassAuthorization covers a verified caller lacking the required role (403)
	ClassAuthorization ErrorClass = "authorization"

	// ClassUnavailable covers the gateway being unable to verify anything (503)
	ClassUnavailable ErrorClass = "unavailable"
)

// AuthError is the only error type that leaves the gateway
type AuthError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches any AuthError of the same kind
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Class returns the response class for the error kind
func (e *AuthError) Class() ErrorClass {
	switch e.Kind {
	case KindRoleMismatch:
		return ClassAuthorization
	case KindKeySetUnavailable:
		return ClassUnavailable
	default:
		return ClassAuthentication
	}
}

func newAuthError(kind ErrorKind, message string, err error) *AuthError {
	return &AuthError{Kind: kind, Message: message, Err: err}
}

var (
	ErrMalformedToken    = newAuthError(KindMalformedToken, "malformed token", nil)
	ErrKeySetUnavailable = newAuthError(KindKeySetUnavailable, "verification key set unavailable", nil)
	ErrUnknownKeyID      = newAuthError(KindUnknownKeyID, "signing key not found in key set", nil)
	ErrSignatureMismatch = newAuthError(KindSignatureMismatch, "signature verification failed", nil)
	ErrExpiredToken      = newAuthError(KindExpiredToken, "token expired", nil)
	ErrAudienceMismatch  = newAuthError(KindAudienceMismatch, "token was not issued for this client", nil)
	ErrMissingSubject    = newAuthError(KindMissingSubject, "token has no subject", nil)
	ErrUntrustedClaims   = newAuthError(KindUntrustedClaims, "claims were not produced by token verification", nil)
	ErrRoleMismatch      = newAuthError(KindRoleMismatch, "role does not match", nil)
)

// AsAuthError extracts the AuthError from err, wrapping foreign errors as malformed input
func AsAuthError(err error) *AuthError {
	if err == nil {
		return nil
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	return newAuthError(KindMalformedToken, "invalid token", err)
}
