package cognito

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// KeySource provides snapshots to verify against
type KeySource interface {
	Get() (*KeySetSnapshot, error)
	RefreshForUnknownKey(ctx context.Context, keyID string) (*KeySetSnapshot, error)
}

// VerifySignature checks signature over message with the key named by
// header.KeyID. The algorithm comes from the key, never from the header.
func VerifySignature(header DecodedHeader, message string, signature []byte, snapshot *KeySetSnapshot) error {
	if snapshot == nil {
		return ErrKeySetUnavailable
	}

	key, ok := snapshot.Lookup(header.KeyID)
	if !ok {
		return newAuthError(KindUnknownKeyID, fmt.Sprintf("kid %q not in key set", header.KeyID), nil)
	}

	method := jwt.GetSigningMethod(key.Algorithm())
	if method == nil {
		return newAuthError(KindSignatureMismatch, fmt.Sprintf("key %q has unsupported algorithm %q", key.KeyID(), key.Algorithm()), nil)
	}
	if err := method.Verify(message, signature, key.PublicKey()); err != nil {
		return newAuthError(KindSignatureMismatch, "signature verification failed", err)
	}
	return nil
}

// SignatureVerifier verifies tokens against a KeySource, refreshing once when
// the signing key is unknown
type SignatureVerifier struct {
	keys   KeySource
	logger *zap.Logger
}

// NewSignatureVerifier creates a new SignatureVerifier
func NewSignatureVerifier(keys KeySource, logger *zap.Logger) *SignatureVerifier {
	return &SignatureVerifier{keys: keys, logger: logger}
}

// Verify checks the token signature. An unknown kid triggers the lazy
// refresh and exactly one retry against the snapshot it returns.
func (v *SignatureVerifier) Verify(ctx context.Context, token *ParsedToken) error {
	snapshot, err := v.keys.Get()
	if err != nil {
		return err
	}

	err = VerifySignature(token.Header, token.SigningInput(), token.Signature, snapshot)
	if !errors.Is(err, ErrUnknownKeyID) {
		return err
	}

	v.logger.Info("unknown key id, refreshing key set", zap.String("kid", token.Header.KeyID))

	refreshed, refreshErr := v.keys.RefreshForUnknownKey(ctx, token.Header.KeyID)
	if refreshErr != nil || refreshed == nil {
		v.logger.Warn("key set refresh for unknown key id failed",
			zap.String("kid", token.Header.KeyID),
			zap.Error(refreshErr))
		return err
	}

	return VerifySignature(token.Header, token.SigningInput(), token.Signature, refreshed)
}
