package cognito

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claim names read by the gateway
const (
	ClaimSubject         = "sub"
	ClaimExpiration      = "exp"
	ClaimAudience        = "aud"
	ClaimClientID        = "client_id"
	ClaimEmail           = "email"
	ClaimCognitoUsername = "cognito:username"
	ClaimUsername        = "username"

	// DefaultRoleClaim is the custom user pool attribute holding the role
	DefaultRoleClaim = "custom:role"
)

// ClaimSet is the verified claim mapping of a token. Claims without an
// accessor pass through untouched and play no part in authorization.
type ClaimSet struct {
	claims    map[string]interface{}
	roleClaim string
	trusted   bool
}

// Subject returns the sub claim
func (c *ClaimSet) Subject() string {
	return c.stringClaim(ClaimSubject)
}

// ExpiresAt returns the exp claim
func (c *ClaimSet) ExpiresAt() time.Time {
	exp, ok := numericDate(c.claims[ClaimExpiration])
	if !ok {
		return time.Time{}
	}
	return exp.Time
}

// Audience returns the aud claim, which may be a string or an array
func (c *ClaimSet) Audience() jwt.ClaimStrings {
	return claimStrings(c.claims[ClaimAudience])
}

// ClientID returns the client_id claim carried by access tokens
func (c *ClaimSet) ClientID() string {
	return c.stringClaim(ClaimClientID)
}

// Role returns the role attribute and whether it is present
func (c *ClaimSet) Role() (string, bool) {
	role, ok := c.claims[c.roleClaim].(string)
	return role, ok
}

// Email returns the email claim
func (c *ClaimSet) Email() string {
	return c.stringClaim(ClaimEmail)
}

// Username returns cognito:username (ID tokens) or username (access tokens)
func (c *ClaimSet) Username() string {
	if username := c.stringClaim(ClaimCognitoUsername); username != "" {
		return username
	}
	return c.stringClaim(ClaimUsername)
}

// Get returns a raw claim value
func (c *ClaimSet) Get(name string) (interface{}, bool) {
	value, ok := c.claims[name]
	return value, ok
}

// Map returns a shallow copy of every claim
func (c *ClaimSet) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(c.claims))
	for k, v := range c.claims {
		out[k] = v
	}
	return out
}

// Trusted reports whether the claims came out of full token verification
func (c *ClaimSet) Trusted() bool {
	return c != nil && c.trusted
}

func (c *ClaimSet) stringClaim(name string) string {
	if c == nil {
		return ""
	}
	s, _ := c.claims[name].(string)
	return s
}

// ClaimsConfig configures ClaimsValidator
type ClaimsConfig struct {
	ClientID  string
	ClockSkew time.Duration
	RoleClaim string
	Now       func() time.Time
}

// ClaimsValidator checks expiration, audience and subject, in that order
type ClaimsValidator struct {
	clientID  string
	skew      time.Duration
	roleClaim string
	now       func() time.Time
}

// NewClaimsValidator creates a new ClaimsValidator
func NewClaimsValidator(cfg ClaimsConfig) *ClaimsValidator {
	if cfg.RoleClaim == "" {
		cfg.RoleClaim = DefaultRoleClaim
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ClockSkew < 0 {
		cfg.ClockSkew = 0
	}
	return &ClaimsValidator{
		clientID:  cfg.ClientID,
		skew:      cfg.ClockSkew,
		roleClaim: cfg.RoleClaim,
		now:       cfg.Now,
	}
}

// Validate decodes payload and returns its claims. The returned ClaimSet is
// not trusted; only Authenticator marks claims as verified.
func (v *ClaimsValidator) Validate(payload []byte) (*ClaimSet, error) {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()

	var claims map[string]interface{}
	if err := decoder.Decode(&claims); err != nil || claims == nil {
		return nil, malformedErr("payload is not a JSON object", err)
	}

	exp, ok := numericDate(claims[ClaimExpiration])
	if !ok {
		return nil, newAuthError(KindExpiredToken, "token has no valid exp claim", nil)
	}
	// exp must lie strictly after now - skew
	if !exp.Time.After(v.now().Add(-v.skew)) {
		return nil, newAuthError(KindExpiredToken, fmt.Sprintf("token expired at %s", exp.Time.UTC().Format(time.RFC3339)), nil)
	}

	if !v.audienceMatches(claims) {
		return nil, ErrAudienceMismatch
	}

	if sub, _ := claims[ClaimSubject].(string); strings.TrimSpace(sub) == "" {
		return nil, ErrMissingSubject
	}

	return &ClaimSet{claims: claims, roleClaim: v.roleClaim}, nil
}

// audienceMatches accepts client_id (access tokens) or aud (ID tokens)
func (v *ClaimsValidator) audienceMatches(claims map[string]interface{}) bool {
	if v.clientID == "" {
		return false
	}
	if clientID, _ := claims[ClaimClientID].(string); clientID == v.clientID {
		return true
	}
	for _, aud := range claimStrings(claims[ClaimAudience]) {
		if aud == v.clientID {
			return true
		}
	}
	return false
}

func numericDate(value interface{}) (*jwt.NumericDate, bool) {
	var f float64
	switch v := value.(type) {
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil, false
		}
		f = parsed
	case float64:
		f = v
	default:
		return nil, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}

	secs, frac := math.Modf(f)
	return &jwt.NumericDate{Time: time.Unix(int64(secs), int64(frac*1e9))}, true
}

func claimStrings(value interface{}) jwt.ClaimStrings {
	switch v := value.(type) {
	case string:
		return jwt.ClaimStrings{v}
	case []interface{}:
		out := make(jwt.ClaimStrings, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return jwt.ClaimStrings(v)
	default:
		return nil
	}
}
