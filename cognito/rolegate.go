package cognito

import "fmt"

// Roles carried in the role claim
const (
	RoleDoctor       = "Doctor"
	RolePatient      = "Patient"
	RoleReceptionist = "Receptionist"
)

// AuthorizationDecision is the outcome of a guard. When Allow is false, Err
// says why; Claims is set whenever the token itself verified.
type AuthorizationDecision struct {
	Allow        bool
	Claims       *ClaimSet
	Err          *AuthError
	RequiredRole string
	ActualRole   string
}

// Outcome returns the metrics label for the decision
func (d AuthorizationDecision) Outcome() string {
	if d.Allow {
		return OutcomeOK
	}
	if d.Err == nil {
		return string(KindRoleMismatch)
	}
	return string(d.Err.Kind)
}

// RoleGate compares the role claim of a verified ClaimSet to a required role
type RoleGate struct{}

// NewRoleGate creates a new RoleGate
func NewRoleGate() *RoleGate {
	return &RoleGate{}
}

// Authorize allows only trusted claims whose role equals requiredRole exactly
func (g *RoleGate) Authorize(claims *ClaimSet, requiredRole string) AuthorizationDecision {
	decision := AuthorizationDecision{Claims: claims, RequiredRole: requiredRole}

	if !claims.Trusted() {
		decision.Err = ErrUntrustedClaims
		return decision
	}

	actual, ok := claims.Role()
	decision.ActualRole = actual

	switch {
	case requiredRole == "":
		decision.Err = newAuthError(KindRoleMismatch, "no required role configured", nil)
	case !ok:
		decision.Err = newAuthError(KindRoleMismatch, fmt.Sprintf("role %s required, token has no role", requiredRole), nil)
	case actual != requiredRole:
		decision.Err = newAuthError(KindRoleMismatch, fmt.Sprintf("role %s required, token has role %s", requiredRole, actual), nil)
	default:
		decision.Allow = true
	}
	return decision
}
