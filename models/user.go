package models

import (
	"time"
)

// UserRole represents the clinic role carried in the role claim
type UserRole string

const (
	RoleDoctor       UserRole = "Doctor"
	RolePatient      UserRole = "Patient"
	RoleReceptionist UserRole = "Receptionist"
)

// UserProfile is the identity of a verified caller. It is built from the
// claim set only, never from request input.
type UserProfile struct {
	Subject   string    `json:"sub"`
	Username  string    `json:"username,omitempty"`
	Email     string    `json:"email,omitempty"`
	Role      UserRole  `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewUserProfile creates a new UserProfile instance
func NewUserProfile(subject, username, email string, role UserRole, expiresAt time.Time) *UserProfile {
	return &UserProfile{
		Subject:   subject,
		Username:  username,
		Email:     email,
		Role:      role,
		ExpiresAt: expiresAt.UTC(),
	}
}

// IsStaff returns true for roles that work at the clinic
func (u *UserProfile) IsStaff() bool {
	return u.Role == RoleDoctor || u.Role == RoleReceptionist
}

// CanViewPatientRecords returns true if the role may read clinical data
func (u *UserProfile) CanViewPatientRecords() bool {
	return u.Role == RoleDoctor
}
