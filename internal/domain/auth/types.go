// Package auth contains the domain types and logic for authentication.
package auth

import "slices"

// Role represents a marketplace user type for authorization purposes.
type Role string

const (
	// RolePatient buys from pharmacies and owns prescriptions.
	RolePatient Role = "patient"
	// RolePharmacy manages a pharmacy's catalogue and orders.
	RolePharmacy Role = "pharmacy"
	// RoleAdmin has full access to all operations.
	RoleAdmin Role = "admin"
)

// IsValid returns true if the role is a known valid role.
func (r Role) IsValid() bool {
	switch r {
	case RolePatient, RolePharmacy, RoleAdmin:
		return true
	default:
		return false
	}
}

// Role sets used by the route protection presets.
var (
	AdminRoles    = []Role{RoleAdmin}
	PharmacyRoles = []Role{RolePharmacy, RoleAdmin}
	PatientRoles  = []Role{RolePatient, RoleAdmin}
)

// User is an account known to the gateway.
type User struct {
	ID    string
	Email string
	Role  Role
	// PatientID links a patient account to its patient record.
	PatientID string
	// PharmacyID links a pharmacy account to its pharmacy.
	PharmacyID string
	// PasswordHash is an Argon2id PHC string.
	PasswordHash string
	// Disabled accounts cannot log in.
	Disabled bool
}

// Principal is the identity carried by a verified token.
type Principal struct {
	UserID     string `json:"userId"`
	Email      string `json:"email"`
	Role       Role   `json:"role"`
	PatientID  string `json:"patientId,omitempty"`
	PharmacyID string `json:"pharmacyId,omitempty"`
}

// PrincipalFor returns the token identity of user.
func PrincipalFor(u *User) Principal {
	return Principal{
		UserID:     u.ID,
		Email:      u.Email,
		Role:       u.Role,
		PatientID:  u.PatientID,
		PharmacyID: u.PharmacyID,
	}
}

// HasAnyRole returns true if the principal's role is one of roles.
func (p *Principal) HasAnyRole(roles ...Role) bool {
	return slices.Contains(roles, p.Role)
}
