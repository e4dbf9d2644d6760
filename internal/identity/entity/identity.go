package entity

import (
	"strings"
	"time"
)

// Role is the single authorization role held by an identity.
type Role string

const (
	RoleUser   Role = "ROLE_USER"
	RoleAdmin  Role = "ROLE_ADMIN"
	RoleSeller Role = "ROLE_SELLER"
)

// ParseRole maps stored or claimed role strings ("ROLE_ADMIN", "admin") to a Role.
func ParseRole(s string) (Role, bool) {
	switch strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "ROLE_") {
	case "USER":
		return RoleUser, true
	case "ADMIN":
		return RoleAdmin, true
	case "SELLER":
		return RoleSeller, true
	}
	return "", false
}

// Provider is the authentication source an identity was registered with.
type Provider string

const (
	ProviderLocal  Provider = "LOCAL"
	ProviderGoogle Provider = "GOOGLE"
	ProviderGitHub Provider = "GITHUB"
)

// ProviderFromRegistration maps an external registration id ("google") to a Provider.
// Unknown ids map to LOCAL.
func ProviderFromRegistration(id string) Provider {
	switch strings.ToLower(id) {
	case "google":
		return ProviderGoogle
	case "github":
		return ProviderGitHub
	default:
		return ProviderLocal
	}
}

// Identity is an account row in the `identities` table.
type Identity struct {
	ID                int64      `db:"id"`
	Email             string     `db:"email"`
	Username          string     `db:"username"`
	PasswordHash      *string    `db:"password_hash"` // nil for federation-only accounts
	FirstName         string     `db:"first_name"`
	LastName          string     `db:"last_name"`
	Role              Role       `db:"role"`
	Active            bool       `db:"active"`
	Provider          Provider   `db:"provider"`
	ProviderSubjectID *string    `db:"provider_subject_id"`
	EmailVerified     bool       `db:"email_verified"`
	LastLoginAt       *time.Time `db:"last_login_at"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

// NormalizeEmail lower-cases and trims an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
