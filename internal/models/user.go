package models

import (
	"time"
)

// User is the authenticated identity the MFA core works with.
// Credentials and profile management live outside this service.
type User struct {
	ID        string
	Email     string
	Name      string
	Role      string // e.g., "sales", "service_advisor", "manager", "admin"
	Status    string // "active", "suspended", "disabled"
	MFAExempt bool   // Per-user opt-out from login MFA (service accounts, kiosks)
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive reports whether the account may use the application.
func (u *User) IsActive() bool {
	return u.Status == "" || u.Status == "active"
}
