package models

import (
	"time"
)

// OTPPurpose identifies what an issued code unlocks
type OTPPurpose string

const (
	OTPPurposeLogin           OTPPurpose = "login"
	OTPPurposeSensitiveAction OTPPurpose = "sensitive_action"
	OTPPurposePasswordReset   OTPPurpose = "password_reset"
)

// Valid reports whether p is one of the known purposes
func (p OTPPurpose) Valid() bool {
	switch p {
	case OTPPurposeLogin, OTPPurposeSensitiveAction, OTPPurposePasswordReset:
		return true
	}
	return false
}

// OTPMetadata holds request context captured when a code is issued
type OTPMetadata map[string]string

// OTPCode is a persisted one-time passcode. Rows are never deleted; they
// expire by time comparison and are retained for audit.
type OTPCode struct {
	ID           string
	CodeHash     string // Keyed BLAKE2b hash, the plain code is never stored
	Purpose      OTPPurpose
	Action       string // Only set when Purpose is sensitive_action
	OwnerUserID  string
	IPAddress    string
	UserAgent    string
	Metadata     OTPMetadata
	CreatedAt    time.Time
	ExpiresAt    time.Time
	ConsumedAt   *time.Time // Set at most once
	SupersededAt *time.Time // Set when a newer code is issued for the same tuple
}

// IsConsumed checks if the code has already been used
func (c *OTPCode) IsConsumed() bool {
	return c.ConsumedAt != nil
}

// IsSuperseded checks if a newer code replaced this one
func (c *OTPCode) IsSuperseded() bool {
	return c.SupersededAt != nil
}

// IsExpiredAt checks expiry against the given instant. A code is still
// eligible at exactly ExpiresAt.
func (c *OTPCode) IsExpiredAt(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// OTPIssue describes a freshly issued code. The plain code never leaves the
// service except through the mailer.
type OTPIssue struct {
	CodeID    string
	Purpose   OTPPurpose
	Action    string
	ExpiresAt time.Time
	Message   string
	Delivered bool
}
