package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Activity actions recorded by the MFA module
const (
	ActivityModuleMFA = "mfa"

	ActivityOTPSent           = "mfa_otp_sent"
	ActivityOTPDeliveryFailed = "mfa_otp_delivery_failed"
	ActivityOTPVerified       = "mfa_otp_verified"
	ActivityOTPRejected       = "mfa_otp_rejected"
	ActivityTrustRevoked      = "mfa_trust_revoked"
	ActivityActionAuthorized  = "mfa_action_authorized"
	ActivityExemptionChanged  = "mfa_exemption_changed"
)

// ActivityLog is a single entry in the dealership activity log
type ActivityLog struct {
	ID          string             `db:"id"`
	UserID      *string            `db:"user_id"`
	Action      string             `db:"action"`
	Module      string             `db:"module"`
	Description string             `db:"description"`
	IPAddress   *string            `db:"ip_address"`
	UserAgent   *string            `db:"user_agent"`
	Properties  ActivityProperties `db:"properties"`
	CreatedAt   time.Time          `db:"created_at"`
}

// ActivityProperties holds additional context for activity entries
type ActivityProperties map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (p *ActivityProperties) Scan(value interface{}) error {
	if value == nil {
		*p = make(ActivityProperties)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*p = ActivityProperties(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (p ActivityProperties) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(map[string]interface{}(p))
}
