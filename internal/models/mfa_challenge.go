package models

import "time"

// MFAChallenge is the payload handed to the verification page when a gate
// interrupts a request.
type MFAChallenge struct {
	OTPSent    bool       `json:"otp_sent"`
	ExpiresAt  *time.Time `json:"expires_at"`
	Message    string     `json:"message"`
	Purpose    OTPPurpose `json:"purpose"`
	Action     *string    `json:"action"`
	ActionText *string    `json:"actionText"`
}

// NewMFAChallenge builds a challenge from an issue result. A nil issue means
// generation failed before a code existed.
func NewMFAChallenge(purpose OTPPurpose, issue *OTPIssue, message string) MFAChallenge {
	c := MFAChallenge{Purpose: purpose, Message: message}
	if issue != nil {
		c.OTPSent = issue.Delivered
		expires := issue.ExpiresAt
		c.ExpiresAt = &expires
		if message == "" {
			c.Message = issue.Message
		}
	}
	return c
}

// WithAction attaches the action name and its display text.
func (c MFAChallenge) WithAction(action Action) MFAChallenge {
	name := string(action.Name)
	text := action.DisplayText
	c.Action = &name
	c.ActionText = &text
	return c
}
