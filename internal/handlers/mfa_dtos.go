package handlers

import (
	"time"

	"github.com/BradenHooton/dealerdesk/internal/models"
)

// VerifyCodeRequest is the body of POST /mfa/verify
type VerifyCodeRequest struct {
	Code string `json:"code" validate:"max=32"`
}

// RevokeTrustRequest is the body of POST /mfa/revoke. Scope is "login",
// "all" or an action name.
type RevokeTrustRequest struct {
	Scope string `json:"scope" validate:"required,max=64,printascii"`
}

// ChallengeDocument describes the pending verification for the verify page
type ChallengeDocument struct {
	Purpose     models.OTPPurpose    `json:"purpose"`
	Action      *string              `json:"action"`
	ActionText  *string              `json:"actionText"`
	Challenge   *models.MFAChallenge `json:"challenge"`
	SubmitURL   string               `json:"submit_url"`
	SendCodeURL string               `json:"send_code_url"`
}

// VerifyCodeResponse is returned to JSON clients after a successful verify
type VerifyCodeResponse struct {
	Verified bool   `json:"verified"`
	Scope    string `json:"scope"`
	Redirect string `json:"redirect"`
}

// TrustState is the trust record for one scope
type TrustState struct {
	Trusted       bool       `json:"trusted"`
	VerifiedAt    *time.Time `json:"verified_at"`
	WindowMinutes int        `json:"window_minutes"`
}

// LoginTrustStatus is the login part of GET /mfa/status
type LoginTrustStatus struct {
	TrustState
	Required bool `json:"required"`
}

// ActionTrustStatus is one registered action in GET /mfa/status
type ActionTrustStatus struct {
	TrustState
	Action      string `json:"action"`
	DisplayText string `json:"display_text"`
	RequiresMFA bool   `json:"requires_mfa"`
}

// MFAStatusResponse shows the session's trust across every scope
type MFAStatusResponse struct {
	Login   LoginTrustStatus    `json:"login"`
	Actions []ActionTrustStatus `json:"actions"`
}

// RevokeTrustResponse confirms a revocation
type RevokeTrustResponse struct {
	Revoked string `json:"revoked"`
}

// LogoutResponse is returned to JSON clients on logout
type LogoutResponse struct {
	LoggedOut bool   `json:"logged_out"`
	Redirect  string `json:"redirect"`
}
