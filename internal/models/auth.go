package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the claims carried by access tokens issued by the
// primary login service and accepted here as proof of identity.
type TokenClaims struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}
