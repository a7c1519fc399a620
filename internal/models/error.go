package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Identity errors
	ErrUnauthenticated = errors.New("no authenticated identity")

	// OTP lifecycle errors
	ErrDeliveryFailed     = errors.New("otp delivery failed")
	ErrOTPInvalidCode     = errors.New("invalid verification code")
	ErrOTPExpired         = errors.New("verification code has expired")
	ErrOTPAlreadyConsumed = errors.New("verification code has already been used")
)
