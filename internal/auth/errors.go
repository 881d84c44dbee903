package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrAlreadyExists      = errors.New("auth: already exists")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountDisabled    = errors.New("auth: account is disabled")
	ErrThrottled          = errors.New("auth: too many login attempts")

	// Token verification failures. Callers at trust boundaries collapse all
	// three into a generic invalid-credential response; the specific kind is
	// only for internal logs.
	ErrTokenMalformed  = errors.New("auth: token malformed")
	ErrTokenExpired    = errors.New("auth: token expired")
	ErrTokenSignature  = errors.New("auth: token signature mismatch")
	ErrNotRefreshToken = errors.New("auth: not a refresh token")
)
