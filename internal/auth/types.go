// Package auth implements credential verification and signed token issuance
// for platform principals.
package auth

import (
	"time"

	"orbistack.org/internal/rbac"
)

// User represents a principal account.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         rbac.Role  `json:"role"`
	Enabled      bool       `json:"enabled"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// TokenPair bundles the short-lived access token with its long-lived refresh
// counterpart. Both are stateless signed credentials.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"`
}

// UserUpdate carries optional field changes for an account.
type UserUpdate struct {
	Email   *string
	Role    *rbac.Role
	Enabled *bool
}
