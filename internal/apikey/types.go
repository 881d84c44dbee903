// Package apikey manages the lifecycle of long-lived programmatic
// credentials. A key's public prefix is the lookup handle; the full raw key
// exists only in the creation response and as a one-way hash at rest.
package apikey

import (
	"time"

	"orbistack.org/internal/rbac"
)

// Status is the lifecycle state of an API key. Revoked and Expired are
// terminal.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// APIKey is the persisted record of a programmatic credential.
type APIKey struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Prefix      string            `json:"prefix"`
	KeyHash     string            `json:"-"`
	Permissions []rbac.Permission `json:"permissions"`
	CreatedBy   string            `json:"created_by"`
	CreatedAt   time.Time         `json:"created_at"`
	LastUsed    *time.Time        `json:"last_used,omitempty"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	Status      Status            `json:"status"`
	UsageCount  int64             `json:"usage_count"`
}

// IsValid reports whether the key is active and within its expiry window.
func (k *APIKey) IsValid() bool {
	if k.Status != StatusActive {
		return false
	}
	if k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt) {
		return false
	}
	return true
}

// HasPermission reports whether the key grants the permission.
func (k *APIKey) HasPermission(perm rbac.Permission) bool {
	for _, p := range k.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
