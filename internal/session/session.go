// Package session provides the optional login session registry. When no
// store is configured the auth service degrades gracefully: logins succeed
// and sessions simply cannot be revoked server-side.
package session

import (
	"context"
	"errors"
)

// ErrNotFound indicates the session does not exist or already expired.
var ErrNotFound = errors.New("session: not found")

// Store maps session identifiers to user IDs with a bounded lifetime.
// Implementations must be safe for concurrent use.
type Store interface {
	Set(ctx context.Context, sessionID, userID string) error
	Get(ctx context.Context, sessionID string) (string, error)
	Delete(ctx context.Context, sessionID string) error
}
