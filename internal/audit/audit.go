// Package audit defines the append-only security event log consumed by the
// identity and credential services. Entries are written, never read back for
// decisions.
package audit

import (
	"context"
	"time"
)

// Action identifies the kind of audited operation.
type Action string

const (
	ActionLogin          Action = "LOGIN"
	ActionLogout         Action = "LOGOUT"
	ActionCreate         Action = "CREATE"
	ActionUpdate         Action = "UPDATE"
	ActionDelete         Action = "DELETE"
	ActionPasswordChange Action = "PASSWORD_CHANGE"
	ActionKeyRevoke      Action = "KEY_REVOKE"
)

// Entry is a single security event.
type Entry struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id,omitempty"`
	Username     string         `json:"username,omitempty"`
	Action       Action         `json:"action"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// Recorder appends entries to durable storage. Implementations must be safe
// for concurrent use.
type Recorder interface {
	Record(ctx context.Context, entry *Entry) error
}
