package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"orbistack.org/internal/obs"
)

// LogRecorder writes audit entries to the structured log. It backs
// deployments without a dedicated audit table and the test suites.
type LogRecorder struct{}

var _ Recorder = (*LogRecorder)(nil)

// Record emits the entry as a JSON audit line.
func (LogRecorder) Record(_ context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	fields := map[string]any{
		"type":        "audit",
		"audit_id":    entry.ID,
		"action":      string(entry.Action),
		"occurred_at": entry.OccurredAt.Format(time.RFC3339Nano),
	}
	if entry.UserID != "" {
		fields["user_id"] = entry.UserID
	}
	if entry.Username != "" {
		fields["username"] = entry.Username
	}
	if entry.ResourceType != "" {
		fields["resource_type"] = entry.ResourceType
	}
	if entry.ResourceID != "" {
		fields["resource_id"] = entry.ResourceID
	}
	if entry.IPAddress != "" {
		fields["ip_address"] = entry.IPAddress
	}
	if len(entry.Details) > 0 {
		fields["details"] = entry.Details
	}
	obs.Info("audit", fields)
	return nil
}
