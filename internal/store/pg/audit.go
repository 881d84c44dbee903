package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"orbistack.org/internal/audit"
)

// AuditRepo appends security events to the audit_entries table. The table is
// insert-only; nothing in the control plane updates or deletes rows.
type AuditRepo struct {
	db *sql.DB
}

var _ audit.Recorder = (*AuditRepo)(nil)

func (r *AuditRepo) Record(ctx context.Context, entry *audit.Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	var details []byte
	if len(entry.Details) > 0 {
		var err error
		details, err = json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("encode details: %w", err)
		}
	}
	_, err := r.db.ExecContext(ctx, `
		insert into audit_entries (id, user_id, username, action, resource_type, resource_id, details, ip_address, user_agent, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, nullString(entry.UserID), nullString(entry.Username), string(entry.Action),
		nullString(entry.ResourceType), nullString(entry.ResourceID), details,
		nullString(entry.IPAddress), nullString(entry.UserAgent), entry.OccurredAt)
	return err
}

// List returns recent entries for operator review, newest first.
func (r *AuditRepo) List(ctx context.Context, limit int) ([]*audit.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		select id, user_id, username, action, resource_type, resource_id, details, ip_address, user_agent, occurred_at
		from audit_entries
		order by occurred_at desc
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		var (
			entry        audit.Entry
			userID       sql.NullString
			username     sql.NullString
			action       string
			resourceType sql.NullString
			resourceID   sql.NullString
			details      []byte
			ipAddress    sql.NullString
			userAgent    sql.NullString
		)
		err := rows.Scan(&entry.ID, &userID, &username, &action, &resourceType,
			&resourceID, &details, &ipAddress, &userAgent, &entry.OccurredAt)
		if err != nil {
			return nil, err
		}
		entry.UserID = userID.String
		entry.Username = username.String
		entry.Action = audit.Action(action)
		entry.ResourceType = resourceType.String
		entry.ResourceID = resourceID.String
		entry.IPAddress = ipAddress.String
		entry.UserAgent = userAgent.String
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, fmt.Errorf("decode details: %w", err)
			}
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
