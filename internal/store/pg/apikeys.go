package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"orbistack.org/internal/apikey"
	"orbistack.org/internal/ids"
	"orbistack.org/internal/rbac"
)

// APIKeyRepo persists programmatic credentials. Only the bcrypt hash of the
// key material is stored.
type APIKeyRepo struct {
	db *sql.DB
}

var _ apikey.Repository = (*APIKeyRepo)(nil)

const apiKeyColumns = `id, name, prefix, key_hash, permissions, created_by, created_at, last_used, expires_at, status, usage_count`

func (r *APIKeyRepo) Create(ctx context.Context, key *apikey.APIKey) (*apikey.APIKey, error) {
	perms, err := json.Marshal(key.Permissions)
	if err != nil {
		return nil, fmt.Errorf("encode permissions: %w", err)
	}
	row := r.db.QueryRowContext(ctx, `
		insert into api_keys (id, name, prefix, key_hash, permissions, created_by, expires_at, status)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning `+apiKeyColumns+`
	`, ids.New(), key.Name, key.Prefix, key.KeyHash, perms, key.CreatedBy, key.ExpiresAt, string(key.Status))
	created, err := scanAPIKey(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return nil, fmt.Errorf("%w: prefix collision", apikey.ErrInvalidInput)
			case pgErrForeignKeyViolation:
				return nil, fmt.Errorf("%w: unknown creator", apikey.ErrInvalidInput)
			}
		}
		return nil, err
	}
	return created, nil
}

func (r *APIKeyRepo) Get(ctx context.Context, id string) (*apikey.APIKey, error) {
	row := r.db.QueryRowContext(ctx, `select `+apiKeyColumns+` from api_keys where id = $1`, id)
	key, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apikey.ErrNotFound
	}
	return key, err
}

func (r *APIKeyRepo) GetByPrefix(ctx context.Context, prefix string) (*apikey.APIKey, error) {
	row := r.db.QueryRowContext(ctx, `select `+apiKeyColumns+` from api_keys where prefix = $1`, prefix)
	key, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apikey.ErrNotFound
	}
	return key, err
}

func (r *APIKeyRepo) List(ctx context.Context, createdBy string) ([]*apikey.APIKey, error) {
	query := `select ` + apiKeyColumns + ` from api_keys order by created_at desc`
	args := []any{}
	if createdBy != "" {
		query = `select ` + apiKeyColumns + ` from api_keys where created_by = $1 order by created_at desc`
		args = append(args, createdBy)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*apikey.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (r *APIKeyRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `delete from api_keys where id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apikey.ErrNotFound
	}
	return nil
}

func (r *APIKeyRepo) Revoke(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`update api_keys set status = 'revoked' where id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apikey.ErrNotFound
	}
	return nil
}

func (r *APIKeyRepo) TrackUsage(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`update api_keys set last_used = now(), usage_count = usage_count + 1 where id = $1`, id)
	return err
}

// ExpireOld flips overdue active keys to expired in one statement, which
// keeps concurrent sweeps idempotent.
func (r *APIKeyRepo) ExpireOld(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		update api_keys set status = 'expired'
		where status = 'active' and expires_at is not null and expires_at < now()
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *APIKeyRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`select count(*) from api_keys where created_by = $1`, userID).Scan(&n)
	return n, err
}

func scanAPIKey(row rowScanner) (*apikey.APIKey, error) {
	var (
		key       apikey.APIKey
		perms     []byte
		status    string
		lastUsed  sql.NullTime
		expiresAt sql.NullTime
	)
	err := row.Scan(&key.ID, &key.Name, &key.Prefix, &key.KeyHash, &perms,
		&key.CreatedBy, &key.CreatedAt, &lastUsed, &expiresAt, &status, &key.UsageCount)
	if err != nil {
		return nil, err
	}
	if len(perms) > 0 {
		var decoded []rbac.Permission
		if err := json.Unmarshal(perms, &decoded); err != nil {
			return nil, fmt.Errorf("decode permissions: %w", err)
		}
		key.Permissions = decoded
	}
	key.Status = apikey.Status(status)
	if lastUsed.Valid {
		t := lastUsed.Time
		key.LastUsed = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		key.ExpiresAt = &t
	}
	return &key, nil
}
