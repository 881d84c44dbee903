package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"orbistack.org/internal/ids"
	"orbistack.org/internal/rbac"
)

// RoleRepo persists custom roles and their user assignments. UserCount is
// computed from the assignment table on every read so delete checks never see
// a stale count.
type RoleRepo struct {
	db *sql.DB
}

var _ rbac.Repository = (*RoleRepo)(nil)

const roleColumns = `r.id, r.name, r.description, r.type, r.permissions, r.created_at, r.updated_at,
	(select count(*) from user_role_assignments a where a.role_id = r.id) as user_count`

func (r *RoleRepo) Create(ctx context.Context, role *rbac.CustomRole) (*rbac.CustomRole, error) {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return nil, fmt.Errorf("encode permissions: %w", err)
	}
	row := r.db.QueryRowContext(ctx, `
		insert into custom_roles as r (id, name, description, type, permissions)
		values ($1, $2, $3, $4, $5)
		returning `+roleColumns+`
	`, ids.New(), role.Name, role.Description, string(role.Type), perms)
	created, err := scanRole(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return nil, fmt.Errorf("%w: role name already taken", rbac.ErrInvalidInput)
		}
		return nil, err
	}
	return created, nil
}

func (r *RoleRepo) Get(ctx context.Context, id string) (*rbac.CustomRole, error) {
	row := r.db.QueryRowContext(ctx,
		`select `+roleColumns+` from custom_roles r where r.id = $1`, id)
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrNotFound
	}
	return role, err
}

func (r *RoleRepo) GetByName(ctx context.Context, name string) (*rbac.CustomRole, error) {
	row := r.db.QueryRowContext(ctx,
		`select `+roleColumns+` from custom_roles r where r.name = $1`, name)
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrNotFound
	}
	return role, err
}

func (r *RoleRepo) List(ctx context.Context, filter rbac.Filter) ([]*rbac.CustomRole, error) {
	query := `select ` + roleColumns + ` from custom_roles r where 1=1`
	args := []any{}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(" and r.type = $%d", len(args))
	}
	if filter.Name != "" {
		args = append(args, "%"+filter.Name+"%")
		query += fmt.Sprintf(" and r.name ilike $%d", len(args))
	}
	query += " order by r.name"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*rbac.CustomRole
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r *RoleRepo) Update(ctx context.Context, role *rbac.CustomRole) (*rbac.CustomRole, error) {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return nil, fmt.Errorf("encode permissions: %w", err)
	}
	row := r.db.QueryRowContext(ctx, `
		update custom_roles r
		set name = $2, description = $3, permissions = $4, updated_at = now()
		where r.id = $1
		returning `+roleColumns+`
	`, role.ID, role.Name, role.Description, perms)
	updated, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrNotFound
	}
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return nil, fmt.Errorf("%w: role name already taken", rbac.ErrInvalidInput)
		}
		return nil, err
	}
	return updated, nil
}

func (r *RoleRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `delete from custom_roles where id = $1`, id)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return rbac.ErrRoleInUse
		}
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

// AssignToUser is idempotent: re-granting an already held role is a no-op.
func (r *RoleRepo) AssignToUser(ctx context.Context, userID, roleID, assignedBy string) error {
	_, err := r.db.ExecContext(ctx, `
		insert into user_role_assignments (user_id, role_id, assigned_by)
		values ($1, $2, $3)
		on conflict (user_id, role_id) do nothing
	`, userID, roleID, assignedBy)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return rbac.ErrNotFound
		}
		return err
	}
	return nil
}

func (r *RoleRepo) RemoveFromUser(ctx context.Context, userID, roleID string) error {
	res, err := r.db.ExecContext(ctx,
		`delete from user_role_assignments where user_id = $1 and role_id = $2`, userID, roleID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

func (r *RoleRepo) GetUserRoles(ctx context.Context, userID string) ([]*rbac.CustomRole, error) {
	rows, err := r.db.QueryContext(ctx, `
		select `+roleColumns+`
		from custom_roles r
		join user_role_assignments a on a.role_id = r.id
		where a.user_id = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*rbac.CustomRole
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func scanRole(row rowScanner) (*rbac.CustomRole, error) {
	var (
		role     rbac.CustomRole
		roleType string
		perms    []byte
	)
	err := row.Scan(&role.ID, &role.Name, &role.Description, &roleType, &perms,
		&role.CreatedAt, &role.UpdatedAt, &role.UserCount)
	if err != nil {
		return nil, err
	}
	role.Type = rbac.RoleType(roleType)
	if len(perms) > 0 {
		var decoded []rbac.Permission
		if err := json.Unmarshal(perms, &decoded); err != nil {
			return nil, fmt.Errorf("decode permissions: %w", err)
		}
		role.Permissions = decoded
	}
	return &role, nil
}
