package pg

import (
	"context"
	"database/sql"
	"errors"

	"orbistack.org/internal/auth"
	"orbistack.org/internal/ids"
	"orbistack.org/internal/rbac"
)

// UserRepo persists principal accounts.
type UserRepo struct {
	db *sql.DB
}

var _ auth.UserRepository = (*UserRepo)(nil)

func (r *UserRepo) Create(ctx context.Context, user *auth.User) (*auth.User, error) {
	id := ids.New()
	row := r.db.QueryRowContext(ctx, `
		insert into users (id, username, email, password_hash, role, enabled)
		values ($1, $2, $3, $4, $5, $6)
		returning id, username, email, password_hash, role, enabled, created_at, updated_at, last_login
	`, id, user.Username, user.Email, user.PasswordHash, string(user.Role), user.Enabled)
	created, err := scanUser(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return nil, auth.ErrAlreadyExists
		}
		return nil, err
	}
	return created, nil
}

func (r *UserRepo) Get(ctx context.Context, id string) (*auth.User, error) {
	row := r.db.QueryRowContext(ctx, `
		select id, username, email, password_hash, role, enabled, created_at, updated_at, last_login
		from users where id = $1
	`, id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return user, err
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	row := r.db.QueryRowContext(ctx, `
		select id, username, email, password_hash, role, enabled, created_at, updated_at, last_login
		from users where username = $1
	`, username)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return user, err
}

func (r *UserRepo) List(ctx context.Context, limit, offset int) ([]*auth.User, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int
	if err := r.db.QueryRowContext(ctx, `select count(*) from users`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx, `
		select id, username, email, password_hash, role, enabled, created_at, updated_at, last_login
		from users
		order by username
		limit $1 offset $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *UserRepo) Update(ctx context.Context, user *auth.User) (*auth.User, error) {
	row := r.db.QueryRowContext(ctx, `
		update users
		set email = $2, password_hash = $3, role = $4, enabled = $5, updated_at = now()
		where id = $1
		returning id, username, email, password_hash, role, enabled, created_at, updated_at, last_login
	`, user.ID, user.Email, user.PasswordHash, string(user.Role), user.Enabled)
	updated, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return updated, err
}

func (r *UserRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (r *UserRepo) UpdateLastLogin(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `update users set last_login = now() where id = $1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	var (
		user      auth.User
		role      string
		lastLogin sql.NullTime
	)
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&role, &user.Enabled, &user.CreatedAt, &user.UpdatedAt, &lastLogin)
	if err != nil {
		return nil, err
	}
	user.Role = rbac.Role(role)
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLogin = &t
	}
	return &user, nil
}
