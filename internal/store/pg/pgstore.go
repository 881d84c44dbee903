// Package pg implements the repository contracts on PostgreSQL.
package pg

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store wraps the shared connection pool and hands out per-aggregate
// repositories.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL with pool defaults tuned for the control
// plane's request volume.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing connection pool (used by tests).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Users returns the user repository.
func (s *Store) Users() *UserRepo { return &UserRepo{db: s.db} }

// APIKeys returns the API key repository.
func (s *Store) APIKeys() *APIKeyRepo { return &APIKeyRepo{db: s.db} }

// Roles returns the custom role repository.
func (s *Store) Roles() *RoleRepo { return &RoleRepo{db: s.db} }

// Rules returns the global rule repository.
func (s *Store) Rules() *RuleRepo { return &RuleRepo{db: s.db} }

// Audit returns the audit recorder.
func (s *Store) Audit() *AuditRepo { return &AuditRepo{db: s.db} }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
