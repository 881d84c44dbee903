package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"orbistack.org/internal/ids"
	"orbistack.org/internal/policy"
)

// RuleRepo persists global admission rules. Conditions and actions are
// jsonb documents; ordering within equal priorities follows creation time so
// evaluation stays stable across loads.
type RuleRepo struct {
	db *sql.DB
}

var _ policy.Repository = (*RuleRepo)(nil)

const ruleColumns = `id, name, description, category, priority, enabled, conditions, actions, created_by, created_at, updated_at`

func (r *RuleRepo) Create(ctx context.Context, rule *policy.GlobalRule) (*policy.GlobalRule, error) {
	conditions, actions, err := encodeRuleDocs(rule)
	if err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx, `
		insert into global_rules (id, name, description, category, priority, enabled, conditions, actions, created_by)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning `+ruleColumns+`
	`, ids.New(), rule.Name, rule.Description, string(rule.Category), rule.Priority,
		rule.Enabled, conditions, actions, rule.CreatedBy)
	created, err := scanRule(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return nil, fmt.Errorf("%w: rule name already taken", policy.ErrInvalidRule)
		}
		return nil, err
	}
	return created, nil
}

func (r *RuleRepo) Get(ctx context.Context, id string) (*policy.GlobalRule, error) {
	row := r.db.QueryRowContext(ctx, `select `+ruleColumns+` from global_rules where id = $1`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, policy.ErrNotFound
	}
	return rule, err
}

func (r *RuleRepo) List(ctx context.Context, filter policy.Filter) ([]*policy.GlobalRule, error) {
	query := `select ` + ruleColumns + ` from global_rules where 1=1`
	args := []any{}
	if filter.Category != "" {
		args = append(args, string(filter.Category))
		query += fmt.Sprintf(" and category = $%d", len(args))
	}
	if filter.Enabled != nil {
		args = append(args, *filter.Enabled)
		query += fmt.Sprintf(" and enabled = $%d", len(args))
	}
	query += " order by priority, created_at"
	return r.queryRules(ctx, query, args...)
}

func (r *RuleRepo) ListEnabled(ctx context.Context) ([]*policy.GlobalRule, error) {
	return r.queryRules(ctx, `
		select `+ruleColumns+` from global_rules
		where enabled order by priority, created_at
	`)
}

func (r *RuleRepo) ListByCategory(ctx context.Context, category policy.Category) ([]*policy.GlobalRule, error) {
	return r.queryRules(ctx, `
		select `+ruleColumns+` from global_rules
		where enabled and category = $1 order by priority, created_at
	`, string(category))
}

func (r *RuleRepo) Update(ctx context.Context, rule *policy.GlobalRule) (*policy.GlobalRule, error) {
	conditions, actions, err := encodeRuleDocs(rule)
	if err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx, `
		update global_rules
		set name = $2, description = $3, category = $4, priority = $5,
		    enabled = $6, conditions = $7, actions = $8, updated_at = now()
		where id = $1
		returning `+ruleColumns+`
	`, rule.ID, rule.Name, rule.Description, string(rule.Category), rule.Priority,
		rule.Enabled, conditions, actions)
	updated, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, policy.ErrNotFound
	}
	return updated, err
}

func (r *RuleRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `delete from global_rules where id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return policy.ErrNotFound
	}
	return nil
}

func (r *RuleRepo) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := r.db.ExecContext(ctx,
		`update global_rules set enabled = $2, updated_at = now() where id = $1`, id, enabled)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return policy.ErrNotFound
	}
	return nil
}

func (r *RuleRepo) queryRules(ctx context.Context, query string, args ...any) ([]*policy.GlobalRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*policy.GlobalRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func encodeRuleDocs(rule *policy.GlobalRule) (conditions, actions []byte, err error) {
	conditions, err = json.Marshal(rule.Conditions)
	if err != nil {
		return nil, nil, fmt.Errorf("encode conditions: %w", err)
	}
	actions, err = json.Marshal(rule.Actions)
	if err != nil {
		return nil, nil, fmt.Errorf("encode actions: %w", err)
	}
	return conditions, actions, nil
}

func scanRule(row rowScanner) (*policy.GlobalRule, error) {
	var (
		rule       policy.GlobalRule
		category   string
		conditions []byte
		actions    []byte
	)
	err := row.Scan(&rule.ID, &rule.Name, &rule.Description, &category, &rule.Priority,
		&rule.Enabled, &conditions, &actions, &rule.CreatedBy, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rule.Category = policy.Category(category)
	if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
		return nil, fmt.Errorf("decode conditions: %w", err)
	}
	if err := json.Unmarshal(actions, &rule.Actions); err != nil {
		return nil, fmt.Errorf("decode actions: %w", err)
	}
	return &rule, nil
}
