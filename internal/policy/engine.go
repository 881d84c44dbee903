package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"orbistack.org/internal/obs"
)

var (
	ErrNotFound    = errors.New("policy: not found")
	ErrInvalidRule = errors.New("policy: invalid rule")
)

const (
	minPriority     = 1
	maxPriority     = 1000
	defaultPriority = 100
)

// Filter narrows rule listings.
type Filter struct {
	Category Category
	Enabled  *bool
}

// Repository describes persistence operations required by the engine.
type Repository interface {
	Create(ctx context.Context, rule *GlobalRule) (*GlobalRule, error)
	Get(ctx context.Context, id string) (*GlobalRule, error)
	List(ctx context.Context, filter Filter) ([]*GlobalRule, error)
	ListEnabled(ctx context.Context) ([]*GlobalRule, error)
	ListByCategory(ctx context.Context, category Category) ([]*GlobalRule, error)
	Update(ctx context.Context, rule *GlobalRule) (*GlobalRule, error)
	Delete(ctx context.Context, id string) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
}

// EvaluationResult is produced per matched rule per evaluation pass.
type EvaluationResult struct {
	RuleID   string  `json:"rule_id"`
	RuleName string  `json:"rule_name"`
	Category string  `json:"category"`
	Matched  bool    `json:"matched"`
	Action   *Action `json:"action,omitempty"`
	Blocked  bool    `json:"blocked"`
	Message  string  `json:"message,omitempty"`
}

// Engine evaluates admission rules in ascending-priority, stable order. The
// ordering is an invariant: rules with equal priority keep their stored
// relative order, so admission decisions stay deterministic and explainable.
type Engine struct {
	repo Repository
}

// NewEngine constructs the policy engine.
func NewEngine(repo Repository) (*Engine, error) {
	if repo == nil {
		return nil, errors.New("policy: repository is required")
	}
	return &Engine{repo: repo}, nil
}

// Create validates and persists a new rule. Rules are enabled on creation
// and default to priority 100 when none is given.
func (e *Engine) Create(ctx context.Context, rule *GlobalRule) (*GlobalRule, error) {
	if rule.Priority == 0 {
		rule.Priority = defaultPriority
	}
	if err := validateRule(rule); err != nil {
		return nil, err
	}
	rule.Enabled = true
	created, err := e.repo.Create(ctx, rule)
	if err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}
	obs.Info("rule created", map[string]any{"rule_id": created.ID, "name": created.Name, "category": string(created.Category)})
	return created, nil
}

// Get retrieves a rule by ID.
func (e *Engine) Get(ctx context.Context, id string) (*GlobalRule, error) {
	return e.repo.Get(ctx, id)
}

// List returns rules matching the filter.
func (e *Engine) List(ctx context.Context, filter Filter) ([]*GlobalRule, error) {
	return e.repo.List(ctx, filter)
}

// ListAll returns every rule.
func (e *Engine) ListAll(ctx context.Context) ([]*GlobalRule, error) {
	return e.repo.List(ctx, Filter{})
}

// ListByCategory returns all rules in one category.
func (e *Engine) ListByCategory(ctx context.Context, category Category) ([]*GlobalRule, error) {
	return e.repo.ListByCategory(ctx, category)
}

// Update validates and persists rule changes.
func (e *Engine) Update(ctx context.Context, rule *GlobalRule) (*GlobalRule, error) {
	if err := validateRule(rule); err != nil {
		return nil, err
	}
	updated, err := e.repo.Update(ctx, rule)
	if err != nil {
		return nil, fmt.Errorf("update rule: %w", err)
	}
	obs.Info("rule updated", map[string]any{"rule_id": rule.ID})
	return updated, nil
}

// Delete removes a rule.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := e.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	obs.Info("rule deleted", map[string]any{"rule_id": id})
	return nil
}

// Enable turns a rule on.
func (e *Engine) Enable(ctx context.Context, id string) error {
	return e.repo.SetEnabled(ctx, id, true)
}

// Disable turns a rule off.
func (e *Engine) Disable(ctx context.Context, id string) error {
	return e.repo.SetEnabled(ctx, id, false)
}

// EvaluateAll evaluates every enabled rule against the context and returns
// one result per matched rule, in ascending-priority stable order.
func (e *Engine) EvaluateAll(ctx context.Context, ruleCtx map[string]any) ([]*EvaluationResult, error) {
	start := time.Now()
	rules, err := e.repo.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}
	results := evaluateOrdered(rules, ruleCtx)
	obs.ObserveEvaluation("all", start)
	return results, nil
}

// EvaluateCategory evaluates only the rules of one category, so irrelevant
// rules are never loaded.
func (e *Engine) EvaluateCategory(ctx context.Context, category Category, ruleCtx map[string]any) ([]*EvaluationResult, error) {
	start := time.Now()
	rules, err := e.repo.ListByCategory(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("list %s rules: %w", category, err)
	}
	results := evaluateOrdered(rules, ruleCtx)
	obs.ObserveEvaluation(string(category), start)
	return results, nil
}

// CheckBlocked reports whether any matched rule denies the operation. Results
// arrive priority-ordered, so the first deny is the lowest-priority-number
// deny and wins.
func (e *Engine) CheckBlocked(ctx context.Context, category Category, ruleCtx map[string]any) (bool, string, error) {
	results, err := e.EvaluateCategory(ctx, category, ruleCtx)
	if err != nil {
		return false, "", err
	}
	for _, result := range results {
		if result.Blocked {
			return true, result.Message, nil
		}
	}
	return false, "", nil
}

// ValidateVMCreation checks a proposed VM shape against compute rules.
func (e *Engine) ValidateVMCreation(ctx context.Context, cpuCores int, memoryMiB int64) (bool, string, error) {
	return e.CheckBlocked(ctx, CategoryCompute, map[string]any{
		"vm.cpu.cores":       cpuCores,
		"vm.memory.size_mib": memoryMiB,
	})
}

// ValidateVolumeCreation checks a proposed volume size against storage rules.
func (e *Engine) ValidateVolumeCreation(ctx context.Context, sizeBytes int64) (bool, string, error) {
	return e.CheckBlocked(ctx, CategoryStorage, map[string]any{
		"volume.size_bytes": sizeBytes,
	})
}

// evaluateOrdered stable-sorts a fresh rule snapshot by ascending priority
// and returns results for matched rules only.
func evaluateOrdered(rules []*GlobalRule, ruleCtx map[string]any) []*EvaluationResult {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})
	var results []*EvaluationResult
	for _, rule := range rules {
		matched, action := rule.Evaluate(ruleCtx)
		if !matched {
			continue
		}
		result := &EvaluationResult{
			RuleID:   rule.ID,
			RuleName: rule.Name,
			Category: string(rule.Category),
			Matched:  true,
		}
		if action != nil {
			result.Action = action
			result.Message = action.Message
			result.Blocked = action.Type == "deny"
		}
		results = append(results, result)
	}
	return results
}

// validateRule enforces the write-time schema so malformed rules never reach
// evaluation.
func validateRule(rule *GlobalRule) error {
	if rule.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if !validCategory(rule.Category) {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidRule, rule.Category)
	}
	if len(rule.Conditions) == 0 {
		return fmt.Errorf("%w: at least one condition is required", ErrInvalidRule)
	}
	for i, cond := range rule.Conditions {
		if cond.Field == "" {
			return fmt.Errorf("%w: condition %d: field is required", ErrInvalidRule, i+1)
		}
		if cond.Operator == "" {
			return fmt.Errorf("%w: condition %d: operator is required", ErrInvalidRule, i+1)
		}
		if !contains(Operators, cond.Operator) {
			return fmt.Errorf("%w: condition %d: unknown operator %q", ErrInvalidRule, i+1, cond.Operator)
		}
	}
	if len(rule.Actions) == 0 {
		return fmt.Errorf("%w: at least one action is required", ErrInvalidRule)
	}
	for i, action := range rule.Actions {
		if action.Type == "" {
			return fmt.Errorf("%w: action %d: type is required", ErrInvalidRule, i+1)
		}
		if !contains(ActionTypes, action.Type) {
			return fmt.Errorf("%w: action %d: unknown type %q", ErrInvalidRule, i+1, action.Type)
		}
	}
	if rule.Priority < minPriority || rule.Priority > maxPriority {
		return fmt.Errorf("%w: priority must be between %d and %d", ErrInvalidRule, minPriority, maxPriority)
	}
	return nil
}

func validCategory(category Category) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
