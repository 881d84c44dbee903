// Package policy evaluates declarative admission rules against proposed
// resource operations. Rules are admin-edited data, so operators and action
// types stay runtime allow-lists rather than compile-time enums.
package policy

import (
	"regexp"
	"strings"
	"time"
)

// Category scopes a rule to one resource kind.
type Category string

const (
	CategoryCompute  Category = "compute"
	CategoryStorage  Category = "storage"
	CategoryNetwork  Category = "network"
	CategorySecurity Category = "security"
)

// Categories is the closed set of valid rule categories.
var Categories = []Category{CategoryCompute, CategoryStorage, CategoryNetwork, CategorySecurity}

// Operators lists the supported condition operators.
var Operators = []string{"eq", "neq", "gt", "gte", "lt", "lte", "in", "nin", "contains", "regex"}

// ActionTypes lists the supported action types.
var ActionTypes = []string{"deny", "warn", "modify", "require", "log"}

// Condition guards a rule: the context value at Field must satisfy Operator
// against Value.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// Action describes what happens when a rule matches.
type Action struct {
	Type    string `json:"type"`
	Field   string `json:"field,omitempty"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message,omitempty"`
}

// GlobalRule is a platform-wide admission policy. Lower priority numbers
// evaluate first.
type GlobalRule struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Category    Category    `json:"category"`
	Priority    int         `json:"priority"`
	Enabled     bool        `json:"enabled"`
	Conditions  []Condition `json:"conditions"`
	Actions     []Action    `json:"actions"`
	CreatedBy   string      `json:"created_by,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Evaluate reports whether every condition holds against the context and, if
// so, returns the rule's first action. Conditions are AND-ed; a rule wanting
// OR semantics must be split into multiple rules.
func (r *GlobalRule) Evaluate(ruleCtx map[string]any) (bool, *Action) {
	if !r.Enabled {
		return false, nil
	}
	for _, cond := range r.Conditions {
		if !evaluateCondition(cond, ruleCtx) {
			return false, nil
		}
	}
	if len(r.Actions) > 0 {
		return true, &r.Actions[0]
	}
	return true, nil
}

// evaluateCondition checks one condition. A field absent from the context
// never matches.
func evaluateCondition(cond Condition, ruleCtx map[string]any) bool {
	val, ok := ruleCtx[cond.Field]
	if !ok {
		return false
	}
	switch cond.Operator {
	case "eq":
		return equal(val, cond.Value)
	case "neq":
		return !equal(val, cond.Value)
	case "gt":
		return compareNumeric(val, cond.Value) > 0
	case "gte":
		return compareNumeric(val, cond.Value) >= 0
	case "lt":
		return compareNumeric(val, cond.Value) < 0
	case "lte":
		return compareNumeric(val, cond.Value) <= 0
	case "in":
		return inList(val, cond.Value)
	case "nin":
		return !inList(val, cond.Value)
	case "contains":
		return strings.Contains(toString(val), toString(cond.Value))
	case "regex":
		re, err := regexp.Compile(toString(cond.Value))
		if err != nil {
			return false
		}
		return re.MatchString(toString(val))
	default:
		// Unknown operators are rejected at write time; an unrecognized one
		// reaching evaluation means stale data and never matches.
		return false
	}
}

func equal(a, b any) bool {
	if na, aNum := toFloat64(a); aNum {
		if nb, bNum := toFloat64(b); bNum {
			return na == nb
		}
	}
	return a == b
}

func inList(val, list any) bool {
	switch items := list.(type) {
	case []any:
		for _, item := range items {
			if equal(val, item) {
				return true
			}
		}
	case []string:
		for _, item := range items {
			if toString(val) == item {
				return true
			}
		}
	}
	return false
}

func compareNumeric(a, b any) int {
	af, _ := toFloat64(a)
	bf, _ := toFloat64(b)
	switch {
	case af > bf:
		return 1
	case af < bf:
		return -1
	default:
		return 0
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
