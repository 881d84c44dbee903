package policy

import "testing"

func TestEvaluateCondition(t *testing.T) {
	ruleCtx := map[string]any{
		"vm.cpu.cores":       8,
		"vm.memory.size_mib": int64(16384),
		"vm.image":           "ubuntu-24.04",
		"vm.zone":            "zone-b",
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"eq int", Condition{Field: "vm.cpu.cores", Operator: "eq", Value: 8}, true},
		{"eq numeric cross-type", Condition{Field: "vm.cpu.cores", Operator: "eq", Value: float64(8)}, true},
		{"eq mismatch", Condition{Field: "vm.cpu.cores", Operator: "eq", Value: 4}, false},
		{"neq", Condition{Field: "vm.cpu.cores", Operator: "neq", Value: 4}, true},
		{"gt true", Condition{Field: "vm.cpu.cores", Operator: "gt", Value: 4}, true},
		{"gt false", Condition{Field: "vm.cpu.cores", Operator: "gt", Value: 8}, false},
		{"gte boundary", Condition{Field: "vm.cpu.cores", Operator: "gte", Value: 8}, true},
		{"lt int64", Condition{Field: "vm.memory.size_mib", Operator: "lt", Value: 32768}, true},
		{"lte boundary", Condition{Field: "vm.memory.size_mib", Operator: "lte", Value: int64(16384)}, true},
		{"in hit", Condition{Field: "vm.zone", Operator: "in", Value: []any{"zone-a", "zone-b"}}, true},
		{"in miss", Condition{Field: "vm.zone", Operator: "in", Value: []any{"zone-a", "zone-c"}}, false},
		{"in string slice", Condition{Field: "vm.zone", Operator: "in", Value: []string{"zone-b"}}, true},
		{"nin", Condition{Field: "vm.zone", Operator: "nin", Value: []any{"zone-a"}}, true},
		{"contains", Condition{Field: "vm.image", Operator: "contains", Value: "ubuntu"}, true},
		{"contains miss", Condition{Field: "vm.image", Operator: "contains", Value: "debian"}, false},
		{"regex", Condition{Field: "vm.image", Operator: "regex", Value: `^ubuntu-\d+\.\d+$`}, true},
		{"regex invalid pattern", Condition{Field: "vm.image", Operator: "regex", Value: "["}, false},
		{"absent field", Condition{Field: "vm.gpu.count", Operator: "eq", Value: 1}, false},
		{"unknown operator", Condition{Field: "vm.cpu.cores", Operator: "between", Value: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evaluateCondition(tt.cond, ruleCtx); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRuleEvaluateConditionsAreANDed(t *testing.T) {
	rule := &GlobalRule{
		Name:     "big-vm-deny",
		Category: CategoryCompute,
		Enabled:  true,
		Conditions: []Condition{
			{Field: "vm.cpu.cores", Operator: "gt", Value: 16},
			{Field: "vm.memory.size_mib", Operator: "gt", Value: 65536},
		},
		Actions: []Action{{Type: "deny", Message: "too big"}},
	}

	matched, action := rule.Evaluate(map[string]any{"vm.cpu.cores": 32, "vm.memory.size_mib": int64(131072)})
	if !matched {
		t.Fatal("expected match when every condition holds")
	}
	if action == nil || action.Type != "deny" || action.Message != "too big" {
		t.Fatalf("expected first action, got %+v", action)
	}

	matched, _ = rule.Evaluate(map[string]any{"vm.cpu.cores": 32, "vm.memory.size_mib": int64(1024)})
	if matched {
		t.Fatal("expected no match when one condition fails")
	}
}

func TestDisabledRuleNeverMatches(t *testing.T) {
	rule := &GlobalRule{
		Name:       "off",
		Category:   CategoryCompute,
		Enabled:    false,
		Conditions: []Condition{{Field: "vm.cpu.cores", Operator: "gte", Value: 0}},
		Actions:    []Action{{Type: "deny"}},
	}
	if matched, _ := rule.Evaluate(map[string]any{"vm.cpu.cores": 8}); matched {
		t.Fatal("disabled rule must not match")
	}
}

func TestRuleEvaluateReturnsFirstAction(t *testing.T) {
	rule := &GlobalRule{
		Name:       "multi-action",
		Category:   CategorySecurity,
		Enabled:    true,
		Conditions: []Condition{{Field: "user.role", Operator: "eq", Value: "viewer"}},
		Actions: []Action{
			{Type: "warn", Message: "first"},
			{Type: "deny", Message: "second"},
		},
	}
	matched, action := rule.Evaluate(map[string]any{"user.role": "viewer"})
	if !matched || action == nil {
		t.Fatal("expected match with action")
	}
	if action.Type != "warn" || action.Message != "first" {
		t.Fatalf("expected the first action, got %+v", action)
	}
}
