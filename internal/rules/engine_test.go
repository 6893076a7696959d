package rules

import (
	"context"
	"fmt"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := domain.BlockRule{
		ID:         "large-amount",
		Name:       "Large Amount",
		Expression: "tx_amount > 1000.0",
		Enabled:    true,
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	tests := []struct {
		name string
		rule domain.BlockRule
	}{
		{"Syntax", domain.BlockRule{ID: "bad", Expression: "this is not valid CEL !!!"}},
		{"StringResult", domain.BlockRule{ID: "str", Expression: "'block'"}},
		{"UnknownVariable", domain.BlockRule{ID: "unk", Expression: "debtor_id == 'x'"}},
		{"MissingID", domain.BlockRule{Expression: "score > 0.5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := engine.ValidateRule(tt.rule); err == nil {
				t.Error("expected validation error")
			}
		})
	}
	if engine.RulesCount() != 0 {
		t.Errorf("validation must not load rules, got %d", engine.RulesCount())
	}
}

func TestEvaluateBlockRules(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	err := engine.LoadRules([]domain.BlockRule{
		{ID: "a-confident", Expression: "score > 0.9", Enabled: true},
		{ID: "b-large", Expression: "prediction == 1 && tx_amount > 500.0", Enabled: true},
		{ID: "c-disabled", Expression: "true", Enabled: false},
		{ID: "d-night", Expression: "tx['is_night'] == 1.0 ? 1 : 0", Enabled: true},
	})
	if err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}
	if engine.RulesCount() != 3 {
		t.Fatalf("expected 3 rules, got %d", engine.RulesCount())
	}

	ctx := context.Background()
	results := engine.EvaluateAll(ctx, Input{Score: 0.2, Prediction: 0, Amount: 900, Features: map[string]float64{"is_night": 0}})
	if Matched(results) {
		t.Errorf("expected no match, got %+v", results)
	}

	results = engine.EvaluateAll(ctx, Input{Score: 0.6, Prediction: 1, Amount: 900, Features: map[string]float64{"is_night": 1}})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	want := map[string]bool{"a-confident": false, "b-large": true, "d-night": true}
	for _, r := range results {
		if r.Error != "" {
			t.Errorf("rule %s: unexpected error %s", r.RuleID, r.Error)
		}
		if r.Matched != want[r.RuleID] {
			t.Errorf("rule %s: expected matched=%v, got %v", r.RuleID, want[r.RuleID], r.Matched)
		}
	}
	if results[0].RuleID != "a-confident" {
		t.Errorf("expected results ordered by id, got %s first", results[0].RuleID)
	}
}

func TestEvaluateMissingFeature(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(domain.BlockRule{ID: "needs-feature", Expression: "tx['absent'] > 1.0", Enabled: true})

	results := engine.EvaluateAll(context.Background(), Input{Features: map[string]float64{}})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Matched {
		t.Error("a failed evaluation must not match")
	}
	if results[0].Error == "" {
		t.Error("expected an evaluation error")
	}
}

func TestParallelExecution(t *testing.T) {
	engine, _ := NewEngine(3)
	defer engine.Close()

	for i := 0; i < 10; i++ {
		engine.LoadRule(domain.BlockRule{
			ID:         fmt.Sprintf("rule-%02d", i),
			Expression: "tx_amount > 0.0",
			Enabled:    true,
		})
	}

	results := engine.EvaluateAll(context.Background(), Input{Amount: 100})
	if len(results) != 10 {
		t.Fatalf("expected 10 results, got %d", len(results))
	}
	for i, r := range results {
		if !r.Matched {
			t.Errorf("rule %d: expected match", i)
		}
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(domain.BlockRule{ID: "old", Expression: "true", Enabled: true})

	err := engine.ReloadRules([]domain.BlockRule{
		{ID: "new-1", Expression: "score > 0.5", Enabled: true},
		{ID: "new-2", Expression: "score > 0.7", Enabled: true},
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	loaded := engine.GetLoadedRules()
	if len(loaded) != 2 || loaded[0].ID != "new-1" || loaded[1].ID != "new-2" {
		t.Errorf("unexpected rules after reload: %+v", loaded)
	}

	// A bad rule leaves the current set untouched
	if err := engine.ReloadRules([]domain.BlockRule{{ID: "bad", Expression: "((", Enabled: true}}); err == nil {
		t.Fatal("expected reload error")
	}
	if engine.RulesCount() != 2 {
		t.Errorf("expected 2 rules to survive a failed reload, got %d", engine.RulesCount())
	}
}

func TestPredicate(t *testing.T) {
	p, err := CompilePredicate(BaselineExpression)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	tests := []struct {
		amount float64
		want   bool
	}{
		{100, false},
		{220, false},
		{220.01, true},
	}
	for _, tt := range tests {
		got, err := p.Match(domain.Event{Amount: tt.amount})
		if err != nil {
			t.Fatalf("match failed: %v", err)
		}
		if got != tt.want {
			t.Errorf("amount %.2f: expected %v, got %v", tt.amount, tt.want, got)
		}
	}

	night, err := CompilePredicate("hour < 6 && amount > 50.0")
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	ok, _ := night.Match(domain.Event{Amount: 60, TimeSeconds: 86400 + 3*3600})
	if !ok {
		t.Error("expected a 03:00 event to match")
	}

	if _, err := CompilePredicate("amount +"); err == nil {
		t.Error("expected compile error")
	}
}
