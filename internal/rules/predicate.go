package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Predicate is a compiled CEL condition over a single simulated event.
// Variables: amount (double), customer_id (int), terminal_id (int),
// day (int, days since simulation start) and hour (int, 0-23).
type Predicate struct {
	expression string
	program    cel.Program
}

// CompilePredicate compiles an event predicate.
func CompilePredicate(expression string) (*Predicate, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("customer_id", cel.IntType),
		cel.Variable("terminal_id", cel.IntType),
		cel.Variable("day", cel.IntType),
		cel.Variable("hour", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	program, err := compile(env, "predicate", expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	return &Predicate{expression: expression, program: program}, nil
}

// Match evaluates the predicate against an event.
func (p *Predicate) Match(ev domain.Event) (bool, error) {
	out, _, err := p.program.Eval(map[string]any{
		"amount":      ev.Amount,
		"customer_id": ev.CustomerID,
		"terminal_id": ev.TerminalID,
		"day":         int64(ev.TimeDays),
		"hour":        int64(ev.TimeSeconds % 86400 / 3600),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", p.expression, err)
	}
	return truthy(out), nil
}

// String returns the source expression.
func (p *Predicate) String() string { return p.expression }
