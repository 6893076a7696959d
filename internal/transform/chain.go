package transform

import (
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/table"
)

// Chain applies its steps in order. Each step reads the table produced by
// the previous ones, so a step may consume an earlier step's output.
type Chain struct {
	Steps []Step `json:"steps"`
}

// NewChain validates the step kinds.
func NewChain(steps ...Step) (*Chain, error) {
	for _, s := range steps {
		if _, err := ParseKind(string(s.Kind)); err != nil {
			return nil, err
		}
		if s.In == "" || s.Out == "" {
			return nil, domain.Validationf("transformer step needs input and output columns")
		}
	}
	return &Chain{Steps: steps}, nil
}

// TimestampChain encodes the transaction timestamp as day of week and
// time of day.
func TimestampChain() *Chain {
	return &Chain{Steps: []Step{
		{In: domain.ColDatetime, Out: "tx_day_linear", Kind: DayLinear},
		{In: domain.ColDatetime, Out: "tx_time_cos", Kind: TimeCos},
		{In: domain.ColDatetime, Out: "tx_time_sin", Kind: TimeSin},
	}}
}

// ForColumns applies kind in place to each named column.
func ForColumns(kind Kind, columns []string) (*Chain, error) {
	steps := make([]Step, len(columns))
	for i, c := range columns {
		steps[i] = Step{In: c, Out: c, Kind: kind}
	}
	return NewChain(steps...)
}

// Append returns a chain running c then other.
func (c *Chain) Append(other *Chain) *Chain {
	steps := append(append([]Step{}, c.Steps...), other.Steps...)
	return &Chain{Steps: steps}
}

// OutputColumns lists the columns the chain writes, first write first.
func (c *Chain) OutputColumns() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range c.Steps {
		if !seen[s.Out] {
			seen[s.Out] = true
			out = append(out, s.Out)
		}
	}
	return out
}

// Fit fits every step on the table.
func (c *Chain) Fit(t *table.Table) error {
	_, err := c.run(t, true)
	return err
}

// Transform applies the fitted steps.
func (c *Chain) Transform(t *table.Table) (*table.Table, error) {
	return c.run(t, false)
}

// FitTransform fits on t and returns t transformed.
func (c *Chain) FitTransform(t *table.Table) (*table.Table, error) {
	return c.run(t, true)
}

func (c *Chain) run(t *table.Table, fit bool) (*table.Table, error) {
	out := t
	for i := range c.Steps {
		s := &c.Steps[i]
		if fit {
			if err := s.fit(out); err != nil {
				return nil, err
			}
		}
		values, err := s.apply(out)
		if err != nil {
			return nil, fmt.Errorf("transform %s -> %s: %w", s.In, s.Out, err)
		}
		if out, err = out.WithFloats(s.Out, values); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Clone returns a deep copy, so a fitted chain can be refitted safely.
func (c *Chain) Clone() *Chain {
	steps := make([]Step, len(c.Steps))
	for i, s := range c.Steps {
		steps[i] = s
		if s.State != nil {
			st := *s.State
			steps[i].State = &st
		}
	}
	return &Chain{Steps: steps}
}

// UnmarshalJSON validates the decoded steps.
func (c *Chain) UnmarshalJSON(data []byte) error {
	var raw struct {
		Steps []Step `json:"steps"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	chain, err := NewChain(raw.Steps...)
	if err != nil {
		return err
	}
	*c = *chain
	return nil
}
