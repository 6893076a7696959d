// Package schema declares the column contracts between the data sources,
// the models and the serving API.
package schema

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/table"
)

// Type is the declared type of a column.
type Type string

const (
	Float    Type = "float"
	Int      Type = "int"
	DateTime Type = "datetime"
)

// Column is a required, non-nullable column.
type Column struct {
	Name string `json:"name"`
	Type Type   `json:"type"`
}

// Schema is an ordered set of required columns.
type Schema struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Names returns the column names in declared order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Filter keeps only the declared columns, in declared order, and coerces
// them: Int columns are truncated. It fails on an empty table, a missing
// column, a column of the wrong kind or a NaN value.
func (s Schema) Filter(t *table.Table) (*table.Table, error) {
	if t.Len() == 0 {
		return nil, domain.Validationf("schema %s: no rows", s.Name)
	}
	out, err := t.Select(s.Names()...)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", s.Name, err)
	}

	for _, c := range s.Columns {
		kind, _ := out.Kind(c.Name)
		switch c.Type {
		case DateTime:
			if kind != table.Time {
				return nil, domain.Validationf("schema %s: column %s is %s, want datetime", s.Name, c.Name, kind)
			}
		case Float, Int:
			if kind != table.Float {
				return nil, domain.Validationf("schema %s: column %s is %s, want %s", s.Name, c.Name, kind, c.Type)
			}
			values, _ := out.Floats(c.Name)
			for i, v := range values {
				if math.IsNaN(v) {
					return nil, domain.Validationf("schema %s: column %s has a null at row %d", s.Name, c.Name, i)
				}
				if c.Type == Int {
					values[i] = math.Trunc(v)
				}
			}
			if c.Type == Int {
				if out, err = out.WithFloats(c.Name, values); err != nil {
					return nil, err
				}
			}
		}
	}
	return out, nil
}

// Validate checks a table against the schema without keeping the result.
func (s Schema) Validate(t *table.Table) error {
	_, err := s.Filter(t)
	return err
}
