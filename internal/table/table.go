// Package table provides an immutable columnar table used as the unit of
// exchange between the data sources, feature engineering and the models.
package table

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Kind is the element type of a column.
type Kind int

const (
	Float Kind = iota
	String
	Time
)

func (k Kind) String() string {
	switch k {
	case Float:
		return "float"
	case String:
		return "string"
	case Time:
		return "time"
	}
	return "unknown"
}

// column is never mutated after construction.
type column struct {
	name    string
	kind    Kind
	floats  []float64
	strings []string
	times   []time.Time
}

func (c *column) take(rows []int) *column {
	out := &column{name: c.name, kind: c.kind}
	switch c.kind {
	case Float:
		out.floats = make([]float64, len(rows))
		for i, r := range rows {
			out.floats[i] = c.floats[r]
		}
	case String:
		out.strings = make([]string, len(rows))
		for i, r := range rows {
			out.strings[i] = c.strings[r]
		}
	case Time:
		out.times = make([]time.Time, len(rows))
		for i, r := range rows {
			out.times[i] = c.times[r]
		}
	}
	return out
}

// Table is an immutable set of equally sized named columns plus a row index.
// Every method that changes shape or content returns a new Table.
type Table struct {
	index []int64
	cols  []*column
	pos   map[string]int
}

// New returns an empty table with n rows and a dense index 0..n-1.
func New(n int) *Table {
	index := make([]int64, n)
	for i := range index {
		index[i] = int64(i)
	}
	return &Table{index: index, pos: map[string]int{}}
}

// WithIndex returns an empty table using the given row index.
func WithIndex(index []int64) *Table {
	return &Table{index: slices.Clone(index), pos: map[string]int{}}
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.index) }

// Index returns a copy of the row index.
func (t *Table) Index() []int64 { return slices.Clone(t.index) }

// Columns returns the column names in insertion order.
func (t *Table) Columns() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.name
	}
	return names
}

// Has reports whether a column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.pos[name]
	return ok
}

// Kind returns the kind of a column.
func (t *Table) Kind(name string) (Kind, error) {
	c, err := t.col(name)
	if err != nil {
		return 0, err
	}
	return c.kind, nil
}

func (t *Table) col(name string) (*column, error) {
	i, ok := t.pos[name]
	if !ok {
		return nil, domain.Validationf("column %q not found", name)
	}
	return t.cols[i], nil
}

func (t *Table) clone() *Table {
	pos := make(map[string]int, len(t.pos))
	for k, v := range t.pos {
		pos[k] = v
	}
	return &Table{index: t.index, cols: slices.Clone(t.cols), pos: pos}
}

func (t *Table) with(c *column, n int) (*Table, error) {
	if n != len(t.index) {
		return nil, domain.Validationf("column %q has %d rows, table has %d", c.name, n, len(t.index))
	}
	out := t.clone()
	if i, ok := out.pos[c.name]; ok {
		out.cols[i] = c
		return out, nil
	}
	out.pos[c.name] = len(out.cols)
	out.cols = append(out.cols, c)
	return out, nil
}

// WithFloats returns a new table with the column added or replaced.
func (t *Table) WithFloats(name string, values []float64) (*Table, error) {
	return t.with(&column{name: name, kind: Float, floats: slices.Clone(values)}, len(values))
}

// WithStrings returns a new table with the column added or replaced.
func (t *Table) WithStrings(name string, values []string) (*Table, error) {
	return t.with(&column{name: name, kind: String, strings: slices.Clone(values)}, len(values))
}

// WithTimes returns a new table with the column added or replaced.
func (t *Table) WithTimes(name string, values []time.Time) (*Table, error) {
	return t.with(&column{name: name, kind: Time, times: slices.Clone(values)}, len(values))
}

// Floats returns a copy of a float column.
func (t *Table) Floats(name string) ([]float64, error) {
	c, err := t.col(name)
	if err != nil {
		return nil, err
	}
	if c.kind != Float {
		return nil, domain.Validationf("column %q is %s, want float", name, c.kind)
	}
	return slices.Clone(c.floats), nil
}

// Strings returns a copy of a string column.
func (t *Table) Strings(name string) ([]string, error) {
	c, err := t.col(name)
	if err != nil {
		return nil, err
	}
	if c.kind != String {
		return nil, domain.Validationf("column %q is %s, want string", name, c.kind)
	}
	return slices.Clone(c.strings), nil
}

// Times returns a copy of a time column.
func (t *Table) Times(name string) ([]time.Time, error) {
	c, err := t.col(name)
	if err != nil {
		return nil, err
	}
	if c.kind != Time {
		return nil, domain.Validationf("column %q is %s, want time", name, c.kind)
	}
	return slices.Clone(c.times), nil
}

// Keys returns a string view of any column, suitable for grouping.
// Integral floats are rendered without a fractional part.
func (t *Table) Keys(name string) ([]string, error) {
	c, err := t.col(name)
	if err != nil {
		return nil, err
	}
	keys := make([]string, t.Len())
	switch c.kind {
	case Float:
		for i, v := range c.floats {
			keys[i] = FormatKey(v)
		}
	case String:
		copy(keys, c.strings)
	case Time:
		for i, v := range c.times {
			keys[i] = v.UTC().Format(time.RFC3339Nano)
		}
	}
	return keys, nil
}

// FormatKey renders a numeric identifier as a grouping key.
func FormatKey(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// CompareKeys orders keys numerically when both parse as numbers.
func CompareKeys(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Take returns the rows at the given positions, keeping their index values.
func (t *Table) Take(rows []int) *Table {
	out := &Table{index: make([]int64, len(rows)), cols: make([]*column, len(t.cols)), pos: t.clone().pos}
	for i, r := range rows {
		out.index[i] = t.index[r]
	}
	for i, c := range t.cols {
		out.cols[i] = c.take(rows)
	}
	return out
}

// Filter returns the rows for which keep returns true.
func (t *Table) Filter(keep func(row int) bool) *Table {
	rows := make([]int, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		if keep(i) {
			rows = append(rows, i)
		}
	}
	return t.Take(rows)
}

// Select returns a table holding only the named columns, in that order.
func (t *Table) Select(names ...string) (*Table, error) {
	out := &Table{index: t.index, cols: make([]*column, 0, len(names)), pos: make(map[string]int, len(names))}
	for _, name := range names {
		c, err := t.col(name)
		if err != nil {
			return nil, err
		}
		if _, dup := out.pos[name]; dup {
			continue
		}
		out.pos[name] = len(out.cols)
		out.cols = append(out.cols, c)
	}
	return out, nil
}

// Drop returns a table without the named columns. Missing names are ignored.
func (t *Table) Drop(names ...string) *Table {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	out := &Table{index: t.index, pos: map[string]int{}}
	for _, c := range t.cols {
		if drop[c.name] {
			continue
		}
		out.pos[c.name] = len(out.cols)
		out.cols = append(out.cols, c)
	}
	return out
}

// Reindex returns the same rows with a dense index 0..n-1.
func (t *Table) Reindex() *Table {
	out := t.clone()
	out.index = New(t.Len()).index
	return out
}

// Head returns the first n rows.
func (t *Table) Head(n int) *Table {
	if n > t.Len() {
		n = t.Len()
	}
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return t.Take(rows)
}

// Matrix returns the named float columns as a row-major matrix.
func (t *Table) Matrix(names ...string) ([][]float64, error) {
	cols := make([]*column, len(names))
	for j, name := range names {
		c, err := t.col(name)
		if err != nil {
			return nil, err
		}
		if c.kind != Float {
			return nil, domain.Validationf("column %q is %s, want float", name, c.kind)
		}
		cols[j] = c
	}
	rows := make([][]float64, t.Len())
	for i := range rows {
		row := make([]float64, len(cols))
		for j, c := range cols {
			row[j] = c.floats[i]
		}
		rows[i] = row
	}
	return rows, nil
}

// String renders a short description for logs.
func (t *Table) String() string {
	return fmt.Sprintf("table(%d rows, %d columns)", t.Len(), len(t.cols))
}
