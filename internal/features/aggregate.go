// Package features implements point-in-time feature engineering over the
// transaction table: delay-aware rolling aggregates and per-entity encodings.
package features

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/table"
)

// AggFunc is a rolling aggregation function.
type AggFunc string

const (
	Sum   AggFunc = "sum"
	Count AggFunc = "count"
	Mean  AggFunc = "mean"
)

// ParseAggFunc maps a name onto the closed set of aggregation functions.
func ParseAggFunc(name string) (AggFunc, error) {
	switch AggFunc(name) {
	case Sum, Count, Mean:
		return AggFunc(name), nil
	}
	return "", &domain.UnknownAggFuncError{Name: name}
}

// TimeUnit is the unit of window sizes and delays.
type TimeUnit string

// Days is the only supported unit.
const Days TimeUnit = "days"

func (u TimeUnit) duration() (time.Duration, error) {
	switch u {
	case Days, "":
		return 24 * time.Hour, nil
	}
	return 0, domain.Configurationf("unsupported time unit %q", string(u))
}

// Spec describes one rolling aggregation.
type Spec struct {
	GroupKey string
	TimeKey  string
	Feature  string
	Windows  []int
	Funcs    []AggFunc
	Delay    int
	Unit     TimeUnit
}

// ColumnName returns the output column for a function and window.
func (s Spec) ColumnName(fn AggFunc, window int) string {
	unit := s.Unit
	if unit == "" {
		unit = Days
	}
	return fmt.Sprintf("%s_%s_%s_%d_%s", s.GroupKey, fn, s.Feature, window, unit)
}

// Validate checks windows, functions and delay.
func (s Spec) Validate() error {
	if len(s.Windows) == 0 {
		return domain.InvalidParameterf("at least one window size is required")
	}
	for _, w := range s.Windows {
		if w <= 0 {
			return &domain.InvalidWindowError{Window: w}
		}
	}
	if len(s.Funcs) == 0 {
		return domain.InvalidParameterf("at least one aggregation function is required")
	}
	for _, fn := range s.Funcs {
		if _, err := ParseAggFunc(string(fn)); err != nil {
			return err
		}
	}
	if s.Delay < 0 {
		return domain.InvalidParameterf("delay must be non-negative, got %d", s.Delay)
	}
	if _, err := s.Unit.duration(); err != nil {
		return err
	}
	return nil
}

// Aggregate computes, for every row and every (window, function) pair, the
// aggregate of Feature over earlier rows of the same group whose time falls
// in (t-W, t]. With a delay D the value is the aggregate over (t-(W+D), t]
// minus the aggregate over (t-D, t], applied uniformly to all functions
// including mean. Output rows keep the input order and index.
func Aggregate(ctx context.Context, t *table.Table, spec Spec) (*table.Table, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if t.Len() == 0 {
		return nil, domain.Validationf("cannot aggregate an empty table")
	}

	keys, err := t.Keys(spec.GroupKey)
	if err != nil {
		return nil, err
	}
	times, err := t.Times(spec.TimeKey)
	if err != nil {
		return nil, err
	}
	values, err := t.Floats(spec.Feature)
	if err != nil {
		return nil, err
	}
	unit, _ := spec.Unit.duration()

	parts := Partition(keys)
	results := make([]partitionResult, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, rows := range parts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = aggregatePartition(rows, times, values, spec, unit)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Single-threaded merge back into input row order.
	ncols := len(spec.Windows) * len(spec.Funcs)
	out := make([][]float64, ncols)
	for c := range out {
		out[c] = make([]float64, t.Len())
	}
	for _, res := range results {
		for k, row := range res.rows {
			for c := 0; c < ncols; c++ {
				out[c][row] = res.values[c][k]
			}
		}
	}

	result := t
	c := 0
	for _, w := range spec.Windows {
		for _, fn := range spec.Funcs {
			result, err = result.WithFloats(spec.ColumnName(fn, w), out[c])
			if err != nil {
				return nil, err
			}
			c++
		}
	}
	return result, nil
}

type partitionResult struct {
	rows   []int
	values [][]float64 // [window*func][position in rows]
}

type windowStats struct {
	sum   float64
	count float64
}

func (w windowStats) get(fn AggFunc) float64 {
	switch fn {
	case Sum:
		return w.sum
	case Count:
		return w.count
	case Mean:
		if w.count == 0 {
			return math.NaN()
		}
		return w.sum / w.count
	}
	return math.NaN()
}

func aggregatePartition(rows []int, times []time.Time, values []float64, spec Spec, unit time.Duration) partitionResult {
	sorted := SortByTime(rows, times)
	res := partitionResult{rows: sorted, values: make([][]float64, len(spec.Windows)*len(spec.Funcs))}
	for c := range res.values {
		res.values[c] = make([]float64, len(sorted))
	}

	delay := time.Duration(spec.Delay) * unit
	c := 0
	for _, w := range spec.Windows {
		total := rolling(sorted, times, values, time.Duration(w)*unit+delay)
		var recent []windowStats
		if spec.Delay > 0 {
			recent = rolling(sorted, times, values, delay)
		}
		for _, fn := range spec.Funcs {
			for k := range sorted {
				v := total[k].get(fn)
				if recent != nil {
					v -= recent[k].get(fn)
				}
				res.values[c][k] = v
			}
			c++
		}
	}
	return res
}

// rolling returns, for each position k of the time-sorted rows, the sum and
// non-NaN count over positions j <= k with time in (t_k - span, t_k].
// A window holding only NaN values has sum 0 and count 0, where a pandas
// rolling sum is NaN; callers fill empty windows with 0 either way.
func rolling(sorted []int, times []time.Time, values []float64, span time.Duration) []windowStats {
	out := make([]windowStats, len(sorted))
	var s windowStats
	left := 0
	for k, row := range sorted {
		if v := values[row]; !math.IsNaN(v) {
			s.sum += v
			s.count++
		}
		lower := times[row].Add(-span)
		for left < k && !times[sorted[left]].After(lower) {
			if v := values[sorted[left]]; !math.IsNaN(v) {
				s.sum -= v
				s.count--
			}
			left++
		}
		// Drop accumulated rounding once the window is empty.
		if s.count == 0 {
			s.sum = 0
		}
		out[k] = s
	}
	return out
}

// Partition groups row positions by key, in order of first appearance.
func Partition(keys []string) [][]int {
	index := make(map[string]int)
	var parts [][]int
	for row, k := range keys {
		i, ok := index[k]
		if !ok {
			i = len(parts)
			index[k] = i
			parts = append(parts, nil)
		}
		parts[i] = append(parts[i], row)
	}
	return parts
}

// SortByTime returns the rows ordered by time, ties kept in row order.
func SortByTime(rows []int, times []time.Time) []int {
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, func(a, b int) int {
		return times[a].Compare(times[b])
	})
	return sorted
}
