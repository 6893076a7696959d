package features

import (
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/table"
)

// IsWeekend returns 1 for Saturday and Sunday timestamps, else 0.
func IsWeekend(times []time.Time) []float64 {
	out := make([]float64, len(times))
	for i, ts := range times {
		switch ts.UTC().Weekday() {
		case time.Saturday, time.Sunday:
			out[i] = 1
		}
	}
	return out
}

// IsNight returns 1 for timestamps at or before 06:xx or from 20:00 on.
func IsNight(times []time.Time) []float64 {
	out := make([]float64, len(times))
	for i, ts := range times {
		h := ts.UTC().Hour()
		if h <= 6 || h >= 20 {
			out[i] = 1
		}
	}
	return out
}

// WithCalendarFlags adds is_weekday and is_night columns derived from timeKey.
// is_weekday keeps its historical name but flags weekend days.
func WithCalendarFlags(t *table.Table, timeKey string) (*table.Table, error) {
	times, err := t.Times(timeKey)
	if err != nil {
		return nil, err
	}
	out, err := t.WithFloats("is_weekday", IsWeekend(times))
	if err != nil {
		return nil, err
	}
	return out.WithFloats("is_night", IsNight(times))
}

// Delta adds "{feature}_delta": per group in time order, the ratio of each
// value to the previous one. The first value of a group and divisions by
// zero are filled with 1.
func Delta(t *table.Table, groupKey, timeKey, feature string) (*table.Table, error) {
	keys, times, values, err := groupInputs(t, groupKey, timeKey, feature)
	if err != nil {
		return nil, err
	}
	out := make([]float64, t.Len())
	for _, rows := range Partition(keys) {
		sorted := SortByTime(rows, times)
		for k, row := range sorted {
			out[row] = 1
			if k == 0 {
				continue
			}
			prev := values[sorted[k-1]]
			if prev == 0 || math.IsNaN(prev) || math.IsNaN(values[row]) {
				continue
			}
			out[row] = values[row] / prev
		}
	}
	return t.WithFloats(feature+"_delta", out)
}

// TimeSinceLast adds "time_since_last_tx": seconds since the previous event
// of the same group, 0 for a group's first event.
func TimeSinceLast(t *table.Table, groupKey, timeKey string) (*table.Table, error) {
	keys, err := t.Keys(groupKey)
	if err != nil {
		return nil, err
	}
	times, err := t.Times(timeKey)
	if err != nil {
		return nil, err
	}
	out := make([]float64, t.Len())
	for _, rows := range Partition(keys) {
		sorted := SortByTime(rows, times)
		for k := 1; k < len(sorted); k++ {
			out[sorted[k]] = times[sorted[k]].Sub(times[sorted[k-1]]).Seconds()
		}
	}
	return t.WithFloats("time_since_last_tx", out)
}

// Ratio adds out = num / den, with 0 wherever the ratio is undefined.
func Ratio(t *table.Table, num, den, out string) (*table.Table, error) {
	n, err := t.Floats(num)
	if err != nil {
		return nil, err
	}
	d, err := t.Floats(den)
	if err != nil {
		return nil, err
	}
	ratio := make([]float64, len(n))
	for i := range n {
		r := n[i] / d[i]
		if math.IsNaN(r) || math.IsInf(r, 0) {
			r = 0
		}
		ratio[i] = r
	}
	return t.WithFloats(out, ratio)
}

// FillNaN replaces NaN in every float column with value.
func FillNaN(t *table.Table, value float64) (*table.Table, error) {
	out := t
	for _, name := range t.Columns() {
		kind, _ := t.Kind(name)
		if kind != table.Float {
			continue
		}
		vs, _ := t.Floats(name)
		changed := false
		for i, v := range vs {
			if math.IsNaN(v) {
				vs[i] = value
				changed = true
			}
		}
		if !changed {
			continue
		}
		var err error
		if out, err = out.WithFloats(name, vs); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func groupInputs(t *table.Table, groupKey, timeKey, feature string) ([]string, []time.Time, []float64, error) {
	if t.Len() == 0 {
		return nil, nil, nil, domain.Validationf("empty table")
	}
	keys, err := t.Keys(groupKey)
	if err != nil {
		return nil, nil, nil, err
	}
	times, err := t.Times(timeKey)
	if err != nil {
		return nil, nil, nil, err
	}
	values, err := t.Floats(feature)
	if err != nil {
		return nil, nil, nil, err
	}
	return keys, times, values, nil
}
