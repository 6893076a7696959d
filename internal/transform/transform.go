// Package transform holds the feature transformers applied between the
// engineered table and the algorithm: scalers fitted on training data and
// stateless calendar encodings of the transaction timestamp.
package transform

import (
	"fmt"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/table"
)

// Kind is a transformer variant.
type Kind string

const (
	Identity  Kind = "identity"
	MinMax    Kind = "min_max"
	Standard  Kind = "standard"
	TimeCos   Kind = "time_cos"
	TimeSin   Kind = "time_sin"
	DayLinear Kind = "day_linear"
	DayCos    Kind = "day_cos"
	DaySin    Kind = "day_sin"
)

// ParseKind maps a name onto the closed set of transformers.
func ParseKind(name string) (Kind, error) {
	switch k := Kind(name); k {
	case Identity, MinMax, Standard, TimeCos, TimeSin, DayLinear, DayCos, DaySin:
		return k, nil
	}
	return "", domain.Configurationf("unknown transformer %q", name)
}

func (k Kind) temporal() bool {
	switch k {
	case TimeCos, TimeSin, DayLinear, DayCos, DaySin:
		return true
	}
	return false
}

// State holds fitted statistics. Only the scalers use it.
type State struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Step transforms one input column into one output column.
type Step struct {
	In    string `json:"in"`
	Out   string `json:"out"`
	Kind  Kind   `json:"kind"`
	State *State `json:"state,omitempty"`
}

func (s *Step) fit(t *table.Table) error {
	switch s.Kind {
	case MinMax, Standard:
		values, err := t.Floats(s.In)
		if err != nil {
			return err
		}
		st, err := describe(values)
		if err != nil {
			return fmt.Errorf("fit %s on %s: %w", s.Kind, s.In, err)
		}
		s.State = &st
	}
	return nil
}

func (s *Step) apply(t *table.Table) ([]float64, error) {
	if s.Kind.temporal() {
		times, err := t.Times(s.In)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(times))
		for i, ts := range times {
			out[i] = encode(s.Kind, ts)
		}
		return out, nil
	}

	values, err := t.Floats(s.In)
	if err != nil {
		return nil, err
	}
	switch s.Kind {
	case Identity:
		return values, nil
	case MinMax, Standard:
		if s.State == nil {
			return nil, domain.Validationf("transformer %s on %s used before fit", s.Kind, s.In)
		}
	}
	st := s.State
	for i, v := range values {
		if s.Kind == MinMax {
			values[i] = (v - st.Min) / scale(st.Max-st.Min)
		} else {
			values[i] = (v - st.Mean) / scale(st.Std)
		}
	}
	return values, nil
}

// scale keeps constant columns finite: their range is treated as 1.
func scale(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

// describe ignores NaN. Std is the population standard deviation.
func describe(values []float64) (State, error) {
	st := State{Min: math.Inf(1), Max: math.Inf(-1)}
	n := 0.0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		n++
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
		st.Mean += v
	}
	if n == 0 {
		return State{}, domain.Validationf("no values to fit")
	}
	st.Mean /= n
	for _, v := range values {
		if !math.IsNaN(v) {
			st.Std += (v - st.Mean) * (v - st.Mean)
		}
	}
	st.Std = math.Sqrt(st.Std / n)
	return st, nil
}

// encode maps a timestamp onto a calendar feature. Time of day is the
// fraction of the day elapsed; day of week runs Monday=0 to Sunday=6 and is
// divided by 6.
func encode(k Kind, ts time.Time) float64 {
	ts = ts.UTC()
	switch k {
	case TimeCos, TimeSin:
		frac := float64(ts.Hour()*3600+ts.Minute()*60+ts.Second()) / 86400
		if k == TimeCos {
			return math.Cos(2 * math.Pi * frac)
		}
		return math.Sin(2 * math.Pi * frac)
	}
	wd := (int(ts.Weekday()) + 6) % 7
	x := float64(wd) / 6
	switch k {
	case DayCos:
		return math.Cos(2 * math.Pi * x)
	case DaySin:
		return math.Sin(2 * math.Pi * x)
	}
	return x
}
