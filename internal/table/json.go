package table

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

type jsonColumn struct {
	Name    string      `json:"name"`
	Kind    string      `json:"kind"`
	Floats  []*float64  `json:"floats,omitempty"`
	Strings []string    `json:"strings,omitempty"`
	Times   []time.Time `json:"times,omitempty"`
}

type jsonTable struct {
	Index   []int64      `json:"index"`
	Columns []jsonColumn `json:"columns"`
}

// MarshalJSON encodes the table column by column. NaN and infinities are
// written as null.
func (t *Table) MarshalJSON() ([]byte, error) {
	out := jsonTable{Index: t.index, Columns: make([]jsonColumn, len(t.cols))}
	for i, c := range t.cols {
		jc := jsonColumn{Name: c.name, Kind: c.kind.String()}
		switch c.kind {
		case Float:
			jc.Floats = make([]*float64, len(c.floats))
			for r, v := range c.floats {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					continue
				}
				v := v
				jc.Floats[r] = &v
			}
		case String:
			jc.Strings = c.strings
		case Time:
			jc.Times = c.times
		}
		out.Columns[i] = jc
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a table written by MarshalJSON. Nulls become NaN.
func (t *Table) UnmarshalJSON(data []byte) error {
	var in jsonTable
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	decoded := WithIndex(in.Index)
	for _, jc := range in.Columns {
		var err error
		switch jc.Kind {
		case "float":
			values := make([]float64, len(jc.Floats))
			for r, v := range jc.Floats {
				if v == nil {
					values[r] = math.NaN()
					continue
				}
				values[r] = *v
			}
			decoded, err = decoded.WithFloats(jc.Name, values)
		case "string":
			values := jc.Strings
			if values == nil {
				values = make([]string, len(in.Index))
			}
			decoded, err = decoded.WithStrings(jc.Name, values)
		case "time":
			values := jc.Times
			if values == nil {
				values = make([]time.Time, len(in.Index))
			}
			decoded, err = decoded.WithTimes(jc.Name, values)
		default:
			return fmt.Errorf("unknown column kind %q", jc.Kind)
		}
		if err != nil {
			return err
		}
	}
	*t = *decoded
	return nil
}
