// Package hashing derives content-addressed cache keys from the values the
// pipeline works with: scalars, sequences, mappings and tables.
package hashing

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/opensource-finance/kestrel/internal/table"
)

// Key is a hex encoded content hash.
type Key string

// Type tags keep values of different shapes from colliding
// ("1" the string vs 1 the number, [a b] vs "ab").
const (
	tagNil byte = iota
	tagString
	tagInt
	tagFloat
	tagBool
	tagTime
	tagSeq
	tagMap
	tagTable
)

// Hasher accumulates a canonical encoding of values.
type Hasher struct {
	d   *xxhash.Digest
	buf [8]byte
}

// New returns an empty hasher.
func New() *Hasher {
	return &Hasher{d: xxhash.New()}
}

func (h *Hasher) tag(t byte) {
	_, _ = h.d.Write([]byte{t})
}

func (h *Hasher) u64(v uint64) {
	binary.LittleEndian.PutUint64(h.buf[:], v)
	_, _ = h.d.Write(h.buf[:])
}

// String writes a length-prefixed string.
func (h *Hasher) String(s string) *Hasher {
	h.tag(tagString)
	h.u64(uint64(len(s)))
	_, _ = h.d.WriteString(s)
	return h
}

// Int writes a signed integer.
func (h *Hasher) Int(v int64) *Hasher {
	h.tag(tagInt)
	h.u64(uint64(v))
	return h
}

// Float writes a float. All NaNs hash alike and -0 equals +0.
func (h *Hasher) Float(v float64) *Hasher {
	h.tag(tagFloat)
	switch {
	case math.IsNaN(v):
		h.u64(0x7ff8000000000001)
	case v == 0:
		h.u64(0)
	default:
		h.u64(math.Float64bits(v))
	}
	return h
}

// Bool writes a boolean.
func (h *Hasher) Bool(v bool) *Hasher {
	h.tag(tagBool)
	if v {
		h.u64(1)
	} else {
		h.u64(0)
	}
	return h
}

// Time writes an instant, independent of its location.
func (h *Hasher) Time(v time.Time) *Hasher {
	h.tag(tagTime)
	h.u64(uint64(v.UnixNano()))
	return h
}

// Strings writes a sequence of strings.
func (h *Hasher) Strings(vs []string) *Hasher {
	h.tag(tagSeq)
	h.u64(uint64(len(vs)))
	for _, v := range vs {
		h.String(v)
	}
	return h
}

// Floats writes a sequence of floats.
func (h *Hasher) Floats(vs []float64) *Hasher {
	h.tag(tagSeq)
	h.u64(uint64(len(vs)))
	for _, v := range vs {
		h.Float(v)
	}
	return h
}

// Ints writes a sequence of integers.
func (h *Hasher) Ints(vs []int) *Hasher {
	h.tag(tagSeq)
	h.u64(uint64(len(vs)))
	for _, v := range vs {
		h.Int(int64(v))
	}
	return h
}

// Value writes a scalar, sequence or string-keyed mapping. Mappings are
// written in sorted key order so iteration order never changes the key.
func (h *Hasher) Value(v any) *Hasher {
	switch x := v.(type) {
	case nil:
		h.tag(tagNil)
	case string:
		h.String(x)
	case int:
		h.Int(int64(x))
	case int64:
		h.Int(x)
	case uint64:
		h.Int(int64(x))
	case float64:
		h.Float(x)
	case bool:
		h.Bool(x)
	case time.Time:
		h.Time(x)
	case []string:
		h.Strings(x)
	case []float64:
		h.Floats(x)
	case []int:
		h.Ints(x)
	case []any:
		h.tag(tagSeq)
		h.u64(uint64(len(x)))
		for _, e := range x {
			h.Value(e)
		}
	case map[string]any:
		h.Map(x)
	case *table.Table:
		h.Table(x)
	case fmt.Stringer:
		h.String(x.String())
	default:
		h.String(fmt.Sprintf("%T:%v", v, v))
	}
	return h
}

// Map writes a mapping in sorted key order.
func (h *Hasher) Map(m map[string]any) *Hasher {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	h.tag(tagMap)
	h.u64(uint64(len(keys)))
	for _, k := range keys {
		h.String(k)
		h.Value(m[k])
	}
	return h
}

// Table writes the index and every column, in column order.
func (h *Hasher) Table(t *table.Table) *Hasher {
	h.tag(tagTable)
	index := t.Index()
	h.u64(uint64(len(index)))
	for _, i := range index {
		h.u64(uint64(i))
	}
	for _, name := range t.Columns() {
		h.String(name)
		kind, _ := t.Kind(name)
		switch kind {
		case table.Float:
			vs, _ := t.Floats(name)
			h.Floats(vs)
		case table.String:
			vs, _ := t.Strings(name)
			h.Strings(vs)
		case table.Time:
			vs, _ := t.Times(name)
			h.tag(tagSeq)
			h.u64(uint64(len(vs)))
			for _, v := range vs {
				h.Time(v)
			}
		}
	}
	return h
}

// Sum returns the key of everything written so far.
func (h *Hasher) Sum() Key {
	return Key(hex.EncodeToString(h.d.Sum(nil)))
}

// Of hashes a list of values in order.
func Of(values ...any) Key {
	h := New()
	for _, v := range values {
		h.Value(v)
	}
	return h.Sum()
}

// Table hashes a single table.
func Table(t *table.Table) Key {
	return New().Table(t).Sum()
}
