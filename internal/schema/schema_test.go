package schema

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/table"
)

func TestFilter(t *testing.T) {
	s := Schema{Name: "test", Columns: []Column{
		{Name: "b", Type: Int},
		{Name: "a", Type: Float},
	}}
	tbl, err := table.New(2).WithFloats("a", []float64{1.5, 2.5})
	require.NoError(t, err)
	tbl, err = tbl.WithFloats("b", []float64{1.9, -2.2})
	require.NoError(t, err)
	tbl, err = tbl.WithFloats("extra", []float64{0, 0})
	require.NoError(t, err)

	out, err := s.Filter(tbl)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, out.Columns())

	b, _ := out.Floats("b")
	assert.Equal(t, []float64{1, -2}, b)
	a, _ := out.Floats("a")
	assert.Equal(t, []float64{1.5, 2.5}, a)

	// input untouched
	orig, _ := tbl.Floats("b")
	assert.Equal(t, []float64{1.9, -2.2}, orig)
}

func TestFilterErrors(t *testing.T) {
	s := Schema{Name: "test", Columns: []Column{{Name: "a", Type: Float}}}

	t.Run("Missing", func(t *testing.T) {
		tbl, _ := table.New(1).WithFloats("b", []float64{1})
		_, err := s.Filter(tbl)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
	t.Run("Empty", func(t *testing.T) {
		tbl, _ := table.New(0).WithFloats("a", nil)
		_, err := s.Filter(tbl)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
	t.Run("Null", func(t *testing.T) {
		tbl, _ := table.New(2).WithFloats("a", []float64{1, math.NaN()})
		_, err := s.Filter(tbl)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
	t.Run("WrongKind", func(t *testing.T) {
		tbl, _ := table.New(1).WithTimes("a", []time.Time{time.Now()})
		assert.ErrorIs(t, s.Validate(tbl), domain.ErrValidation)
	})
}

func TestCatalogue(t *testing.T) {
	for _, name := range []string{SyntheticFeatures, LocalFeatures, Target, Timestamp, Customer} {
		s, err := Get(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, s.Columns, name)
	}

	s, err := Features("synthetic")
	require.NoError(t, err)
	assert.Len(t, s.Columns, 12)
	assert.Equal(t, domain.ColAmount, s.Columns[0].Name)

	_, err = Features("kafka")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
