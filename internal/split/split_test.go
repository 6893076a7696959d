package split

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/table"
)

var start = time.Date(2023, 9, 30, 0, 0, 0, 0, time.UTC)

// hourly builds one event every 6 hours over n days.
func hourly(t *testing.T, days int) *table.Table {
	t.Helper()
	var times []time.Time
	for ts := start.Add(time.Hour); ts.Before(start.AddDate(0, 0, days)); ts = ts.Add(6 * time.Hour) {
		times = append(times, ts)
	}
	tbl, err := table.New(len(times)).WithTimes(domain.ColDatetime, times)
	require.NoError(t, err)
	return tbl
}

func TestDayRounding(t *testing.T) {
	mid := start.Add(13 * time.Hour)
	assert.Equal(t, start, FloorDay(mid))
	assert.Equal(t, start.AddDate(0, 0, 1), CeilDay(mid))
	assert.Equal(t, start, CeilDay(start))
}

func TestSplit(t *testing.T) {
	tbl := hourly(t, 30)
	s := Splitter{TimeKey: domain.ColDatetime, TestDays: 7, DelayDays: 7}

	train, test, err := s.Split(tbl)
	require.NoError(t, err)

	b := s.Bounds(start.AddDate(0, 0, 30).Add(-time.Minute))
	assert.Equal(t, start.AddDate(0, 0, 30), b.End)
	assert.Equal(t, start.AddDate(0, 0, 23), b.TestStart)
	assert.Equal(t, start.AddDate(0, 0, 16), b.TrainEnd)

	trainTimes, err := train.Times(domain.ColDatetime)
	require.NoError(t, err)
	testTimes, err := test.Times(domain.ColDatetime)
	require.NoError(t, err)

	for _, ts := range trainTimes {
		assert.False(t, ts.After(b.TrainEnd))
	}
	for _, ts := range testTimes {
		assert.True(t, ts.After(b.TestStart))
	}

	// disjoint, and the gap belongs to neither side
	seen := map[int64]bool{}
	for _, i := range train.Index() {
		seen[i] = true
	}
	for _, i := range test.Index() {
		assert.False(t, seen[i], "row %d in both sets", i)
	}
	gap := 0
	all, _ := tbl.Times(domain.ColDatetime)
	for _, ts := range all {
		if ts.After(b.TrainEnd) && !ts.After(b.TestStart) {
			gap++
		}
	}
	assert.Equal(t, 7*4, gap)
	assert.Equal(t, tbl.Len(), train.Len()+test.Len()+gap)
}

func TestSplitBoundaryInclusion(t *testing.T) {
	times := []time.Time{
		start,                  // train_end exactly: train
		start.Add(time.Second), // gap
		start.AddDate(0, 0, 1), // test_start exactly: gap
		start.AddDate(0, 0, 1).Add(time.Second),
	}
	tbl, err := table.New(len(times)).WithTimes(domain.ColDatetime, times)
	require.NoError(t, err)

	s := Splitter{TimeKey: domain.ColDatetime, TestDays: 1, DelayDays: 1}
	train, test, err := s.Split(tbl)
	require.NoError(t, err)

	assert.Equal(t, []int64{0}, train.Index())
	assert.Equal(t, []int64{3}, test.Index())
}

func TestSplitEmptyTrainIsNotAnError(t *testing.T) {
	tbl := hourly(t, 3)
	s := Splitter{TimeKey: domain.ColDatetime, TestDays: 2, DelayDays: 5}

	train, test, err := s.Split(tbl)
	require.NoError(t, err)
	assert.Equal(t, 0, train.Len())
	assert.Positive(t, test.Len())
}

func TestSplitErrors(t *testing.T) {
	s := Splitter{TimeKey: domain.ColDatetime, TestDays: 7, DelayDays: 7}

	_, _, err := s.Split(table.New(0))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = Splitter{TimeKey: domain.ColDatetime, TestDays: -1}.Split(hourly(t, 2))
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}
