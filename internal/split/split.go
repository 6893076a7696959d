// Package split partitions an event table into train and test sets along
// the time axis, leaving a feedback-delay gap between them.
package split

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/table"
)

const day = 24 * time.Hour

// Splitter is a temporal train/test splitter.
type Splitter struct {
	TimeKey   string
	TestDays  int
	DelayDays int
}

// Bounds are the cut points of a split.
//
//	train: t <= TrainEnd
//	gap:   TrainEnd < t <= TestStart
//	test:  t > TestStart
type Bounds struct {
	End       time.Time
	TestStart time.Time
	TrainEnd  time.Time
}

// FloorDay truncates to midnight UTC.
func FloorDay(t time.Time) time.Time {
	return t.UTC().Truncate(day)
}

// CeilDay rounds up to midnight UTC; midnight itself is unchanged.
func CeilDay(t time.Time) time.Time {
	f := FloorDay(t)
	if f.Equal(t) {
		return f
	}
	return f.Add(day)
}

// Bounds computes the cut points from the latest timestamp.
func (s Splitter) Bounds(latest time.Time) Bounds {
	end := CeilDay(latest)
	testStart := end.AddDate(0, 0, -s.TestDays)
	return Bounds{
		End:       end,
		TestStart: testStart,
		TrainEnd:  testStart.AddDate(0, 0, -s.DelayDays),
	}
}

// Split returns the train and test partitions. It is a mechanical partition:
// an empty train set is not an error here.
func (s Splitter) Split(t *table.Table) (train, test *table.Table, err error) {
	if s.TestDays < 0 || s.DelayDays < 0 {
		return nil, nil, domain.InvalidParameterf("test and delay spans must be non-negative, got %d and %d", s.TestDays, s.DelayDays)
	}
	if t.Len() == 0 {
		return nil, nil, domain.Validationf("cannot split an empty table")
	}
	times, err := t.Times(s.TimeKey)
	if err != nil {
		return nil, nil, err
	}

	latest := times[0]
	for _, ts := range times[1:] {
		if ts.After(latest) {
			latest = ts
		}
	}
	b := s.Bounds(latest)

	train = t.Filter(func(i int) bool { return !times[i].After(b.TrainEnd) })
	test = t.Filter(func(i int) bool { return times[i].After(b.TestStart) })
	return train, test, nil
}
