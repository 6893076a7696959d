package metrics

import (
	"math"
	"slices"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/split"
	"github.com/opensource-finance/kestrel/internal/table"
)

// ReferenceDenominator is the fixed perfect-precision normaliser used by
// the reference reports.
const ReferenceDenominator = 100.0

// ScoredEvent is one scored transaction.
type ScoredEvent struct {
	Time   time.Time
	Entity string
	Score  float64
	Label  float64
}

// DayResult is the top-k outcome of a single day.
type DayResult struct {
	Start            time.Time
	Precision        float64
	PerfectPrecision float64
	Detected         []string

	// Valid is false when the day had no qualifying events.
	Valid bool
}

// TopK computes daily card precision@k.
type TopK struct {
	K               int
	ExcludeDetected bool

	// PerfectDenominator divides the day's fraud count. Zero means K.
	PerfectDenominator float64
}

func (e TopK) denominator() float64 {
	if e.PerfectDenominator > 0 {
		return e.PerfectDenominator
	}
	return float64(e.K)
}

type entityDay struct {
	entity string
	score  float64
	label  float64
}

// EvaluateDay ranks the day's entities by their highest score and measures
// the fraction of fraudulent entities among the first K.
func (e TopK) EvaluateDay(events []ScoredEvent) (DayResult, error) {
	if e.K <= 0 {
		return DayResult{}, domain.InvalidParameterf("top_k must be positive, got %d", e.K)
	}
	if len(events) == 0 {
		return DayResult{}, nil
	}

	byEntity := make(map[string]*entityDay)
	for _, ev := range events {
		ed, ok := byEntity[ev.Entity]
		if !ok {
			byEntity[ev.Entity] = &entityDay{entity: ev.Entity, score: ev.Score, label: ev.Label}
			continue
		}
		ed.score = math.Max(ed.score, ev.Score)
		ed.label = math.Max(ed.label, ev.Label)
	}

	ranked := make([]*entityDay, 0, len(byEntity))
	frauds := 0.0
	for _, ed := range byEntity {
		ranked = append(ranked, ed)
		frauds += ed.label
	}
	// Entity order first, so equal scores rank deterministically.
	slices.SortFunc(ranked, func(a, b *entityDay) int { return table.CompareKeys(a.entity, b.entity) })
	slices.SortStableFunc(ranked, func(a, b *entityDay) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})

	top := ranked[:min(e.K, len(ranked))]
	res := DayResult{Valid: true}
	hits := 0.0
	for _, ed := range top {
		hits += ed.label
		if ed.label == 1 {
			res.Detected = append(res.Detected, ed.entity)
		}
	}
	res.Precision = hits / float64(len(top))
	res.PerfectPrecision = frauds / e.denominator()
	return res, nil
}

// Evaluate walks calendar days (start+i, start+i+1] from the floor of the
// earliest event to the ceiling of the latest, in order, threading the set
// of detected entities from one day to the next. It returns the means over
// valid days rounded to 3 decimals, NaN when no day was valid.
func (e TopK) Evaluate(events []ScoredEvent) (precision, perfect float64, days []DayResult, err error) {
	if e.K <= 0 {
		return 0, 0, nil, domain.InvalidParameterf("top_k must be positive, got %d", e.K)
	}
	if len(events) == 0 {
		return math.NaN(), math.NaN(), nil, nil
	}

	first, last := events[0].Time, events[0].Time
	for _, ev := range events[1:] {
		if ev.Time.Before(first) {
			first = ev.Time
		}
		if ev.Time.After(last) {
			last = ev.Time
		}
	}
	start := split.FloorDay(first)
	numDays := int(split.CeilDay(last).Sub(start) / (24 * time.Hour))

	detected := make(map[string]bool)
	var sumPrecision, sumPerfect float64
	valid := 0
	for i := 0; i < numDays; i++ {
		lo := start.AddDate(0, 0, i)
		hi := start.AddDate(0, 0, i+1)

		var today []ScoredEvent
		for _, ev := range events {
			if ev.Time.After(lo) && !ev.Time.After(hi) && !detected[ev.Entity] {
				today = append(today, ev)
			}
		}

		res, err := e.EvaluateDay(today)
		if err != nil {
			return 0, 0, nil, err
		}
		res.Start = lo
		days = append(days, res)
		if !res.Valid {
			continue
		}

		valid++
		sumPrecision += res.Precision
		sumPerfect += res.PerfectPrecision
		if e.ExcludeDetected {
			for _, ent := range res.Detected {
				detected[ent] = true
			}
		}
	}

	if valid == 0 {
		return math.NaN(), math.NaN(), days, nil
	}
	return Round(sumPrecision/float64(valid), 3), Round(sumPerfect/float64(valid), 3), days, nil
}

// Round rounds to the given number of decimals, halves to even.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.RoundToEven(v*p) / p
}
