// Package metrics scores model output against true labels: ranking metrics
// over the whole test set and daily card precision@k.
package metrics

import (
	"math"
	"slices"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Kind is a supported metric.
type Kind string

const (
	ROCAUC                   Kind = "roc_auc"
	AveragePrecision         Kind = "average_precision"
	PRAUC                    Kind = "pr_auc"
	RandomPRAUC              Kind = "random_pr_auc"
	CardPrecisionTopK        Kind = "card_precision_top_k"
	PerfectCardPrecisionTopK Kind = "perfect_card_precision_top_k"
)

// ParseKind maps a name onto the closed set of metrics.
func ParseKind(name string) (Kind, error) {
	switch k := Kind(name); k {
	case ROCAUC, AveragePrecision, PRAUC, RandomPRAUC, CardPrecisionTopK, PerfectCardPrecisionTopK:
		return k, nil
	}
	return "", domain.Configurationf("unknown metric %q", name)
}

// Results is the output of an estimator on a set of rows.
type Results struct {
	Predictions []int     `json:"predictions"`
	Scores      []float64 `json:"scores"`
}

// TrueValues carries what the metrics compare against.
type TrueValues struct {
	Fraud     []float64
	Times     []time.Time
	Customers []string
}

// Options parameterise the top-k metrics.
type Options struct {
	TopK               int
	PerfectDenominator float64
	ExcludeDetected    bool
}

// Measure computes one metric.
func Measure(kind Kind, res Results, truth TrueValues, opts Options) (float64, error) {
	if len(res.Scores) != len(truth.Fraud) {
		return 0, domain.Validationf("%d scores for %d labels", len(res.Scores), len(truth.Fraud))
	}
	switch kind {
	case ROCAUC:
		return ROCAUCScore(truth.Fraud, res.Scores)
	case AveragePrecision:
		return AveragePrecisionScore(truth.Fraud, res.Scores)
	case PRAUC:
		return PRAUCScore(truth.Fraud, res.Scores)
	case RandomPRAUC:
		return RandomPRAUCScore(truth.Fraud)
	case CardPrecisionTopK, PerfectCardPrecisionTopK:
		events, err := scoredEvents(res, truth)
		if err != nil {
			return 0, err
		}
		precision, perfect, _, err := TopK{
			K:                  opts.TopK,
			ExcludeDetected:    opts.ExcludeDetected,
			PerfectDenominator: opts.PerfectDenominator,
		}.Evaluate(events)
		if err != nil {
			return 0, err
		}
		if kind == CardPrecisionTopK {
			return precision, nil
		}
		return perfect, nil
	}
	return 0, domain.Configurationf("unknown metric %q", string(kind))
}

func scoredEvents(res Results, truth TrueValues) ([]ScoredEvent, error) {
	if len(truth.Times) != len(truth.Fraud) || len(truth.Customers) != len(truth.Fraud) {
		return nil, domain.Validationf("top-k metrics need a timestamp and a customer per row")
	}
	events := make([]ScoredEvent, len(truth.Fraud))
	for i := range events {
		events[i] = ScoredEvent{
			Time:   truth.Times[i],
			Entity: truth.Customers[i],
			Score:  res.Scores[i],
			Label:  truth.Fraud[i],
		}
	}
	return events, nil
}

// point is the cumulative confusion count at one distinct score threshold.
type point struct {
	tp, fp float64
}

// curve returns cumulative true and false positives at each distinct score,
// from the highest score down.
func curve(labels, scores []float64) ([]point, float64, float64, error) {
	if len(labels) == 0 {
		return nil, 0, 0, domain.Validationf("no rows to score")
	}
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case scores[a] > scores[b]:
			return -1
		case scores[a] < scores[b]:
			return 1
		}
		return 0
	})

	var pts []point
	var tp, fp float64
	for k, i := range order {
		if labels[i] >= 0.5 {
			tp++
		} else {
			fp++
		}
		if k == len(order)-1 || scores[order[k+1]] != scores[i] {
			pts = append(pts, point{tp: tp, fp: fp})
		}
	}
	return pts, tp, fp, nil
}

// ROCAUCScore is the area under the ROC curve. Ties count half.
func ROCAUCScore(labels, scores []float64) (float64, error) {
	pts, pos, neg, err := curve(labels, scores)
	if err != nil {
		return 0, err
	}
	if pos == 0 || neg == 0 {
		return 0, domain.Validationf("roc auc needs both classes, got %v positives and %v negatives", pos, neg)
	}
	area := 0.0
	prev := point{}
	for _, p := range pts {
		area += (p.fp - prev.fp) * (p.tp + prev.tp) / 2
		prev = p
	}
	return area / (pos * neg), nil
}

// AveragePrecisionScore is the precision at each threshold weighted by the
// increase in recall from the previous threshold.
func AveragePrecisionScore(labels, scores []float64) (float64, error) {
	pts, pos, _, err := curve(labels, scores)
	if err != nil {
		return 0, err
	}
	if pos == 0 {
		return 0, domain.Validationf("average precision needs at least one positive")
	}
	ap := 0.0
	prevRecall := 0.0
	for _, p := range pts {
		recall := p.tp / pos
		precision := p.tp / (p.tp + p.fp)
		ap += (recall - prevRecall) * precision
		prevRecall = recall
	}
	return ap, nil
}

// PRAUCScore is the trapezoidal area under the precision-recall curve,
// anchored at recall 0 with precision 1 and stopping at full recall.
func PRAUCScore(labels, scores []float64) (float64, error) {
	pts, pos, _, err := curve(labels, scores)
	if err != nil {
		return 0, err
	}
	if pos == 0 {
		return 0, domain.Validationf("pr auc needs at least one positive")
	}
	area := 0.0
	prevRecall, prevPrecision := 0.0, 1.0
	for _, p := range pts {
		recall := p.tp / pos
		precision := p.tp / (p.tp + p.fp)
		area += (recall - prevRecall) * (precision + prevPrecision) / 2
		prevRecall, prevPrecision = recall, precision
		if p.tp == pos {
			break
		}
	}
	return area, nil
}

// RandomPRAUCScore is the PR AUC of a random classifier: the fraud rate.
func RandomPRAUCScore(labels []float64) (float64, error) {
	if len(labels) == 0 {
		return 0, domain.Validationf("no rows to score")
	}
	s := 0.0
	for _, l := range labels {
		s += l
	}
	return s / float64(len(labels)), nil
}

// Safe converts an undefined metric into NaN for callers that only log it.
func Safe(v float64, err error) float64 {
	if err != nil {
		return math.NaN()
	}
	return v
}
