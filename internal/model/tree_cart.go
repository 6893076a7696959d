package model

import (
	"context"
	"encoding/json"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DecisionTree is a CART classifier. Leaves hold the fraction of fraud
// among their training rows, which is the score.
type DecisionTree struct {
	Criterion      string
	MaxDepth       int
	MinSamplesLeaf int
	Threshold      float64

	root  *node
	width int
}

// NewDecisionTree returns a tree with the gini criterion and depth 2
// unless overridden.
func NewDecisionTree(p Params) (*DecisionTree, error) {
	if err := checkKnown(p, "criterion", "max_depth", "min_samples_leaf", "threshold"); err != nil {
		return nil, err
	}
	t := &DecisionTree{}
	var err error
	if t.Criterion, err = stringParam(p, "criterion", "gini"); err != nil {
		return nil, err
	}
	if t.MaxDepth, err = intParam(p, "max_depth", 2); err != nil {
		return nil, err
	}
	if t.MinSamplesLeaf, err = intParam(p, "min_samples_leaf", 1); err != nil {
		return nil, err
	}
	if t.Threshold, err = floatParam(p, "threshold", 0.5); err != nil {
		return nil, err
	}
	if t.Criterion != "gini" && t.Criterion != "entropy" {
		return nil, domain.Configurationf("unsupported criterion %q", t.Criterion)
	}
	if t.MaxDepth < 1 || t.MinSamplesLeaf < 1 {
		return nil, domain.InvalidParameterf("max_depth and min_samples_leaf must be positive")
	}
	return t, nil
}

func (t *DecisionTree) Kind() Kind { return DecisionTreeKind }

func (t *DecisionTree) Params() Params {
	return Params{
		"criterion":        t.Criterion,
		"max_depth":        t.MaxDepth,
		"min_samples_leaf": t.MinSamplesLeaf,
		"threshold":        t.Threshold,
	}
}

func (t *DecisionTree) SearchSpace() []Dimension {
	return []Dimension{
		IntegerDim("max_depth", 1, 12, Uniform),
		IntegerDim("min_samples_leaf", 1, 50, LogUniform),
		CategoricalDim("criterion", "gini", "entropy"),
	}
}

func (t *DecisionTree) impurity(s acc) float64 {
	if s.n == 0 {
		return 0
	}
	p := s.a / s.n
	if t.Criterion == "entropy" {
		h := 0.0
		for _, q := range []float64{p, 1 - p} {
			if q > 0 {
				h -= q * math.Log2(q)
			}
		}
		return h
	}
	return 1 - p*p - (1-p)*(1-p)
}

// Fit grows the tree depth first.
func (t *DecisionTree) Fit(ctx context.Context, x [][]float64, y []float64) error {
	width, err := validate(x, y)
	if err != nil {
		return err
	}
	d := newDataset(x)
	features := seq(width)
	stat := func(r int) acc { return acc{n: 1, a: y[r]} }
	gain := func(parent, left, right acc) float64 {
		return parent.n*t.impurity(parent) - left.n*t.impurity(left) - right.n*t.impurity(right)
	}
	minLeaf := float64(t.MinSamplesLeaf)
	allowed := func(c acc) bool { return c.n >= minLeaf }

	var grow func(rows []int, depth int) (*node, error)
	grow = func(rows []int, depth int) (*node, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var s acc
		for _, r := range rows {
			s = s.add(stat(r))
		}
		n := &node{Value: s.a / s.n}
		if depth >= t.MaxDepth || t.impurity(s) == 0 || s.n < 2*minLeaf {
			return n, nil
		}
		best := d.bestSplit(rows, features, stat, gain, allowed)
		if !best.ok || best.gain <= 1e-12 {
			return n, nil
		}
		left, right := d.partition(rows, best)
		n.Feature, n.Threshold = best.feature, best.threshold
		if n.Left, err = grow(left, depth+1); err != nil {
			return nil, err
		}
		if n.Right, err = grow(right, depth+1); err != nil {
			return nil, err
		}
		return n, nil
	}

	rows := seq(len(x))
	root, err := grow(rows, 0)
	if err != nil {
		return err
	}
	t.root, t.width = root, width
	return nil
}

func (t *DecisionTree) Scores(x [][]float64) ([]float64, error) {
	if err := checkWidth(x, t.width); err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = t.root.predict(row)
	}
	return out, nil
}

func (t *DecisionTree) Predictions(x [][]float64) ([]int, error) {
	scores, err := t.Scores(x)
	if err != nil {
		return nil, err
	}
	return threshold(scores, t.Threshold), nil
}

// Depth returns the depth of the fitted tree.
func (t *DecisionTree) Depth() int {
	if t.root == nil {
		return 0
	}
	return t.root.depth()
}

type treeState struct {
	Width int   `json:"width"`
	Root  *node `json:"root"`
}

func (t *DecisionTree) MarshalJSON() ([]byte, error) {
	return json.Marshal(treeState{Width: t.width, Root: t.root})
}

func (t *DecisionTree) UnmarshalJSON(data []byte) error {
	var s treeState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t.width, t.root = s.Width, s.Root
	return nil
}
