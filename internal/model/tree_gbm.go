package model

import (
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// minSumHessian is the smallest hessian mass a leaf may hold.
const minSumHessian = 1e-3

// GradientBoosting is an ensemble of regression trees fitted to the
// gradient of the logistic loss. Trees grow leaf-wise: the leaf with the
// largest gain is split first until NumLeaves or MaxDepth is reached.
type GradientBoosting struct {
	NumIterations   int
	MaxDepth        int
	NumLeaves       int
	LearningRate    float64
	BaggingFraction float64
	FeatureFraction float64
	MinGainToSplit  float64
	MinDataInLeaf   int
	LambdaL1        float64
	LambdaL2        float64
	Threshold       float64
	Seed            uint64

	init  float64
	trees []*node
	width int
}

var gbmParams = []string{
	"num_iterations", "max_depth", "num_leaves", "learning_rate",
	"bagging_fraction", "feature_fraction", "min_gain_to_split",
	"min_data_in_leaf", "lambda_l1", "lambda_l2", "threshold", "seed",
}

// NewGradientBoosting returns a booster with 100 iterations of depth 3
// trees at learning rate 0.05 unless overridden.
func NewGradientBoosting(p Params) (*GradientBoosting, error) {
	if err := checkKnown(p, gbmParams...); err != nil {
		return nil, err
	}
	g := &GradientBoosting{}
	ints := []struct {
		dst  *int
		name string
		def  int
	}{
		{&g.NumIterations, "num_iterations", 100},
		{&g.MaxDepth, "max_depth", 3},
		{&g.NumLeaves, "num_leaves", 30},
		{&g.MinDataInLeaf, "min_data_in_leaf", 1},
	}
	for _, f := range ints {
		v, err := intParam(p, f.name, f.def)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	floats := []struct {
		dst  *float64
		name string
		def  float64
	}{
		{&g.LearningRate, "learning_rate", 0.05},
		{&g.BaggingFraction, "bagging_fraction", 1},
		{&g.FeatureFraction, "feature_fraction", 1},
		{&g.MinGainToSplit, "min_gain_to_split", 1},
		{&g.LambdaL1, "lambda_l1", 0},
		{&g.LambdaL2, "lambda_l2", 1},
		{&g.Threshold, "threshold", 0.5},
	}
	for _, f := range floats {
		v, err := floatParam(p, f.name, f.def)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	seed, err := intParam(p, "seed", 0)
	if err != nil {
		return nil, err
	}
	g.Seed = uint64(seed)

	switch {
	case g.NumIterations < 1, g.MaxDepth < 1, g.NumLeaves < 2, g.MinDataInLeaf < 1:
		return nil, domain.InvalidParameterf("iterations, depth, leaves and min data in leaf must be positive")
	case g.LearningRate <= 0:
		return nil, domain.InvalidParameterf("learning_rate must be positive, got %v", g.LearningRate)
	case g.BaggingFraction <= 0 || g.BaggingFraction > 1, g.FeatureFraction <= 0 || g.FeatureFraction > 1:
		return nil, domain.InvalidParameterf("bagging and feature fractions must lie in (0, 1]")
	case g.LambdaL1 < 0 || g.LambdaL2 < 0:
		return nil, domain.InvalidParameterf("regularisation must be non-negative")
	}
	return g, nil
}

func (g *GradientBoosting) Kind() Kind { return GradientBoostingKind }

func (g *GradientBoosting) Params() Params {
	return Params{
		"num_iterations":    g.NumIterations,
		"max_depth":         g.MaxDepth,
		"num_leaves":        g.NumLeaves,
		"learning_rate":     g.LearningRate,
		"bagging_fraction":  g.BaggingFraction,
		"feature_fraction":  g.FeatureFraction,
		"min_gain_to_split": g.MinGainToSplit,
		"min_data_in_leaf":  g.MinDataInLeaf,
		"lambda_l1":         g.LambdaL1,
		"lambda_l2":         g.LambdaL2,
		"threshold":         g.Threshold,
		"seed":              int(g.Seed),
	}
}

func (g *GradientBoosting) SearchSpace() []Dimension {
	return []Dimension{
		IntegerDim("num_iterations", 20, 300, Uniform),
		IntegerDim("max_depth", 2, 8, Uniform),
		IntegerDim("num_leaves", 4, 64, Uniform),
		RealDim("learning_rate", 0.01, 0.3, LogUniform),
		RealDim("min_gain_to_split", 0, 5, Uniform),
		IntegerDim("min_data_in_leaf", 1, 100, LogUniform),
		RealDim("lambda_l2", 1e-3, 10, LogUniform),
		RealDim("feature_fraction", 0.5, 1, Uniform),
	}
}

func sigmoid(v float64) float64 { return 1 / (1 + math.Exp(-v)) }

// thresholdL1 soft-thresholds a gradient sum.
func (g *GradientBoosting) thresholdL1(s float64) float64 {
	r := math.Max(0, math.Abs(s)-g.LambdaL1)
	if s < 0 {
		return -r
	}
	return r
}

func (g *GradientBoosting) leafGain(s acc) float64 {
	t := g.thresholdL1(s.a)
	return t * t / (s.b + g.LambdaL2)
}

func (g *GradientBoosting) leafValue(s acc) float64 {
	return -g.thresholdL1(s.a) / (s.b + g.LambdaL2) * g.LearningRate
}

// Fit starts from the log-odds of the base rate and adds one tree per
// iteration.
func (g *GradientBoosting) Fit(ctx context.Context, x [][]float64, y []float64) error {
	width, err := validate(x, y)
	if err != nil {
		return err
	}
	d := newDataset(x)
	r := rand.New(rand.NewPCG(g.Seed, 0x6762))

	pos := 0.0
	for _, v := range y {
		pos += v
	}
	rate := math.Min(math.Max(pos/float64(len(y)), 1e-15), 1-1e-15)
	init := math.Log(rate / (1 - rate))

	raw := make([]float64, len(x))
	for i := range raw {
		raw[i] = init
	}
	grad := make([]float64, len(x))
	hess := make([]float64, len(x))
	stat := func(i int) acc { return acc{n: 1, a: grad[i], b: hess[i]} }

	var trees []*node
	for it := 0; it < g.NumIterations; it++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := range raw {
			p := sigmoid(raw[i])
			grad[i] = p - y[i]
			hess[i] = p * (1 - p)
		}
		rows := g.bag(r, len(x))
		features := g.subspace(r, width)

		tree := g.grow(d, rows, features, stat)
		for i := range raw {
			raw[i] += tree.predict(x[i])
		}
		trees = append(trees, tree)
	}

	g.init, g.trees, g.width = init, trees, width
	return nil
}

func (g *GradientBoosting) bag(r *rand.Rand, n int) []int {
	if g.BaggingFraction >= 1 {
		return seq(n)
	}
	k := max(1, int(g.BaggingFraction*float64(n)))
	rows := r.Perm(n)[:k]
	slices.Sort(rows)
	return rows
}

func (g *GradientBoosting) subspace(r *rand.Rand, width int) []int {
	if g.FeatureFraction >= 1 {
		return seq(width)
	}
	k := max(1, int(g.FeatureFraction*float64(width)))
	fs := r.Perm(width)[:k]
	slices.Sort(fs)
	return fs
}

type leafCandidate struct {
	node  *node
	rows  []int
	depth int
	split split
}

// grow builds one regression tree leaf-wise.
func (g *GradientBoosting) grow(d *dataset, rows, features []int, stat func(int) acc) *node {
	minData := float64(g.MinDataInLeaf)
	allowed := func(c acc) bool { return c.n >= minData && c.b >= minSumHessian }
	gain := func(parent, left, right acc) float64 {
		return g.leafGain(left) + g.leafGain(right) - g.leafGain(parent)
	}
	sum := func(rows []int) acc {
		var s acc
		for _, r := range rows {
			s = s.add(stat(r))
		}
		return s
	}
	candidate := func(n *node, rows []int, depth int) *leafCandidate {
		c := &leafCandidate{node: n, rows: rows, depth: depth}
		if depth < g.MaxDepth {
			c.split = d.bestSplit(rows, features, stat, gain, allowed)
		}
		return c
	}

	root := &node{Value: g.leafValue(sum(rows))}
	open := []*leafCandidate{candidate(root, rows, 0)}
	leaves := 1
	for leaves < g.NumLeaves {
		best := -1
		for i, c := range open {
			if c.split.ok && c.split.gain > g.MinGainToSplit && (best < 0 || c.split.gain > open[best].split.gain) {
				best = i
			}
		}
		if best < 0 {
			break
		}
		c := open[best]
		open = slices.Delete(open, best, best+1)

		left, right := d.partition(c.rows, c.split)
		c.node.Feature, c.node.Threshold = c.split.feature, c.split.threshold
		c.node.Left = &node{Value: g.leafValue(sum(left))}
		c.node.Right = &node{Value: g.leafValue(sum(right))}
		open = append(open, candidate(c.node.Left, left, c.depth+1), candidate(c.node.Right, right, c.depth+1))
		leaves++
	}
	return root
}

func (g *GradientBoosting) Scores(x [][]float64) ([]float64, error) {
	if err := checkWidth(x, g.width); err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	for i, row := range x {
		v := g.init
		for _, t := range g.trees {
			v += t.predict(row)
		}
		out[i] = sigmoid(v)
	}
	return out, nil
}

func (g *GradientBoosting) Predictions(x [][]float64) ([]int, error) {
	scores, err := g.Scores(x)
	if err != nil {
		return nil, err
	}
	return threshold(scores, g.Threshold), nil
}

// NumTrees returns the number of fitted trees.
func (g *GradientBoosting) NumTrees() int { return len(g.trees) }

type ensembleState struct {
	Width int     `json:"width"`
	Init  float64 `json:"init"`
	Trees []*node `json:"trees"`
}

func (g *GradientBoosting) MarshalJSON() ([]byte, error) {
	return json.Marshal(ensembleState{Width: g.width, Init: g.init, Trees: g.trees})
}

func (g *GradientBoosting) UnmarshalJSON(data []byte) error {
	var s ensembleState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	g.width, g.init, g.trees = s.Width, s.Init, s.Trees
	return nil
}
