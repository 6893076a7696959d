package model

import (
	"cmp"
	"math"
	"slices"
)

// node is a binary decision node. Leaves have no children and carry Value.
type node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Value     float64 `json:"value"`
	Left      *node   `json:"left,omitempty"`
	Right     *node   `json:"right,omitempty"`
}

func (n *node) leaf() bool { return n.Left == nil || n.Right == nil }

// predict walks to a leaf: x <= threshold goes left, anything else
// (including NaN) goes right.
func (n *node) predict(x []float64) float64 {
	for !n.leaf() {
		if x[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Value
}

func (n *node) depth() int {
	if n.leaf() {
		return 0
	}
	return 1 + max(n.Left.depth(), n.Right.depth())
}

func (n *node) leaves() int {
	if n.leaf() {
		return 1
	}
	return n.Left.leaves() + n.Right.leaves()
}

// acc accumulates per-row statistics: n rows plus two sums whose meaning
// belongs to the tree builder (positives for CART, gradient and hessian
// for boosting).
type acc struct {
	n, a, b float64
}

func (s acc) add(o acc) acc { return acc{s.n + o.n, s.a + o.a, s.b + o.b} }
func (s acc) sub(o acc) acc { return acc{s.n - o.n, s.a - o.a, s.b - o.b} }

// dataset holds the training matrix and, per feature, the row positions
// ordered by value. Sorting once lets every node find its best split with
// a linear sweep.
type dataset struct {
	x      [][]float64
	sorted [][]int
	member []bool
}

func newDataset(x [][]float64) *dataset {
	width := len(x[0])
	d := &dataset{x: x, sorted: make([][]int, width), member: make([]bool, len(x))}
	for f := 0; f < width; f++ {
		rows := make([]int, len(x))
		for i := range rows {
			rows[i] = i
		}
		slices.SortStableFunc(rows, func(a, b int) int { return cmp.Compare(x[a][f], x[b][f]) })
		d.sorted[f] = rows
	}
	return d
}

type split struct {
	feature   int
	threshold float64
	gain      float64
	ok        bool
}

// constraint rejects a candidate child.
type constraint func(child acc) bool

// bestSplit scans the given features for the boundary maximising gain over
// the node's rows. Candidate thresholds sit halfway between consecutive
// distinct values. Earlier features win ties.
func (d *dataset) bestSplit(rows []int, features []int, stat func(row int) acc, gain func(parent, left, right acc) float64, allowed constraint) split {
	var total acc
	for _, r := range rows {
		d.member[r] = true
		total = total.add(stat(r))
	}
	defer func() {
		for _, r := range rows {
			d.member[r] = false
		}
	}()

	best := split{gain: math.Inf(-1)}
	for _, f := range features {
		var left acc
		prev := 0.0
		seen := false
		for _, r := range d.sorted[f] {
			if !d.member[r] {
				continue
			}
			v := d.x[r][f]
			if seen && v != prev {
				right := total.sub(left)
				if allowed(left) && allowed(right) {
					if g := gain(total, left, right); g > best.gain {
						best = split{feature: f, threshold: prev + (v-prev)/2, gain: g, ok: true}
					}
				}
			}
			left = left.add(stat(r))
			prev = v
			seen = true
		}
	}
	return best
}

// partition splits rows by a decision.
func (d *dataset) partition(rows []int, s split) (left, right []int) {
	for _, r := range rows {
		if d.x[r][s.feature] <= s.threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	return left, right
}

// seq returns 0..n-1.
func seq(width int) []int {
	fs := make([]int, width)
	for i := range fs {
		fs[i] = i
	}
	return fs
}
