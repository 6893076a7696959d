// Package model implements the binary classifiers the pipeline trains:
// a CART decision tree, a gradient boosted tree ensemble and a fake
// algorithm with constant output for tests.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Kind is an algorithm variant.
type Kind string

const (
	DecisionTreeKind     Kind = "decision_tree"
	GradientBoostingKind Kind = "gradient_boosting"
	FakeKind             Kind = "fake"
)

// Params are hyperparameters by name.
type Params map[string]any

// Algorithm is a binary classifier over a dense feature matrix.
type Algorithm interface {
	Kind() Kind

	// Fit trains on x with labels y in {0, 1}.
	Fit(ctx context.Context, x [][]float64, y []float64) error

	// Scores returns the fraud probability of each row.
	Scores(x [][]float64) ([]float64, error)

	// Predictions returns 1 for rows classified as fraud.
	Predictions(x [][]float64) ([]int, error)

	// Params returns the effective hyperparameters.
	Params() Params

	// SearchSpace declares the tunable hyperparameters.
	SearchSpace() []Dimension
}

// New creates an unfitted algorithm. Params override the defaults.
func New(kind string, params Params) (Algorithm, error) {
	switch Kind(kind) {
	case DecisionTreeKind:
		return NewDecisionTree(params)
	case GradientBoostingKind:
		return NewGradientBoosting(params)
	case FakeKind:
		return &Fake{}, nil
	default:
		return nil, domain.Configurationf("unsupported algorithm type: %s", kind)
	}
}

type envelope struct {
	Kind   Kind            `json:"kind"`
	Params Params          `json:"params"`
	Model  json.RawMessage `json:"model,omitempty"`
}

// Encode serialises a fitted algorithm with its kind and parameters.
func Encode(a Algorithm) ([]byte, error) {
	model, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", a.Kind(), err)
	}
	return json.Marshal(envelope{Kind: a.Kind(), Params: a.Params(), Model: model})
}

// Decode restores an algorithm written by Encode.
func Decode(data []byte) (Algorithm, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode algorithm: %w", err)
	}
	a, err := New(string(env.Kind), env.Params)
	if err != nil {
		return nil, err
	}
	if len(env.Model) > 0 {
		if err := json.Unmarshal(env.Model, a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
	}
	return a, nil
}

// validate checks the training inputs: a non-empty rectangular matrix
// without NaN and one binary label per row.
func validate(x [][]float64, y []float64) (int, error) {
	if len(x) == 0 {
		return 0, domain.Validationf("cannot fit on zero rows")
	}
	if len(x) != len(y) {
		return 0, domain.Validationf("%d rows but %d labels", len(x), len(y))
	}
	width := len(x[0])
	if width == 0 {
		return 0, domain.Validationf("cannot fit on zero features")
	}
	for i, row := range x {
		if len(row) != width {
			return 0, domain.Validationf("row %d has %d features, want %d", i, len(row), width)
		}
		for _, v := range row {
			if math.IsNaN(v) {
				return 0, domain.Validationf("row %d has a missing feature", i)
			}
		}
		if y[i] != 0 && y[i] != 1 {
			return 0, domain.Validationf("label %v at row %d is not binary", y[i], i)
		}
	}
	return width, nil
}

func checkWidth(x [][]float64, width int) error {
	if width == 0 {
		return domain.Validationf("algorithm is not fitted")
	}
	for i, row := range x {
		if len(row) != width {
			return domain.Validationf("row %d has %d features, model expects %d", i, len(row), width)
		}
	}
	return nil
}

func threshold(scores []float64, t float64) []int {
	out := make([]int, len(scores))
	for i, s := range scores {
		if s > t {
			out[i] = 1
		}
	}
	return out
}

func intParam(p Params, name string, def int) (int, error) {
	v, ok := p[name]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, domain.Configurationf("parameter %s: want an integer, got %T", name, v)
}

func floatParam(p Params, name string, def float64) (float64, error) {
	v, ok := p[name]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, domain.Configurationf("parameter %s: want a number, got %T", name, v)
}

func stringParam(p Params, name, def string) (string, error) {
	v, ok := p[name]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", domain.Configurationf("parameter %s: want a string, got %T", name, v)
	}
	return s, nil
}

func checkKnown(p Params, known ...string) error {
	allowed := make(map[string]bool, len(known))
	for _, k := range known {
		allowed[k] = true
	}
	for k := range p {
		if !allowed[k] {
			return domain.Configurationf("unknown parameter %q", k)
		}
	}
	return nil
}
