package model

import (
	"math"
	"math/rand/v2"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Prior is the sampling distribution of a numeric dimension.
type Prior string

const (
	Uniform    Prior = "uniform"
	LogUniform Prior = "log-uniform"
)

// DimensionType distinguishes integer, real and categorical dimensions.
type DimensionType string

const (
	Integer     DimensionType = "integer"
	Real        DimensionType = "real"
	Categorical DimensionType = "categorical"
)

// Dimension is one hyperparameter of a search space.
type Dimension struct {
	Name       string        `json:"name"`
	Type       DimensionType `json:"type"`
	Low        float64       `json:"low,omitempty"`
	High       float64       `json:"high,omitempty"`
	Prior      Prior         `json:"prior,omitempty"`
	Categories []string      `json:"categories,omitempty"`
}

// IntegerDim declares an integer dimension over [low, high].
func IntegerDim(name string, low, high int, prior Prior) Dimension {
	return Dimension{Name: name, Type: Integer, Low: float64(low), High: float64(high), Prior: prior}
}

// RealDim declares a real dimension over [low, high].
func RealDim(name string, low, high float64, prior Prior) Dimension {
	return Dimension{Name: name, Type: Real, Low: low, High: high, Prior: prior}
}

// CategoricalDim declares a choice between categories.
func CategoricalDim(name string, categories ...string) Dimension {
	return Dimension{Name: name, Type: Categorical, Categories: categories}
}

// Validate checks bounds and priors.
func (d Dimension) Validate() error {
	switch d.Type {
	case Categorical:
		if len(d.Categories) == 0 {
			return domain.InvalidParameterf("dimension %s has no categories", d.Name)
		}
		return nil
	case Integer, Real:
	default:
		return domain.Configurationf("dimension %s: unknown type %q", d.Name, d.Type)
	}
	if d.Low > d.High {
		return domain.InvalidParameterf("dimension %s: low %v above high %v", d.Name, d.Low, d.High)
	}
	switch d.Prior {
	case Uniform, "":
	case LogUniform:
		if d.Low <= 0 {
			return domain.InvalidParameterf("dimension %s: log-uniform needs a positive low bound", d.Name)
		}
	default:
		return domain.Configurationf("dimension %s: unknown prior %q", d.Name, d.Prior)
	}
	return nil
}

// Sample draws a value: int for integer dimensions, float64 for real ones
// and string for categorical ones.
func (d Dimension) Sample(r *rand.Rand) any {
	switch d.Type {
	case Categorical:
		return d.Categories[r.IntN(len(d.Categories))]
	case Integer:
		// Widen by one so the high bound is reachable after flooring.
		v := d.draw(r, d.Low, d.High+1)
		return min(int(math.Floor(v)), int(d.High))
	}
	return d.draw(r, d.Low, d.High)
}

func (d Dimension) draw(r *rand.Rand, low, high float64) float64 {
	if d.Prior == LogUniform {
		return math.Exp(math.Log(low) + r.Float64()*(math.Log(high)-math.Log(low)))
	}
	return low + r.Float64()*(high-low)
}

// SampleParams draws one point of the space.
func SampleParams(space []Dimension, r *rand.Rand) Params {
	p := make(Params, len(space))
	for _, d := range space {
		p[d.Name] = d.Sample(r)
	}
	return p
}

// Merge returns base overridden by override.
func Merge(base, override Params) Params {
	out := make(Params, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
