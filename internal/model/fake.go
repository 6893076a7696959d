package model

import "context"

// Fake ignores its training data and alternates scores 0.9 and 0.1 with
// predictions 1 and 0, starting with the first row.
type Fake struct{}

func (f *Fake) Kind() Kind { return FakeKind }

func (f *Fake) Fit(ctx context.Context, x [][]float64, y []float64) error { return nil }

func (f *Fake) Scores(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i := range out {
		out[i] = []float64{0.9, 0.1}[i%2]
	}
	return out, nil
}

func (f *Fake) Predictions(x [][]float64) ([]int, error) {
	out := make([]int, len(x))
	for i := range out {
		out[i] = 1 - i%2
	}
	return out, nil
}

func (f *Fake) Params() Params { return Params{} }

func (f *Fake) SearchSpace() []Dimension { return nil }
