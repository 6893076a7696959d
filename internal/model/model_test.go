package model

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// separable labels rows fraud when x0 > 0.6, with an irrelevant x1.
func separable(n int, seed uint64) ([][]float64, []float64) {
	r := rand.New(rand.NewPCG(seed, 1))
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = []float64{r.Float64(), r.Float64()}
		if x[i][0] > 0.6 {
			y[i] = 1
		}
	}
	return x, y
}

func accuracy(pred []int, y []float64) float64 {
	hits := 0
	for i := range pred {
		if float64(pred[i]) == y[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(pred))
}

func TestDecisionTree(t *testing.T) {
	ctx := context.Background()
	x, y := separable(400, 1)

	tree, err := NewDecisionTree(nil)
	require.NoError(t, err)
	require.NoError(t, tree.Fit(ctx, x, y))

	assert.LessOrEqual(t, tree.Depth(), 2)
	pred, err := tree.Predictions(x)
	require.NoError(t, err)
	assert.Equal(t, 1.0, accuracy(pred, y))

	scores, err := tree.Scores([][]float64{{0.9, 0.5}, {0.1, 0.5}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, scores[0])
	assert.Equal(t, 0.0, scores[1])
	assert.Equal(t, 0, tree.root.Feature)
	assert.InDelta(t, 0.6, tree.root.Threshold, 0.02)
}

func TestDecisionTreeScoresAreLeafFrequencies(t *testing.T) {
	x := [][]float64{{0}, {0}, {0}, {1}, {1}}
	y := []float64{0, 0, 1, 1, 1}
	tree, err := NewDecisionTree(Params{"max_depth": 1})
	require.NoError(t, err)
	require.NoError(t, tree.Fit(context.Background(), x, y))

	scores, err := tree.Scores([][]float64{{0}, {1}})
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3, scores[0], 1e-12)
	assert.Equal(t, 1.0, scores[1])
	assert.Equal(t, 0.5, tree.root.Threshold)
}

func TestDecisionTreeEntropyAndPureNode(t *testing.T) {
	tree, err := NewDecisionTree(Params{"criterion": "entropy", "max_depth": 5})
	require.NoError(t, err)
	x := [][]float64{{1}, {2}, {3}}
	require.NoError(t, tree.Fit(context.Background(), x, []float64{0, 0, 0}))
	assert.Equal(t, 0, tree.Depth())

	pred, err := tree.Predictions(x)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0}, pred)
}

func TestGradientBoosting(t *testing.T) {
	ctx := context.Background()
	x, y := separable(400, 2)

	gbm, err := NewGradientBoosting(nil)
	require.NoError(t, err)
	require.NoError(t, gbm.Fit(ctx, x, y))
	assert.Equal(t, 100, gbm.NumTrees())

	pred, err := gbm.Predictions(x)
	require.NoError(t, err)
	assert.Greater(t, accuracy(pred, y), 0.95)

	scores, err := gbm.Scores([][]float64{{0.95, 0.5}, {0.05, 0.5}})
	require.NoError(t, err)
	assert.Greater(t, scores[0], scores[1])
	for _, s := range scores {
		assert.True(t, s > 0 && s < 1)
	}
}

func TestGradientBoostingSeededSubsamplingIsDeterministic(t *testing.T) {
	ctx := context.Background()
	x, y := separable(200, 3)
	params := Params{"bagging_fraction": 0.7, "feature_fraction": 0.5, "num_iterations": 20, "seed": 7}

	a, err := NewGradientBoosting(params)
	require.NoError(t, err)
	b, err := NewGradientBoosting(params)
	require.NoError(t, err)
	require.NoError(t, a.Fit(ctx, x, y))
	require.NoError(t, b.Fit(ctx, x, y))

	sa, _ := a.Scores(x)
	sb, _ := b.Scores(x)
	assert.Equal(t, sa, sb)
}

func TestGradientBoostingLeafConstraints(t *testing.T) {
	x, y := separable(300, 4)
	gbm, err := NewGradientBoosting(Params{"num_iterations": 5, "max_depth": 2, "num_leaves": 3})
	require.NoError(t, err)
	require.NoError(t, gbm.Fit(context.Background(), x, y))
	for _, tree := range gbm.trees {
		assert.LessOrEqual(t, tree.depth(), 2)
		assert.LessOrEqual(t, tree.leaves(), 3)
	}
}

func TestFake(t *testing.T) {
	a, err := New("fake", nil)
	require.NoError(t, err)
	require.NoError(t, a.Fit(context.Background(), nil, nil))

	scores, _ := a.Scores(make([][]float64, 3))
	assert.Equal(t, []float64{0.9, 0.1, 0.9}, scores)
	pred, _ := a.Predictions(make([][]float64, 2))
	assert.Equal(t, []int{1, 0}, pred)
}

func TestEncodeDecode(t *testing.T) {
	ctx := context.Background()
	x, y := separable(200, 5)

	for _, kind := range []string{"decision_tree", "gradient_boosting", "fake"} {
		t.Run(kind, func(t *testing.T) {
			a, err := New(kind, nil)
			require.NoError(t, err)
			require.NoError(t, a.Fit(ctx, x, y))

			data, err := Encode(a)
			require.NoError(t, err)
			restored, err := Decode(data)
			require.NoError(t, err)

			assert.Equal(t, a.Kind(), restored.Kind())
			want, err := a.Scores(x)
			require.NoError(t, err)
			got, err := restored.Scores(x)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestFitAndPredictErrors(t *testing.T) {
	ctx := context.Background()
	tree, _ := NewDecisionTree(nil)

	t.Run("ZeroRows", func(t *testing.T) {
		assert.ErrorIs(t, tree.Fit(ctx, nil, nil), domain.ErrValidation)
	})
	t.Run("Ragged", func(t *testing.T) {
		err := tree.Fit(ctx, [][]float64{{1, 2}, {1}}, []float64{0, 1})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
	t.Run("NonBinaryLabel", func(t *testing.T) {
		err := tree.Fit(ctx, [][]float64{{1}, {2}}, []float64{0, 2})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
	t.Run("NotFitted", func(t *testing.T) {
		fresh, _ := NewGradientBoosting(nil)
		_, err := fresh.Scores([][]float64{{1}})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
	t.Run("WrongWidth", func(t *testing.T) {
		require.NoError(t, tree.Fit(ctx, [][]float64{{1, 1}, {2, 2}}, []float64{0, 1}))
		_, err := tree.Predictions([][]float64{{1}})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
	t.Run("Cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		gbm, _ := NewGradientBoosting(nil)
		x, y := separable(10, 1)
		assert.ErrorIs(t, gbm.Fit(cctx, x, y), context.Canceled)
	})
}

func TestNewRejectsBadParams(t *testing.T) {
	_, err := New("random_forest", nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = New("decision_tree", Params{"max_leaf_nodes": 3})
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = New("decision_tree", Params{"criterion": "log_loss"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = New("gradient_boosting", Params{"learning_rate": 0.0})
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	_, err = New("gradient_boosting", Params{"max_depth": "deep"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
