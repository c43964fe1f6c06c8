package ahp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeWeightsRejectsTooFewCriteria(t *testing.T) {
	_, err := ComputeWeights(0, nil)
	require.ErrorIs(t, err, ErrTooFewCriteria)

	_, err = ComputeWeights(1, nil)
	require.ErrorIs(t, err, ErrTooFewCriteria)
}

func TestComputeWeightsNormalized(t *testing.T) {
	comparisons := []Comparison{
		{A: 0, B: 1, Value: 3},
		{A: 1, B: 2, Value: 1.0 / 3},
		{A: 0, B: 3, Value: 1},
	}

	weights, err := ComputeWeights(4, comparisons)
	require.NoError(t, err)
	require.Len(t, weights, 4)

	var sum float64
	for _, w := range weights {
		require.Greater(t, w, 0.0)
		sum += w
	}
	require.InDelta(t, 1.0, sum, 1e-12)
}

func TestComputeWeightsTwoCriteria(t *testing.T) {
	// A three times as important as B: weights 0.75 / 0.25.
	weights, err := ComputeWeights(2, []Comparison{{A: 0, B: 1, Value: 3}})
	require.NoError(t, err)
	require.InDelta(t, 0.75, weights[0], 1e-9)
	require.InDelta(t, 0.25, weights[1], 1e-9)
}

func TestComputeWeightsNeutralDefault(t *testing.T) {
	// Only X vs Y = 1 supplied; the untouched pairs stay at the neutral
	// default, so all three criteria come out exactly equal.
	weights, err := ComputeWeights(3, []Comparison{{A: 0, B: 1, Value: 1}})
	require.NoError(t, err)
	for _, w := range weights {
		require.InDelta(t, 1.0/3, w, 1e-12)
	}
}

func TestComputeWeightsLastWriteWins(t *testing.T) {
	weights, err := ComputeWeights(2, []Comparison{
		{A: 0, B: 1, Value: 1.0 / 3},
		{A: 0, B: 1, Value: 3},
	})
	require.NoError(t, err)
	require.InDelta(t, 0.75, weights[0], 1e-9)
}

func TestBuildMatrixReciprocity(t *testing.T) {
	matrix := buildMatrix(3, []Comparison{{A: 0, B: 2, Value: 3}, {A: 2, B: 1, Value: 1.0 / 3}})

	require.Equal(t, 3.0, matrix[0][2])
	require.InDelta(t, 1.0/3, matrix[2][0], 1e-12)
	require.InDelta(t, 1.0/3, matrix[2][1], 1e-12)
	require.Equal(t, 3.0, matrix[1][2])
	for i := 0; i < 3; i++ {
		require.Equal(t, 1.0, matrix[i][i])
	}
}

func TestBuildMatrixIgnoresMalformedPairs(t *testing.T) {
	matrix := buildMatrix(2, []Comparison{
		{A: 0, B: 0, Value: 3},
		{A: 5, B: 1, Value: 3},
		{A: 0, B: 1, Value: -1},
	})
	for i := range matrix {
		for j := range matrix[i] {
			require.Equal(t, 1.0, matrix[i][j])
		}
	}
}

func TestComputeWeightsInconsistentJudgmentsStillProduceVector(t *testing.T) {
	// A>B, B>C, C>A is circular; the engine accepts it and still returns a
	// normalized vector.
	weights, err := ComputeWeights(3, []Comparison{
		{A: 0, B: 1, Value: 3},
		{A: 1, B: 2, Value: 3},
		{A: 2, B: 0, Value: 3},
	})
	require.NoError(t, err)

	var sum float64
	for _, w := range weights {
		sum += w
	}
	require.False(t, math.IsNaN(sum))
	require.InDelta(t, 1.0, sum, 1e-12)
}
