// Package ahp derives normalized importance weights from pairwise comparisons
// using the Analytic Hierarchy Process.
package ahp

import "errors"

// ErrTooFewCriteria is returned when fewer than two criteria are supplied;
// weighting a single criterion is undefined.
var ErrTooFewCriteria = errors.New("ahp: at least two criteria required")

// Comparison expresses how important criterion A is relative to criterion B,
// by index into the caller's criteria slice. Value is drawn from
// {1/3, 1, 3}: B more important, equal, A more important.
type Comparison struct {
	A     int
	B     int
	Value float64
}

// ComputeWeights builds the n×n judgment matrix from the comparisons and
// returns one weight per criterion, in input order, summing to exactly 1.
//
// Pairs never compared stay at the neutral default of 1 (equally important).
// Later comparisons for the same ordered pair overwrite earlier ones. The
// reciprocal cell is always kept consistent: M[b][a] = 1/M[a][b].
//
// No consistency ratio is computed; mutually inconsistent judgments are
// accepted and still produce a weight vector.
func ComputeWeights(n int, comparisons []Comparison) ([]float64, error) {
	if n < 2 {
		return nil, ErrTooFewCriteria
	}

	matrix := buildMatrix(n, comparisons)

	// Column-normalize, then average each row into a raw weight.
	columnSums := make([]float64, n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			columnSums[j] += matrix[i][j]
		}
	}
	weights := make([]float64, n)
	var total float64
	for i := 0; i < n; i++ {
		var rowSum float64
		for j := 0; j < n; j++ {
			rowSum += matrix[i][j] / columnSums[j]
		}
		weights[i] = rowSum / float64(n)
		total += weights[i]
	}

	// Re-normalize against floating-point drift so the vector sums to 1.
	for i := range weights {
		weights[i] /= total
	}
	return weights, nil
}

func buildMatrix(n int, comparisons []Comparison) [][]float64 {
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
		for j := range matrix[i] {
			matrix[i][j] = 1
		}
	}
	for _, c := range comparisons {
		if c.A < 0 || c.A >= n || c.B < 0 || c.B >= n || c.A == c.B || c.Value <= 0 {
			continue
		}
		matrix[c.A][c.B] = c.Value
		matrix[c.B][c.A] = 1 / c.Value
	}
	return matrix
}
