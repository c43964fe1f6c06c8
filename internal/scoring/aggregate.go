// Package scoring folds per-criterion scores and weights into a single
// comparable project score.
package scoring

import "math"

// Entry is one criterion's contribution to a project score. Callers that
// build entries from criteria without a computed weight substitute 1, so
// "no weights yet" never reads as "zero importance".
type Entry struct {
	CriterionID string
	Raw         float64
	Weight      float64
	Inverse     bool
	ScaleMin    float64
	ScaleMax    float64
}

// Options controls the output scaling of Aggregate.
type Options struct {
	ScaleMin  float64
	ScaleMax  float64
	Precision int
}

// DefaultOptions maps the aggregate onto 0..5 rounded to two decimals.
func DefaultOptions() Options {
	return Options{ScaleMin: 0, ScaleMax: 5, Precision: 2}
}

// Aggregate normalizes each raw score into [0,1] on its criterion scale,
// inverts it when a lower raw value is better, weights it, and returns the
// weighted mean mapped linearly onto [ScaleMin, ScaleMax].
//
// Deterministic and total: an empty entry list, or one whose weights sum to
// zero, yields the scale minimum rather than an error.
func Aggregate(entries []Entry, opts Options) float64 {
	if opts == (Options{}) {
		opts = DefaultOptions()
	}

	var weightedSum, weightTotal float64
	for _, e := range entries {
		normalized := 0.0
		if span := e.ScaleMax - e.ScaleMin; span != 0 {
			normalized = (e.Raw - e.ScaleMin) / span
		}
		if e.Inverse {
			normalized = 1 - normalized
		}
		weightedSum += normalized * e.Weight
		weightTotal += e.Weight
	}

	result := 0.0
	if weightTotal != 0 {
		result = weightedSum / weightTotal
	}

	scaled := opts.ScaleMin + result*(opts.ScaleMax-opts.ScaleMin)
	return round(scaled, opts.Precision)
}

func round(value float64, precision int) float64 {
	factor := math.Pow(10, float64(precision))
	return math.Round(value*factor) / factor
}
