// Package stats correlates metric scores with human judgments and
// summarises result files.
package stats

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Correlation holds Pearson and Spearman coefficients with two-sided
// p-values.
type Correlation struct {
	Pearson   float64
	PearsonP  float64
	Spearman  float64
	SpearmanP float64
}

// Correlate computes both coefficients of x against y. Constant input has
// no defined correlation and yields NaN.
func Correlate(x, y []float64) (Correlation, error) {
	var c Correlation
	var err error
	if c.Pearson, c.PearsonP, err = Pearson(x, y); err != nil {
		return c, err
	}
	if c.Spearman, c.SpearmanP, err = Spearman(x, y); err != nil {
		return c, err
	}
	return c, nil
}

// Pearson returns the linear correlation coefficient and its p-value.
func Pearson(x, y []float64) (float64, float64, error) {
	if err := checkPair(x, y); err != nil {
		return 0, 0, err
	}
	r := clamp(stat.Correlation(x, y, nil))
	return r, pValue(r, len(x)), nil
}

// Spearman returns the rank correlation coefficient and its p-value. Ties
// share their average rank.
func Spearman(x, y []float64) (float64, float64, error) {
	if err := checkPair(x, y); err != nil {
		return 0, 0, err
	}
	r := clamp(stat.Correlation(Rank(x), Rank(y), nil))
	return r, pValue(r, len(x)), nil
}

func checkPair(x, y []float64) error {
	if len(x) != len(y) {
		return fmt.Errorf("correlation: %d vs %d observations", len(x), len(y))
	}
	if len(x) < 2 {
		return fmt.Errorf("correlation: need at least 2 observations, got %d", len(x))
	}
	return nil
}

// clamp removes rounding drift past ±1.
func clamp(r float64) float64 {
	return math.Max(-1, math.Min(1, r))
}

// pValue is the two-sided p-value of r under the null of no correlation,
// from a t distribution with n-2 degrees of freedom.
func pValue(r float64, n int) float64 {
	switch {
	case math.IsNaN(r):
		return math.NaN()
	case n <= 2:
		return 1
	case math.Abs(r) >= 1:
		return 0
	}
	df := float64(n - 2)
	t := r * math.Sqrt(df/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return 2 * dist.Survival(math.Abs(t))
}

// Rank returns 1-based ranks of xs with ties averaged.
func Rank(xs []float64) []float64 {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return xs[idx[a]] < xs[idx[b]] })

	ranks := make([]float64, len(xs))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && xs[idx[j+1]] == xs[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}
	return ranks
}
