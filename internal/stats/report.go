package stats

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/23skdu/bert-ruber/internal/metrics"
)

// Precision is the number of decimals printed in reports.
const Precision = 5

// Round rounds x to Precision decimals.
func Round(x float64) float64 {
	p := math.Pow(10, Precision)
	return math.Round(x*p) / p
}

// FormatFloat prints x rounded to Precision decimals in the shortest form,
// always with a decimal point ("1.0", "0.12346", "nan").
func FormatFloat(x float64) string {
	if math.IsNaN(x) {
		return "nan"
	}
	s := strconv.FormatFloat(Round(x), 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Show prints the correlation block of one metric against human scores and
// returns the computed values.
func Show(w io.Writer, method string, human, scores []float64) (Correlation, error) {
	c, err := Correlate(human, scores)
	if err != nil {
		return c, fmt.Errorf("%s: %w", method, err)
	}
	metrics.RecordCorrelation(method, c.Pearson, c.Spearman)

	banner := fmt.Sprintf("========== Method %s result ==========", method)
	_, err = fmt.Fprintf(w, "%s\nPearson(p-value): %s(%s)\nSpearman(p-value): %s(%s)\n%s\n",
		banner,
		FormatFloat(c.Pearson), FormatFloat(c.PearsonP),
		FormatFloat(c.Spearman), FormatFloat(c.SpearmanP),
		banner)
	return c, err
}
