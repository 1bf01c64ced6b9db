package ruber

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

var (
	ErrConstantScores    = errors.New("cannot normalize: all scores are equal")
	ErrUnsupportedMethod = errors.New("unsupported hybridization method")
)

// Method selects how referenced and unreferenced scores are combined.
type Method string

const (
	MethodMin Method = "Min"
	MethodMax Method = "Max"
)

func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodMin, MethodMax:
		return m, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnsupportedMethod, s)
}

// Normalize min-max scales scores onto [0, 1] over the whole sequence.
// Constant input has no scale and is rejected with ErrConstantScores.
func Normalize(scores []float64) ([]float64, error) {
	if len(scores) == 0 {
		return nil, errors.New("cannot normalize an empty score list")
	}
	lo, hi := floats.Min(scores), floats.Max(scores)
	diff := hi - lo
	if diff == 0 {
		return nil, fmt.Errorf("%w (%g)", ErrConstantScores, lo)
	}
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = (s - lo) / diff
	}
	return out, nil
}

// Hybrid combines two normalized score lists elementwise.
func Hybrid(refer, unrefer []float64, method Method) ([]float64, error) {
	if len(refer) != len(unrefer) {
		return nil, fmt.Errorf("hybrid: %d referenced scores, %d unreferenced", len(refer), len(unrefer))
	}
	var pick func(a, b float64) float64
	switch method {
	case MethodMin:
		pick = func(a, b float64) float64 { return min(a, b) }
	case MethodMax:
		pick = func(a, b float64) float64 { return max(a, b) }
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedMethod, method)
	}
	out := make([]float64, len(refer))
	for i := range refer {
		out[i] = pick(refer[i], unrefer[i])
	}
	return out, nil
}
