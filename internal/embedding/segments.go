package embedding

import (
	"context"
	"fmt"
)

// EncodeSegments folds multi-turn inputs into one vector each: every segment
// of inputs[i] is encoded in a single provider call and the segment vectors
// are summed elementwise.
func EncodeSegments(ctx context.Context, p Provider, inputs [][]string) ([]Vector, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyInput
	}

	// bounds[i] is the exclusive end of input i in the flattened batch.
	bounds := make([]int, len(inputs))
	var flat []string
	for i, segs := range inputs {
		if len(segs) == 0 {
			return nil, fmt.Errorf("input %d has no segments: %w", i, ErrEmptyInput)
		}
		flat = append(flat, segs...)
		bounds[i] = len(flat)
	}

	vecs, err := p.Encode(ctx, flat)
	if err != nil {
		return nil, err
	}
	if err := checkVectors(vecs, len(flat), p.Dim()); err != nil {
		return nil, err
	}

	out := make([]Vector, len(inputs))
	start := 0
	for i, end := range bounds {
		sum := make(Vector, p.Dim())
		for _, v := range vecs[start:end] {
			sum.Add(v)
		}
		out[i] = sum
		start = end
	}
	return out, nil
}
