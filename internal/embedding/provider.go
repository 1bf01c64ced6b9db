// Package embedding defines the sentence-embedding provider contract and its
// transports. Providers are created once per process, injected into every
// component that needs vectors and closed on shutdown.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Vector is one fixed-length sentence embedding. Treat it as immutable.
type Vector []float32

var (
	ErrEmptyInput         = errors.New("embedding: no sentences to encode")
	ErrDimensionMismatch  = errors.New("embedding: dimension mismatch")
	ErrProviderClosed     = errors.New("embedding: provider closed")
	ErrNotConnected       = errors.New("embedding: client not connected")
	ErrUnexpectedRowCount = errors.New("embedding: provider returned wrong number of vectors")
)

// Provider maps a non-empty ordered batch of sentences to one vector per
// sentence, in input order. Implementations fail fast: an unavailable
// backend is reported as an error, never retried silently.
type Provider interface {
	Encode(ctx context.Context, sentences []string) ([]Vector, error)
	Dim() int
	Close() error
}

// checkVectors validates a provider response against the request.
func checkVectors(vecs []Vector, want, dim int) error {
	if len(vecs) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrUnexpectedRowCount, len(vecs), want)
	}
	for i, v := range vecs {
		if len(v) != dim {
			return fmt.Errorf("%w: row %d has %d values, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return nil
}

// ToFloat64 widens a vector for the float64 numeric code.
func (v Vector) ToFloat64() []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// Add accumulates o into v elementwise.
func (v Vector) Add(o Vector) {
	for i := range v {
		v[i] += o[i]
	}
}
