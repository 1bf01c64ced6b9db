package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
)

// MockProvider derives a deterministic unit vector from each sentence's
// hash. Identical sentences always get identical vectors. It backs tests and
// the "mock" provider setting for dry runs without an embedding service.
type MockProvider struct {
	dim int

	mu     sync.Mutex
	calls  int
	closed bool
	fail   error
}

func NewMockProvider(dim int) *MockProvider {
	return &MockProvider{dim: dim}
}

func (m *MockProvider) Dim() int { return m.dim }

// FailWith makes every later Encode return err (nil restores normal behaviour).
func (m *MockProvider) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Calls reports how many Encode calls reached the provider.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockProvider) Encode(ctx context.Context, sentences []string) ([]Vector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrProviderClosed
	}
	if len(sentences) == 0 {
		return nil, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.calls++
	if m.fail != nil {
		return nil, m.fail
	}

	out := make([]Vector, len(sentences))
	for i, s := range sentences {
		out[i] = mockVector(s, m.dim)
	}
	return out, nil
}

func (m *MockProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func mockVector(s string, dim int) Vector {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	v := make(Vector, dim)
	var norm float64
	for i := range v {
		x := rng.NormFloat64()
		v[i] = float32(x)
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
