package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProviderDeterministic(t *testing.T) {
	ctx := context.Background()
	p := NewMockProvider(16)

	a, err := p.Encode(ctx, []string{"hello", "world", "hello"})
	require.NoError(t, err)
	require.Len(t, a, 3)
	assert.Equal(t, a[0], a[2])
	assert.NotEqual(t, a[0], a[1])

	var norm float64
	for _, x := range a[0] {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestMockProviderLifecycle(t *testing.T) {
	ctx := context.Background()
	p := NewMockProvider(4)

	_, err := p.Encode(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	require.NoError(t, p.Close())
	_, err = p.Encode(ctx, []string{"x"})
	assert.ErrorIs(t, err, ErrProviderClosed)
}

func TestMockProviderHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMockProvider(4).Encode(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}
