package ruber

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClipGradNorm(t *testing.T) {
	grads := [][]float64{{3}, {4}}
	norm, clipped := ClipGradNorm(grads, 1)
	assert.Equal(t, 5.0, norm)
	assert.True(t, clipped)
	assert.InDelta(t, 1.0, math.Hypot(grads[0][0], grads[1][0]), 1e-6)
	assert.InDelta(t, 0.75, grads[1][0]/grads[0][0], 1e-12, "direction preserved")

	grads = [][]float64{{0.3}, {0.4}}
	norm, clipped = ClipGradNorm(grads, 1)
	assert.InDelta(t, 0.5, norm, 1e-12)
	assert.False(t, clipped)
	assert.Equal(t, 0.3, grads[0][0])
}

func TestAdamFirstStepMovesByLearningRate(t *testing.T) {
	params := [][]float64{{1, -1}, {0}}
	grads := [][]float64{{0.5, -2}, {1e-3}}

	opt := NewAdam(0.1, 0)
	opt.Step(params, grads)

	// bias correction makes the first step ≈ lr * sign(g)
	assert.InDelta(t, 0.9, params[0][0], 1e-6)
	assert.InDelta(t, -0.9, params[0][1], 1e-6)
	assert.InDelta(t, -0.1, params[1][0], 1e-4)
}

func TestAdamWeightDecay(t *testing.T) {
	params := [][]float64{{2}}
	opt := NewAdam(0.01, 0.5)
	opt.Step(params, [][]float64{{0}})
	assert.Less(t, params[0][0], 2.0, "decay pulls weights towards zero")
}
