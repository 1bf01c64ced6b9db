package ruber

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Adam is the Adam optimizer with optional L2 weight decay added to the
// gradient.
type Adam struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	t    int
	m, v [][]float64
}

func NewAdam(lr, weightDecay float64) *Adam {
	return &Adam{LR: lr, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8, WeightDecay: weightDecay}
}

// Step updates params in place. params and grads must keep the same
// layout across calls.
func (a *Adam) Step(params, grads [][]float64) {
	if a.m == nil {
		a.m = make([][]float64, len(params))
		a.v = make([][]float64, len(params))
		for i, p := range params {
			a.m[i] = make([]float64, len(p))
			a.v[i] = make([]float64, len(p))
		}
	}
	a.t++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.t))

	for i, p := range params {
		g, m, v := grads[i], a.m[i], a.v[i]
		for j := range p {
			gj := g[j] + a.WeightDecay*p[j]
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*gj
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*gj*gj
			p[j] -= a.LR * (m[j] / bc1) / (math.Sqrt(v[j]/bc2) + a.Eps)
		}
	}
}

// Steps reports how many updates have been applied.
func (a *Adam) Steps() int { return a.t }

// ClipGradNorm rescales grads so their global L2 norm is at most maxNorm.
// It returns the norm before clipping.
func ClipGradNorm(grads [][]float64, maxNorm float64) (float64, bool) {
	var sq float64
	for _, g := range grads {
		sq += floats.Dot(g, g)
	}
	norm := math.Sqrt(sq)
	if maxNorm <= 0 || norm <= maxNorm {
		return norm, false
	}
	scale := maxNorm / (norm + 1e-6)
	for _, g := range grads {
		floats.Scale(scale, g)
	}
	return norm, true
}
