package ruber

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var ErrUnsupportedDevice = errors.New("unsupported compute device")

// Device names where the model runs. Only the CPU backend exists.
type Device string

const DeviceCPU Device = "cpu"

func ParseDevice(s string) (Device, error) {
	if Device(s) == DeviceCPU {
		return DeviceCPU, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnsupportedDevice, s)
}

type ModelConfig struct {
	EmbeddingDim int
	HiddenDim    int
	Device       Device
	Seed         int64
}

func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		EmbeddingDim: 768,
		HiddenDim:    256,
		Device:       DeviceCPU,
		Seed:         1,
	}
}

func (c ModelConfig) Validate() error {
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("invalid embedding dim %d", c.EmbeddingDim)
	}
	if c.HiddenDim <= 0 {
		return fmt.Errorf("invalid hidden dim %d", c.HiddenDim)
	}
	if _, err := ParseDevice(string(c.Device)); err != nil {
		return err
	}
	return nil
}

// Model is the unreferenced scorer:
//
//	s     = qᵀ M r
//	h     = tanh(W1 [q; s; r] + b1)
//	score = sigmoid(w2 · h + b2)
type Model struct {
	cfg ModelConfig

	bilinear *mat.Dense    // D × D
	w1       *mat.Dense    // H × (2D+1)
	b1       *mat.VecDense // H
	w2       *mat.VecDense // H
	b2       []float64     // 1
}

// NewModel builds a model with seeded uniform initialisation scaled by
// 1/sqrt(fan_in).
func NewModel(cfg ModelConfig) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d, h := cfg.EmbeddingDim, cfg.HiddenDim
	rng := rand.New(rand.NewSource(cfg.Seed))
	uniform := func(n, fanIn int) []float64 {
		bound := 1 / math.Sqrt(float64(fanIn))
		out := make([]float64, n)
		for i := range out {
			out[i] = (2*rng.Float64() - 1) * bound
		}
		return out
	}

	return &Model{
		cfg:      cfg,
		bilinear: mat.NewDense(d, d, uniform(d*d, d)),
		w1:       mat.NewDense(h, 2*d+1, uniform(h*(2*d+1), 2*d+1)),
		b1:       mat.NewVecDense(h, uniform(h, 2*d+1)),
		w2:       mat.NewVecDense(h, uniform(h, h)),
		b2:       uniform(1, h),
	}, nil
}

func (m *Model) Config() ModelConfig { return m.cfg }

// params lists the parameter storage in a fixed order shared with
// gradients.
func (m *Model) params() [][]float64 {
	return [][]float64{
		m.bilinear.RawMatrix().Data,
		m.w1.RawMatrix().Data,
		m.b1.RawVector().Data,
		m.w2.RawVector().Data,
		m.b2,
	}
}

// NumParams is the total number of trainable scalars.
func (m *Model) NumParams() int {
	n := 0
	for _, p := range m.params() {
		n += len(p)
	}
	return n
}

type forwardCache struct {
	q, r   *mat.Dense
	x      *mat.Dense // n × (2D+1)
	h      *mat.Dense // n × H
	logits []float64
	probs  []float64
}

func (m *Model) forward(q, r *mat.Dense) *forwardCache {
	n, d := q.Dims()

	var qm mat.Dense
	qm.Mul(q, m.bilinear)

	x := mat.NewDense(n, 2*d+1, nil)
	for i := 0; i < n; i++ {
		row := x.RawRowView(i)
		copy(row[:d], q.RawRowView(i))
		row[d] = floats.Dot(qm.RawRowView(i), r.RawRowView(i))
		copy(row[d+1:], r.RawRowView(i))
	}

	h := mat.NewDense(n, m.cfg.HiddenDim, nil)
	h.Mul(x, m.w1.T())
	b1 := m.b1.RawVector().Data
	w2 := m.w2.RawVector().Data

	c := &forwardCache{q: q, r: r, x: x, h: h, logits: make([]float64, n), probs: make([]float64, n)}
	for i := 0; i < n; i++ {
		row := h.RawRowView(i)
		floats.Add(row, b1)
		for j, v := range row {
			row[j] = math.Tanh(v)
		}
		c.logits[i] = floats.Dot(row, w2) + m.b2[0]
		c.probs[i] = sigmoid(c.logits[i])
	}
	return c
}

// Forward scores one (query, reply) embedding pair in [0, 1].
func (m *Model) Forward(q, r []float64) float64 {
	return m.Predict([][]float64{q}, [][]float64{r})[0]
}

// Predict scores aligned query/reply rows.
func (m *Model) Predict(queries, replies [][]float64) []float64 {
	if len(queries) == 0 {
		return nil
	}
	d := m.cfg.EmbeddingDim
	return m.forward(toDense(queries, d), toDense(replies, d)).probs
}

type gradients struct {
	bilinear *mat.Dense
	w1       *mat.Dense
	b1       []float64
	w2       []float64
	b2       []float64
}

func (g *gradients) slices() [][]float64 {
	return [][]float64{g.bilinear.RawMatrix().Data, g.w1.RawMatrix().Data, g.b1, g.w2, g.b2}
}

// backward returns the mean binary cross-entropy and its gradients.
func (m *Model) backward(c *forwardCache, labels []float64) (float64, *gradients) {
	n := len(labels)
	d, hd := m.cfg.EmbeddingDim, m.cfg.HiddenDim
	w2 := m.w2.RawVector().Data
	w1s := mat.Col(nil, d, m.w1)

	g := &gradients{
		w1: mat.NewDense(hd, 2*d+1, nil),
		b1: make([]float64, hd),
		w2: make([]float64, hd),
		b2: make([]float64, 1),
	}

	var loss float64
	dz := mat.NewDense(n, hd, nil)
	ds := make([]float64, n)
	for i := 0; i < n; i++ {
		loss += bceWithLogits(c.logits[i], labels[i])

		dlogit := (c.probs[i] - labels[i]) / float64(n)
		hrow := c.h.RawRowView(i)
		floats.AddScaled(g.w2, dlogit, hrow)
		g.b2[0] += dlogit

		zrow := dz.RawRowView(i)
		for j, hv := range hrow {
			zrow[j] = dlogit * w2[j] * (1 - hv*hv)
		}
		floats.Add(g.b1, zrow)
		ds[i] = floats.Dot(zrow, w1s)
	}

	g.w1.Mul(dz.T(), c.x)

	// dL/dM = Σ ds_i q_i r_iᵀ = Qᵀ diag(ds) R
	scaled := mat.DenseCopyOf(c.r)
	for i := 0; i < n; i++ {
		floats.Scale(ds[i], scaled.RawRowView(i))
	}
	g.bilinear = mat.NewDense(d, d, nil)
	g.bilinear.Mul(c.q.T(), scaled)

	return loss / float64(n), g
}

// StepResult summarises one optimisation or evaluation step.
type StepResult struct {
	Loss     float64
	Correct  int
	Size     int
	GradNorm float64
	Clipped  bool
}

// TrainStep runs loss, backprop, global-norm clipping and one optimizer
// step on a non-empty batch.
func (m *Model) TrainStep(b Batch, opt *Adam, maxNorm float64) StepResult {
	d := m.cfg.EmbeddingDim
	c := m.forward(toDense(b.Queries, d), toDense(b.Replies, d))
	loss, g := m.backward(c, b.Labels)

	grads := g.slices()
	norm, clipped := ClipGradNorm(grads, maxNorm)
	opt.Step(m.params(), grads)

	return StepResult{
		Loss:     loss,
		Correct:  countCorrect(c.probs, b.Labels),
		Size:     b.Len(),
		GradNorm: norm,
		Clipped:  clipped,
	}
}

// Evaluate computes loss and accuracy on a batch without updating weights.
func (m *Model) Evaluate(b Batch) StepResult {
	if b.Len() == 0 {
		return StepResult{}
	}
	d := m.cfg.EmbeddingDim
	c := m.forward(toDense(b.Queries, d), toDense(b.Replies, d))
	var loss float64
	for i, l := range c.logits {
		loss += bceWithLogits(l, b.Labels[i])
	}
	return StepResult{
		Loss:    loss / float64(b.Len()),
		Correct: countCorrect(c.probs, b.Labels),
		Size:    b.Len(),
	}
}

func countCorrect(probs, labels []float64) int {
	n := 0
	for i, p := range probs {
		pred := 0.0
		if p > 0.5 {
			pred = 1
		}
		if pred == labels[i] {
			n++
		}
	}
	return n
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// bceWithLogits is -(y log σ(z) + (1-y) log(1-σ(z))) in a form that does
// not overflow for large |z|.
func bceWithLogits(z, y float64) float64 {
	return math.Max(z, 0) - z*y + math.Log1p(math.Exp(-math.Abs(z)))
}

func toDense(rows [][]float64, cols int) *mat.Dense {
	out := mat.NewDense(len(rows), cols, nil)
	for i, r := range rows {
		out.SetRow(i, r)
	}
	return out
}
