package ruber

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/23skdu/bert-ruber/internal/config"
	"github.com/23skdu/bert-ruber/internal/gguf"
	"github.com/23skdu/bert-ruber/internal/logger"
	"github.com/23skdu/bert-ruber/internal/metrics"
)

var ErrNoSavedModel = errors.New("no saved model")

// CheckpointExt is the extension of checkpoints written by SaveCheckpoint.
const CheckpointExt = ".gguf"

const (
	tensorBilinear = "bilinear.weight"
	tensorHidden   = "hidden.weight"
	tensorHiddenB  = "hidden.bias"
	tensorOutput   = "output.weight"
	tensorOutputB  = "output.bias"

	keyArch         = "general.architecture"
	keyName         = "general.name"
	keyEmbeddingDim = "ruber.embedding_dim"
	keyHiddenDim    = "ruber.hidden_dim"
	keyAccuracy     = "ruber.accuracy"
	keyLoss         = "ruber.loss"
	keyEpoch        = "ruber.epoch"
	keyRunID        = "ruber.run_id"

	archName = "bert-ruber"
)

var modelTensors = []string{tensorBilinear, tensorHidden, tensorHiddenB, tensorOutput, tensorOutputB}

// CheckpointInfo is what a checkpoint filename encodes.
type CheckpointInfo struct {
	Path     string
	Accuracy float64
	Loss     float64
	Epoch    int
}

// CheckpointName formats model_<acc>_loss_<loss>_epoch_<epoch>.gguf.
func CheckpointName(accuracy, loss float64, epoch int) string {
	return fmt.Sprintf("model_%.4f_loss_%.4f_epoch_%d%s", accuracy, loss, epoch, CheckpointExt)
}

// ParseCheckpointName reads the accuracy, loss and epoch fields of a
// checkpoint filename. The name must split on "_" into exactly six fields;
// the epoch field ends at its first dot, so any extension is accepted.
func ParseCheckpointName(name string) (CheckpointInfo, error) {
	parts := strings.Split(filepath.Base(name), "_")
	if len(parts) != 6 {
		return CheckpointInfo{}, fmt.Errorf("checkpoint name %q: want 6 fields, got %d", name, len(parts))
	}
	acc, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return CheckpointInfo{}, fmt.Errorf("checkpoint name %q: accuracy: %w", name, err)
	}
	loss, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return CheckpointInfo{}, fmt.Errorf("checkpoint name %q: loss: %w", name, err)
	}
	epoch, err := strconv.Atoi(strings.SplitN(parts[5], ".", 2)[0])
	if err != nil {
		return CheckpointInfo{}, fmt.Errorf("checkpoint name %q: epoch: %w", name, err)
	}
	return CheckpointInfo{Path: name, Accuracy: acc, Loss: loss, Epoch: epoch}, nil
}

// Policy decides which of two checkpoints is preferable.
type Policy interface {
	Name() string
	// Better reports whether candidate strictly beats best.
	Better(candidate, best CheckpointInfo) bool
}

type byAccuracy struct{}

func (byAccuracy) Name() string                       { return config.PolicyAccuracy }
func (byAccuracy) Better(c, best CheckpointInfo) bool { return c.Accuracy > best.Accuracy }

type byEpoch struct{}

func (byEpoch) Name() string                       { return config.PolicyEpoch }
func (byEpoch) Better(c, best CheckpointInfo) bool { return c.Epoch > best.Epoch }

var (
	// ByAccuracy keeps the checkpoint with the highest validation accuracy.
	ByAccuracy Policy = byAccuracy{}
	// ByEpoch keeps the most trained checkpoint.
	ByEpoch Policy = byEpoch{}
)

func PolicyFor(name string) (Policy, error) {
	switch name {
	case config.PolicyAccuracy:
		return ByAccuracy, nil
	case config.PolicyEpoch:
		return ByEpoch, nil
	}
	return nil, fmt.Errorf("unknown checkpoint policy %q", name)
}

// SelectBest picks the best checkpoint in dir under policy. Files whose
// names do not parse are skipped; ties keep the first name in sorted order.
func SelectBest(dir string, policy Policy) (CheckpointInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return CheckpointInfo{}, fmt.Errorf("%w in %s: %w", ErrNoSavedModel, dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return selectBest(dir, names, policy)
}

func selectBest(dir string, names []string, policy Policy) (CheckpointInfo, error) {
	sort.Strings(names)
	var best CheckpointInfo
	found := false
	for _, name := range names {
		info, err := ParseCheckpointName(name)
		if err != nil {
			continue
		}
		if !found || policy.Better(info, best) {
			best, found = info, true
		}
	}
	if !found {
		return CheckpointInfo{}, fmt.Errorf("%w in %s", ErrNoSavedModel, dir)
	}
	best.Path = filepath.Join(dir, best.Path)
	return best, nil
}

// SaveCheckpoint writes the model into dir under CheckpointName and returns
// the path.
func SaveCheckpoint(dir string, m *Model, accuracy, loss float64, epoch int, runID string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	d, h := m.cfg.EmbeddingDim, m.cfg.HiddenDim

	w := gguf.NewWriter()
	w.SetString(keyArch, archName)
	w.SetString(keyName, "unreferenced")
	w.SetUint64(keyEmbeddingDim, uint64(d))
	w.SetUint64(keyHiddenDim, uint64(h))
	w.SetFloat64(keyAccuracy, accuracy)
	w.SetFloat64(keyLoss, loss)
	w.SetUint64(keyEpoch, uint64(epoch))
	w.SetString(keyRunID, runID)

	// GGUF lists the fastest-varying dimension first.
	tensors := []struct {
		name string
		dims []uint64
		data []float64
	}{
		{tensorBilinear, []uint64{uint64(d), uint64(d)}, m.bilinear.RawMatrix().Data},
		{tensorHidden, []uint64{uint64(2*d + 1), uint64(h)}, m.w1.RawMatrix().Data},
		{tensorHiddenB, []uint64{uint64(h)}, m.b1.RawVector().Data},
		{tensorOutput, []uint64{uint64(h)}, m.w2.RawVector().Data},
		{tensorOutputB, []uint64{1}, m.b2},
	}
	for _, t := range tensors {
		if err := w.AddTensor(t.name, t.dims, toFloat32(t.data)); err != nil {
			return "", err
		}
	}

	path := filepath.Join(dir, CheckpointName(accuracy, loss, epoch))
	if err := w.WriteFile(path); err != nil {
		return "", fmt.Errorf("save checkpoint: %w", err)
	}
	metrics.RecordCheckpoint()
	return path, nil
}

// LoadCheckpoint restores a model written by SaveCheckpoint onto device.
// Weights containing NaN or Inf are rejected.
func LoadCheckpoint(path string, device Device) (*Model, error) {
	f, err := gguf.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if arch, _ := f.GetString(keyArch); arch != archName {
		return nil, fmt.Errorf("load checkpoint %s: architecture %q, want %q", path, arch, archName)
	}
	d, okD := f.GetUint64(keyEmbeddingDim)
	h, okH := f.GetUint64(keyHiddenDim)
	if !okD || !okH {
		return nil, fmt.Errorf("load checkpoint %s: missing model dimensions", path)
	}

	a := gguf.NewMetadataAnalyzer(f)
	if missing := a.FindMissingTensors(modelTensors); len(missing) > 0 {
		return nil, fmt.Errorf("load checkpoint %s: missing tensors %v", path, missing)
	}

	m, err := NewModel(ModelConfig{EmbeddingDim: int(d), HiddenDim: int(h), Device: device})
	if err != nil {
		return nil, err
	}
	targets := map[string][]float64{
		tensorBilinear: m.bilinear.RawMatrix().Data,
		tensorHidden:   m.w1.RawMatrix().Data,
		tensorHiddenB:  m.b1.RawVector().Data,
		tensorOutput:   m.w2.RawVector().Data,
		tensorOutputB:  m.b2,
	}
	for _, name := range modelTensors {
		stats, err := a.ComputeStats(name)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint %s: %w", path, err)
		}
		if stats.HasNaN || stats.HasInf {
			return nil, fmt.Errorf("load checkpoint %s: tensor %s has non-finite values", path, name)
		}
		t, _ := f.Tensor(name)
		vals, err := t.Float64s()
		if err != nil {
			return nil, fmt.Errorf("load checkpoint %s: %w", path, err)
		}
		dst := targets[name]
		if len(vals) != len(dst) {
			return nil, fmt.Errorf("load checkpoint %s: tensor %s has %d values, want %d", path, name, len(vals), len(dst))
		}
		copy(dst, vals)
	}
	return m, nil
}

// LoadBest selects the best checkpoint in dir under policy and loads it.
func LoadBest(dir string, policy Policy, device Device) (*Model, CheckpointInfo, error) {
	info, err := SelectBest(dir, policy)
	if err != nil {
		return nil, CheckpointInfo{}, err
	}
	logger.Log.Info("loading model", "path", info.Path, "policy", policy.Name(),
		"accuracy", info.Accuracy, "epoch", info.Epoch)
	m, err := LoadCheckpoint(info.Path, device)
	if err != nil {
		return nil, CheckpointInfo{}, err
	}
	return m, info, nil
}

func toFloat32(xs []float64) []float32 {
	out := make([]float32, len(xs))
	for i, x := range xs {
		out[i] = float32(x)
	}
	return out
}
