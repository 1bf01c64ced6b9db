package ruber

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}
}

func TestSelectBestPolicies(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "model_0.80_loss_0.5_epoch_3.pt", "model_0.90_loss_0.4_epoch_1.pt")

	best, err := SelectBest(dir, ByAccuracy)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "model_0.90_loss_0.4_epoch_1.pt"), best.Path)
	assert.Equal(t, 0.9, best.Accuracy)

	best, err = SelectBest(dir, ByEpoch)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "model_0.80_loss_0.5_epoch_3.pt"), best.Path)
	assert.Equal(t, 3, best.Epoch)
}

func TestSelectBestSkipsMalformedNames(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir,
		"README.md",
		"model_best.pt",
		"model_x_loss_0.1_epoch_9.pt",
		"model_0.99_loss_0.1_epoch_x.pt",
		"my_model_0.99_loss_0.1_epoch_9.pt",
		"model_0.50_loss_0.7_epoch_2.gguf",
	)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "model_0.99_loss_0.1_epoch_9"), 0o755))

	for _, p := range []Policy{ByAccuracy, ByEpoch} {
		best, err := SelectBest(dir, p)
		require.NoError(t, err, p.Name())
		assert.Equal(t, "model_0.50_loss_0.7_epoch_2.gguf", filepath.Base(best.Path), p.Name())
	}
}

func TestSelectBestNoSavedModel(t *testing.T) {
	dir := t.TempDir()
	_, err := SelectBest(dir, ByAccuracy)
	assert.ErrorIs(t, err, ErrNoSavedModel)

	touch(t, dir, "notes.txt")
	_, err = SelectBest(dir, ByEpoch)
	assert.ErrorIs(t, err, ErrNoSavedModel)

	_, err = SelectBest(filepath.Join(dir, "missing"), ByEpoch)
	assert.ErrorIs(t, err, ErrNoSavedModel)
}

func TestCheckpointName(t *testing.T) {
	name := CheckpointName(0.8125, 0.43219, 12)
	assert.Equal(t, "model_0.8125_loss_0.4322_epoch_12.gguf", name)

	info, err := ParseCheckpointName(name)
	require.NoError(t, err)
	assert.Equal(t, 0.8125, info.Accuracy)
	assert.Equal(t, 0.4322, info.Loss)
	assert.Equal(t, 12, info.Epoch)

	_, err = ParseCheckpointName("model_0.8_loss_0.4_epoch.pt")
	assert.Error(t, err)
}

func TestPolicyFor(t *testing.T) {
	p, err := PolicyFor("accuracy")
	require.NoError(t, err)
	assert.Equal(t, ByAccuracy, p)

	p, err = PolicyFor("epoch")
	require.NoError(t, err)
	assert.Equal(t, ByEpoch, p)

	_, err = PolicyFor("latest")
	assert.Error(t, err)
}

func TestSaveLoadCheckpoint(t *testing.T) {
	dir := t.TempDir()
	m := tinyModel(t, 5, 3)

	path, err := SaveCheckpoint(dir, m, 0.75, 0.5, 4, "run-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "model_0.7500_loss_0.5000_epoch_4.gguf"), path)

	loaded, err := LoadCheckpoint(path, DeviceCPU)
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.Config().EmbeddingDim)
	assert.Equal(t, 3, loaded.Config().HiddenDim)

	q := []float64{0.1, -0.4, 1.2, 0.3, -0.8}
	r := []float64{0.9, 0.2, -0.1, 0.0, 0.5}
	assert.InDelta(t, m.Forward(q, r), loaded.Forward(q, r), 1e-5)

	_, err = LoadCheckpoint(path, Device("tpu"))
	assert.ErrorIs(t, err, ErrUnsupportedDevice)
}

func TestLoadBest(t *testing.T) {
	dir := t.TempDir()
	m := tinyModel(t, 4, 2)
	_, err := SaveCheckpoint(dir, m, 0.6, 0.7, 1, "run")
	require.NoError(t, err)
	_, err = SaveCheckpoint(dir, m, 0.9, 0.3, 2, "run")
	require.NoError(t, err)

	loaded, info, err := LoadBest(dir, ByAccuracy, DeviceCPU)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Epoch)
	assert.NotNil(t, loaded)

	_, _, err = LoadBest(t.TempDir(), ByAccuracy, DeviceCPU)
	assert.ErrorIs(t, err, ErrNoSavedModel)
}

func TestLoadCheckpointRejectsNonFiniteWeights(t *testing.T) {
	dir := t.TempDir()
	m := tinyModel(t, 3, 2)
	m.b2[0] = math.NaN()

	path, err := SaveCheckpoint(dir, m, 0.5, 0.5, 1, "run")
	require.NoError(t, err)

	_, err = LoadCheckpoint(path, DeviceCPU)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-finite")
}

func TestLoadCheckpointRejectsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model_0.9_loss_0.1_epoch_1.pt")
	require.NoError(t, os.WriteFile(path, []byte("PK\x03\x04 torch zip"), 0o644))

	_, err := LoadCheckpoint(path, DeviceCPU)
	assert.Error(t, err)
}
