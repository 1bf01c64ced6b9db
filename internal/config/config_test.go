package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 768, cfg.Embedding.Dim)
	assert.Equal(t, ProviderFlight, cfg.Embedding.Provider)
	assert.Equal(t, 0, cfg.Embedding.RetryMax)
	assert.Equal(t, "cpu", cfg.Model.Device)
	assert.Equal(t, 128, cfg.Extract.BatchSize)
	assert.Equal(t, "__eou__", cfg.Extract.Delimiter)
	assert.Equal(t, 100, cfg.Extract.MaxTurns)
	assert.Equal(t, "Min", cfg.Eval.HybridMethod)
	assert.Equal(t, PolicyAccuracy, cfg.Train.CheckpointPolicy)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"mock provider", func(c *Config) { c.Embedding.Provider = ProviderMock; c.Embedding.Host = "" }, ""},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "zmq" }, "embedding.provider"},
		{"flight without host", func(c *Config) { c.Embedding.Host = "" }, "embedding.host"},
		{"http without url", func(c *Config) { c.Embedding.Provider = ProviderHTTP; c.Embedding.URL = "" }, "embedding.url"},
		{"zero dim", func(c *Config) { c.Embedding.Dim = 0 }, "embedding.dim"},
		{"negative retries", func(c *Config) { c.Embedding.RetryMax = -1 }, "embedding.retry_max"},
		{"zero timeout", func(c *Config) { c.Embedding.Timeout = 0 }, "embedding.timeout"},
		{"zero hidden", func(c *Config) { c.Model.HiddenDim = 0 }, "model.hidden_dim"},
		{"zero batch", func(c *Config) { c.Train.BatchSize = 0 }, "train.batch_size"},
		{"zero epochs", func(c *Config) { c.Train.Epochs = 0 }, "train.epochs"},
		{"zero lr", func(c *Config) { c.Train.LearningRate = 0 }, "train.learning_rate"},
		{"zero clip", func(c *Config) { c.Train.GradClip = 0 }, "train.grad_clip"},
		{"bad policy", func(c *Config) { c.Train.CheckpointPolicy = "latest" }, "train.checkpoint_policy"},
		{"zero extract batch", func(c *Config) { c.Extract.BatchSize = 0 }, "extract.batch_size"},
		{"zero turns", func(c *Config) { c.Extract.MaxTurns = 0 }, "extract.max_turns"},
		{"zero turns single turn", func(c *Config) { c.Extract.MultiTurn = false; c.Extract.MaxTurns = 0 }, ""},
		{"bad hybrid", func(c *Config) { c.Eval.HybridMethod = "Mean" }, "eval.hybrid_method"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatasetDir(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "data", cfg.DatasetDir())

	cfg.Dataset = "xiaohuangji"
	assert.Equal(t, filepath.Join("data", "xiaohuangji"), cfg.DatasetDir())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ruber.yaml")
	content := `
dataset: dailydialog
embedding:
  provider: http
  url: http://bert:8125
  timeout: 5s
train:
  batch_size: 64
  checkpoint_policy: epoch
eval:
  hybrid_method: Max
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dailydialog", cfg.Dataset)
	assert.Equal(t, ProviderHTTP, cfg.Embedding.Provider)
	assert.Equal(t, "http://bert:8125", cfg.Embedding.URL)
	assert.Equal(t, 5*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, 64, cfg.Train.BatchSize)
	assert.Equal(t, PolicyEpoch, cfg.Train.CheckpointPolicy)
	assert.Equal(t, "Max", cfg.Eval.HybridMethod)
	// untouched keys keep their defaults
	assert.Equal(t, 768, cfg.Embedding.Dim)
	assert.Equal(t, 128, cfg.Extract.BatchSize)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ruber.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataset: a\n"), 0o644))

	t.Setenv("RUBER_DATASET", "b")
	t.Setenv("RUBER_TRAIN_EPOCHS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "b", cfg.Dataset)
	assert.Equal(t, 3, cfg.Train.Epochs)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Train.BatchSize, cfg.Train.BatchSize)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent to testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
