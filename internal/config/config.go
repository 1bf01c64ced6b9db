package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	ProviderFlight = "flight"
	ProviderHTTP   = "http"
	ProviderMock   = "mock"

	PolicyAccuracy = "accuracy"
	PolicyEpoch    = "epoch"

	EnvPrefix = "RUBER"
)

type Config struct {
	DataDir       string `mapstructure:"data_dir"`
	Dataset       string `mapstructure:"dataset"`
	CheckpointDir string `mapstructure:"checkpoint_dir"`
	MetricsAddr   string `mapstructure:"metrics_addr"`

	Log       LogConfig       `mapstructure:"log"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Model     ModelConfig     `mapstructure:"model"`
	Train     TrainConfig     `mapstructure:"train"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Eval      EvalConfig      `mapstructure:"eval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type EmbeddingConfig struct {
	Provider string        `mapstructure:"provider"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	URL      string        `mapstructure:"url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	RetryMax int           `mapstructure:"retry_max"`
	Dim      int           `mapstructure:"dim"`
	Cache    bool          `mapstructure:"cache"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type ModelConfig struct {
	HiddenDim int    `mapstructure:"hidden_dim"`
	Device    string `mapstructure:"device"`
}

type TrainConfig struct {
	BatchSize        int     `mapstructure:"batch_size"`
	Epochs           int     `mapstructure:"epochs"`
	LearningRate     float64 `mapstructure:"learning_rate"`
	WeightDecay      float64 `mapstructure:"weight_decay"`
	GradClip         float64 `mapstructure:"grad_clip"`
	Seed             int64   `mapstructure:"seed"`
	CheckpointPolicy string  `mapstructure:"checkpoint_policy"`
}

type ExtractConfig struct {
	BatchSize int    `mapstructure:"batch_size"`
	MultiTurn bool   `mapstructure:"multi_turn"`
	Delimiter string `mapstructure:"delimiter"`
	MaxTurns  int    `mapstructure:"max_turns"`
}

type EvalConfig struct {
	HybridMethod string `mapstructure:"hybrid_method"`
}

func Default() Config {
	return Config{
		DataDir:       "data",
		CheckpointDir: "ckpt",
		MetricsAddr:   ":9090",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Embedding: EmbeddingConfig{
			Provider: ProviderFlight,
			Host:     "localhost",
			Port:     3000,
			URL:      "http://localhost:8125",
			Timeout:  30 * time.Second,
			Dim:      768,
			CacheTTL: time.Hour,
		},
		Model: ModelConfig{
			HiddenDim: 256,
			Device:    "cpu",
		},
		Train: TrainConfig{
			BatchSize:        256,
			Epochs:           20,
			LearningRate:     1e-4,
			GradClip:         3.0,
			Seed:             1,
			CheckpointPolicy: PolicyAccuracy,
		},
		Extract: ExtractConfig{
			BatchSize: 128,
			MultiTurn: true,
			Delimiter: "__eou__",
			MaxTurns:  100,
		},
		Eval: EvalConfig{
			HybridMethod: "Min",
		},
	}
}

func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case ProviderFlight:
		if c.Embedding.Host == "" {
			return fmt.Errorf("invalid embedding.host: must be set for provider %q", c.Embedding.Provider)
		}
	case ProviderHTTP:
		if c.Embedding.URL == "" {
			return fmt.Errorf("invalid embedding.url: must be set for provider %q", c.Embedding.Provider)
		}
	case ProviderMock:
	default:
		return fmt.Errorf("invalid embedding.provider: %q (must be flight, http or mock)", c.Embedding.Provider)
	}
	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("invalid embedding.dim: %d (must be positive)", c.Embedding.Dim)
	}
	if c.Embedding.RetryMax < 0 {
		return fmt.Errorf("invalid embedding.retry_max: %d (must be non-negative)", c.Embedding.RetryMax)
	}
	if c.Embedding.Timeout <= 0 {
		return fmt.Errorf("invalid embedding.timeout: %s (must be positive)", c.Embedding.Timeout)
	}
	if c.Model.HiddenDim <= 0 {
		return fmt.Errorf("invalid model.hidden_dim: %d (must be positive)", c.Model.HiddenDim)
	}
	if c.Train.BatchSize <= 0 {
		return fmt.Errorf("invalid train.batch_size: %d (must be positive)", c.Train.BatchSize)
	}
	if c.Train.Epochs <= 0 {
		return fmt.Errorf("invalid train.epochs: %d (must be positive)", c.Train.Epochs)
	}
	if c.Train.LearningRate <= 0 {
		return fmt.Errorf("invalid train.learning_rate: %g (must be positive)", c.Train.LearningRate)
	}
	if c.Train.GradClip <= 0 {
		return fmt.Errorf("invalid train.grad_clip: %g (must be positive)", c.Train.GradClip)
	}
	switch c.Train.CheckpointPolicy {
	case PolicyAccuracy, PolicyEpoch:
	default:
		return fmt.Errorf("invalid train.checkpoint_policy: %q (must be accuracy or epoch)", c.Train.CheckpointPolicy)
	}
	if c.Extract.BatchSize <= 0 {
		return fmt.Errorf("invalid extract.batch_size: %d (must be positive)", c.Extract.BatchSize)
	}
	if c.Extract.MultiTurn && c.Extract.MaxTurns <= 0 {
		return fmt.Errorf("invalid extract.max_turns: %d (must be positive)", c.Extract.MaxTurns)
	}
	switch c.Eval.HybridMethod {
	case "Min", "Max":
	default:
		return fmt.Errorf("invalid eval.hybrid_method: %q (must be Min or Max)", c.Eval.HybridMethod)
	}
	return nil
}

// DatasetDir is the directory holding one dataset's split files.
func (c *Config) DatasetDir() string {
	if c.Dataset == "" {
		return c.DataDir
	}
	return filepath.Join(c.DataDir, c.Dataset)
}

// Load reads an optional YAML file, a .env file and RUBER_* environment
// variables on top of Default(). An empty path looks for ./config.yaml and
// tolerates its absence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
	}
	v.SetConfigType("yaml")

	// .env values become process env before AutomaticEnv resolves them.
	_ = godotenv.Load()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("dataset", d.Dataset)
	v.SetDefault("checkpoint_dir", d.CheckpointDir)
	v.SetDefault("metrics_addr", d.MetricsAddr)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.host", d.Embedding.Host)
	v.SetDefault("embedding.port", d.Embedding.Port)
	v.SetDefault("embedding.url", d.Embedding.URL)
	v.SetDefault("embedding.timeout", d.Embedding.Timeout)
	v.SetDefault("embedding.retry_max", d.Embedding.RetryMax)
	v.SetDefault("embedding.dim", d.Embedding.Dim)
	v.SetDefault("embedding.cache", d.Embedding.Cache)
	v.SetDefault("embedding.cache_ttl", d.Embedding.CacheTTL)

	v.SetDefault("model.hidden_dim", d.Model.HiddenDim)
	v.SetDefault("model.device", d.Model.Device)

	v.SetDefault("train.batch_size", d.Train.BatchSize)
	v.SetDefault("train.epochs", d.Train.Epochs)
	v.SetDefault("train.learning_rate", d.Train.LearningRate)
	v.SetDefault("train.weight_decay", d.Train.WeightDecay)
	v.SetDefault("train.grad_clip", d.Train.GradClip)
	v.SetDefault("train.seed", d.Train.Seed)
	v.SetDefault("train.checkpoint_policy", d.Train.CheckpointPolicy)

	v.SetDefault("extract.batch_size", d.Extract.BatchSize)
	v.SetDefault("extract.multi_turn", d.Extract.MultiTurn)
	v.SetDefault("extract.delimiter", d.Extract.Delimiter)
	v.SetDefault("extract.max_turns", d.Extract.MaxTurns)

	v.SetDefault("eval.hybrid_method", d.Eval.HybridMethod)
}
