package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/23skdu/bert-ruber/internal/config"
	"github.com/23skdu/bert-ruber/internal/embedding"
	"github.com/23skdu/bert-ruber/internal/logger"
	"github.com/23skdu/bert-ruber/internal/monitoring"
)

const (
	modeCalculate = "calculate"
	modeProcess   = "process"
)

var (
	cfg *config.Config

	cfgFile     string
	logLevel    string
	logFormat   string
	metricsAddr string
	datasetName string
	mode        string
	resultsPath string
)

var rootCmd = &cobra.Command{
	Use:   "ruber",
	Short: "ruber scores dialogue replies with the BERT-RUBER metric",
	Long: `ruber trains and applies the BERT-RUBER metric.

  ruber --mode process --dataset xiaohuangji     embed every split
  ruber train --dataset xiaohuangji               train the unreferenced model
  ruber evaluate --context ... --reply ...        correlate metrics with humans
  ruber --mode calculate --dataset xiaohuangji    average a results file`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch mode {
		case modeCalculate:
			return runCalculate(cmd)
		case modeProcess:
			return runProcess(cmd)
		case "":
			return cmd.Help()
		default:
			return fmt.Errorf("unknown mode %q (must be %s or %s)", mode, modeCalculate, modeProcess)
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&logFormat, "log-format", "", "log format: console or json")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "address serving /metrics, /healthz and /status (empty disables)")
	pf.StringVar(&datasetName, "dataset", "", "dataset directory name under data_dir")

	rootCmd.Flags().StringVar(&mode, "mode", "", "calculate or process")
	rootCmd.Flags().StringVar(&resultsPath, "results", "", "results file for calculate mode (default <dataset>/result.txt)")

	rootCmd.AddCommand(trainCmd, evaluateCmd, serveCmd)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		logger.Log.Err(err, "ruber failed")
		os.Exit(1)
	}
}

// setup loads the configuration, applies flag overrides and configures
// logging for every command.
func setup(cmd *cobra.Command, args []string) error {
	c, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		c.Log.Format = logFormat
	}
	if flags.Changed("metrics-addr") {
		c.MetricsAddr = metricsAddr
	}
	if flags.Changed("dataset") {
		c.Dataset = datasetName
	}
	logger.Setup(c.Log.Level, c.Log.Format)
	if err := c.Validate(); err != nil {
		return err
	}
	cfg = c
	return nil
}

func checkpointDir() string {
	return filepath.Join(cfg.CheckpointDir, cfg.Dataset)
}

// startMonitor creates the run monitor and serves it when an address is
// configured. The returned stop function is always safe to call.
func startMonitor(runID string) (*monitoring.Monitor, func()) {
	mon := monitoring.NewMonitor(runID)
	if cfg.MetricsAddr == "" {
		return mon, func() {}
	}
	mon.Start(cfg.MetricsAddr)
	return mon, func() {
		if err := mon.Stop(context.Background()); err != nil {
			logger.Log.Err(err, "metrics server shutdown")
		}
	}
}

// openProvider connects the configured embedding provider. The caller
// closes it.
func openProvider(ctx context.Context) (embedding.Provider, error) {
	p, err := embedding.New(ctx, cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	return p, nil
}

func closeProvider(p embedding.Provider) {
	if err := p.Close(); err != nil {
		logger.Log.Err(err, "close embedding provider")
	}
}
