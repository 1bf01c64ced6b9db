package main

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/23skdu/bert-ruber/internal/dataset"
	"github.com/23skdu/bert-ruber/internal/extract"
	"github.com/23skdu/bert-ruber/internal/logger"
	"github.com/23skdu/bert-ruber/internal/stats"
)

// runCalculate averages the unreferenced and RUBER correlations of a
// results file.
func runCalculate(cmd *cobra.Command) error {
	path := resultsPath
	if path == "" {
		path = filepath.Join(cfg.DatasetDir(), "result.txt")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	summary, err := stats.ParseResults(f)
	if err != nil {
		return err
	}
	logger.Log.Debug("results parsed", "path", path, "runs", summary.Runs)
	return summary.Write(cmd.OutOrStdout())
}

// runProcess extracts embeddings for every split of the dataset.
func runProcess(cmd *cobra.Command) error {
	ctx := cmd.Context()
	_, stopMonitor := startMonitor(uuid.NewString())
	defer stopMonitor()

	p, err := openProvider(ctx)
	if err != nil {
		return err
	}
	defer closeProvider(p)

	opts := extract.Options{
		BatchSize: cfg.Extract.BatchSize,
		MultiTurn: cfg.Extract.MultiTurn,
		Delimiter: cfg.Extract.Delimiter,
		MaxTurns:  cfg.Extract.MaxTurns,
		Progress:  cmd.ErrOrStderr(),
	}
	results, err := extract.NewJob(p, dataset.Layout{Dir: cfg.DatasetDir()}, opts).Run(ctx)
	if err != nil {
		return err
	}
	total := 0
	for _, r := range results {
		total += r.Rows
	}
	logger.Log.Info("extraction finished", "files", len(results), "rows", total)
	return nil
}
