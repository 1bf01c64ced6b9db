package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/23skdu/bert-ruber/internal/dataset"
	"github.com/23skdu/bert-ruber/internal/embedstore"
	"github.com/23skdu/bert-ruber/internal/logger"
	"github.com/23skdu/bert-ruber/internal/ruber"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the unreferenced model on extracted embeddings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrain(cmd)
	},
}

func runTrain(cmd *cobra.Command) error {
	layout := dataset.Layout{Dir: cfg.DatasetDir()}
	train, err := loadSplit(layout, dataset.SplitTrain)
	if err != nil {
		return err
	}
	dev, err := loadSplit(layout, dataset.SplitDev)
	if err != nil {
		return err
	}

	device, err := ruber.ParseDevice(cfg.Model.Device)
	if err != nil {
		return err
	}
	m, err := ruber.NewModel(ruber.ModelConfig{
		EmbeddingDim: cfg.Embedding.Dim,
		HiddenDim:    cfg.Model.HiddenDim,
		Device:       device,
		Seed:         cfg.Train.Seed,
	})
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	mon, stopMonitor := startMonitor(runID)
	defer stopMonitor()

	tc := ruber.TrainConfig{
		BatchSize:     cfg.Train.BatchSize,
		Epochs:        cfg.Train.Epochs,
		LearningRate:  cfg.Train.LearningRate,
		WeightDecay:   cfg.Train.WeightDecay,
		GradClip:      cfg.Train.GradClip,
		Seed:          cfg.Train.Seed,
		CheckpointDir: checkpointDir(),
		RunID:         runID,
	}
	trainer, err := ruber.NewTrainer(m, tc, mon)
	if err != nil {
		return err
	}

	if _, err := trainer.Train(cmd.Context(), train, dev); err != nil {
		return err
	}

	policy, err := ruber.PolicyFor(cfg.Train.CheckpointPolicy)
	if err != nil {
		return err
	}
	best, err := ruber.SelectBest(tc.CheckpointDir, policy)
	if err != nil {
		return err
	}
	logger.Log.Info("best checkpoint", "path", best.Path, "policy", policy.Name(),
		"accuracy", best.Accuracy, "loss", best.Loss, "epoch", best.Epoch)
	return nil
}

// loadSplit reads the query and reply embeddings of split.
func loadSplit(layout dataset.Layout, split string) (ruber.Split, error) {
	q, err := embedstore.Load(layout.SourceEmbeddings(split, embedstore.Ext))
	if err != nil {
		return ruber.Split{}, fmt.Errorf("%s queries: %w", split, err)
	}
	r, err := embedstore.Load(layout.TargetEmbeddings(split, embedstore.Ext))
	if err != nil {
		return ruber.Split{}, fmt.Errorf("%s replies: %w", split, err)
	}
	if len(q.Vectors) != len(r.Vectors) {
		return ruber.Split{}, fmt.Errorf("%s: %w: %d queries, %d replies",
			split, dataset.ErrLengthMismatch, len(q.Vectors), len(r.Vectors))
	}
	if q.Dim != cfg.Embedding.Dim || r.Dim != cfg.Embedding.Dim {
		return ruber.Split{}, fmt.Errorf("%s: embeddings have %d/%d dims, embedding.dim is %d",
			split, q.Dim, r.Dim, cfg.Embedding.Dim)
	}
	logger.Log.Info("split loaded", "split", split, "size", len(q.Vectors), "dim", q.Dim)
	return ruber.Split{Queries: q.Rows(), Replies: r.Rows()}, nil
}
