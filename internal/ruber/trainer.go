package ruber

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"github.com/23skdu/bert-ruber/internal/logger"
	"github.com/23skdu/bert-ruber/internal/metrics"
)

// Observer receives training progress. monitoring.Monitor implements it.
type Observer interface {
	SetStage(stage string)
	RecordBatch(loss float64)
	RecordEpoch(epoch int, loss, accuracy float64)
}

type TrainConfig struct {
	BatchSize     int
	Epochs        int
	LearningRate  float64
	WeightDecay   float64
	GradClip      float64
	Seed          int64
	CheckpointDir string
	// RunID tags logs and checkpoints; empty generates one.
	RunID string
}

// Split holds the aligned query and reply embeddings of one dataset split.
type Split struct {
	Queries [][]float64
	Replies [][]float64
}

func (s Split) Len() int { return len(s.Queries) }

// EpochResult reports one finished epoch.
type EpochResult struct {
	Epoch      int
	TrainLoss  float64
	TrainAcc   float64
	DevLoss    float64
	DevAcc     float64
	Batches    int
	Checkpoint string
}

type Trainer struct {
	model    *Model
	opt      *Adam
	cfg      TrainConfig
	rng      *rand.Rand
	runID    string
	observer Observer
	log      *logger.Logger
}

func NewTrainer(m *Model, cfg TrainConfig, observer Observer) (*Trainer, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("invalid batch size %d", cfg.BatchSize)
	}
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("invalid epoch count %d", cfg.Epochs)
	}
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Trainer{
		model:    m,
		opt:      NewAdam(cfg.LearningRate, cfg.WeightDecay),
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		runID:    runID,
		observer: observer,
		log:      logger.Log.With("run_id", runID),
	}, nil
}

func (t *Trainer) RunID() string { return t.runID }

// Train runs cfg.Epochs passes over train, evaluates on dev after each and
// saves a checkpoint named by the dev accuracy and loss.
func (t *Trainer) Train(ctx context.Context, train, dev Split) ([]EpochResult, error) {
	d := t.model.cfg.EmbeddingDim
	for _, s := range []Split{train, dev} {
		if s.Len() > 0 && len(s.Queries[0]) != d {
			return nil, fmt.Errorf("train: embeddings have %d dims, model expects %d", len(s.Queries[0]), d)
		}
	}
	t.log.Info("training started", "train_size", train.Len(), "dev_size", dev.Len(),
		"epochs", t.cfg.Epochs, "batch_size", t.cfg.BatchSize, "params", t.model.NumParams())

	results := make([]EpochResult, 0, t.cfg.Epochs)
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		res, err := t.runEpoch(ctx, epoch, train, dev)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	t.stage("done")
	return results, nil
}

func (t *Trainer) runEpoch(ctx context.Context, epoch int, train, dev Split) (EpochResult, error) {
	res := EpochResult{Epoch: epoch}

	t.stage("train")
	trainStats, batches, err := t.pass(ctx, train, "train", func(b Batch) StepResult {
		r := t.model.TrainStep(b, t.opt, t.cfg.GradClip)
		metrics.RecordGradient(r.GradNorm, r.Clipped)
		if t.observer != nil {
			t.observer.RecordBatch(r.Loss)
		}
		return r
	})
	if err != nil {
		return res, err
	}
	res.Batches = batches
	res.TrainLoss, res.TrainAcc = trainStats.mean()
	metrics.RecordEpoch(epoch, "train", res.TrainLoss, res.TrainAcc)

	t.stage("dev")
	devStats, _, err := t.pass(ctx, dev, "dev", t.model.Evaluate)
	if err != nil {
		return res, err
	}
	res.DevLoss, res.DevAcc = devStats.mean()
	metrics.RecordEpoch(epoch, "dev", res.DevLoss, res.DevAcc)
	if t.observer != nil {
		t.observer.RecordEpoch(epoch, res.DevLoss, res.DevAcc)
	}

	if t.cfg.CheckpointDir != "" {
		path, err := SaveCheckpoint(t.cfg.CheckpointDir, t.model, res.DevAcc, res.DevLoss, epoch, t.runID)
		if err != nil {
			return res, err
		}
		res.Checkpoint = path
	}

	t.log.Info("epoch finished", "epoch", epoch, "batches", batches,
		"train_loss", res.TrainLoss, "train_acc", res.TrainAcc,
		"dev_loss", res.DevLoss, "dev_acc", res.DevAcc, "checkpoint", res.Checkpoint)
	return res, nil
}

type passStats struct {
	loss    float64 // sum of per-row loss
	correct int
	rows    int
}

func (p passStats) mean() (float64, float64) {
	if p.rows == 0 {
		return 0, 0
	}
	return p.loss / float64(p.rows), float64(p.correct) / float64(p.rows)
}

// pass walks one split with a fresh iterator. Empty tail batches are
// counted but not run.
func (t *Trainer) pass(ctx context.Context, s Split, split string, step func(Batch) StepResult) (passStats, int, error) {
	var st passStats
	if s.Len() == 0 {
		return st, 0, nil
	}
	it, err := NewBatchIterator(s.Queries, s.Replies, t.cfg.BatchSize, t.rng)
	if err != nil {
		return st, 0, err
	}
	batches := 0
	for it.HasNext() {
		if err := ctx.Err(); err != nil {
			return st, batches, err
		}
		b, err := it.Next()
		if err != nil {
			return st, batches, err
		}
		batches++
		metrics.RecordBatch(split)
		if b.Len() == 0 {
			continue
		}
		r := step(b)
		st.loss += r.Loss * float64(r.Size)
		st.correct += r.Correct
		st.rows += r.Size
	}
	return st, batches, nil
}

func (t *Trainer) stage(s string) {
	if t.observer != nil {
		t.observer.SetStage(s)
	}
}
