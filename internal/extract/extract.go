// Package extract precomputes sentence embeddings for every split of a
// dataset and stores them next to the text files.
package extract

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v2"

	"github.com/23skdu/bert-ruber/internal/dataset"
	"github.com/23skdu/bert-ruber/internal/embedding"
	"github.com/23skdu/bert-ruber/internal/embedstore"
	"github.com/23skdu/bert-ruber/internal/logger"
	"github.com/23skdu/bert-ruber/internal/metrics"
)

type Options struct {
	BatchSize int
	// MultiTurn treats every line as a dialogue history: it is split on
	// Delimiter, the last MaxTurns segments are kept and their vectors
	// summed. Otherwise the whole line is one sentence.
	MultiTurn bool
	Delimiter string
	MaxTurns  int
	// Progress receives one progress bar per file when non-nil.
	Progress io.Writer
}

func DefaultOptions() Options {
	return Options{
		BatchSize: 128,
		MultiTurn: true,
		Delimiter: embedding.DefaultTurnDelimiter,
		MaxTurns:  embedding.DefaultMaxTurns,
	}
}

// FileResult describes one written embedding file.
type FileResult struct {
	Input    string
	Output   string
	Rows     int
	Duration time.Duration
}

// Job embeds the src/tgt files of every split under a dataset directory.
type Job struct {
	provider embedding.Provider
	layout   dataset.Layout
	opts     Options
	log      *logger.Logger
}

func NewJob(p embedding.Provider, layout dataset.Layout, opts Options) *Job {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	return &Job{
		provider: p,
		layout:   layout,
		opts:     opts,
		log:      logger.Log.With("component", "extract", "dir", layout.Dir),
	}
}

// Run processes src and tgt of the train, dev and test splits in that
// order and stops at the first failure.
func (j *Job) Run(ctx context.Context) ([]FileResult, error) {
	var results []FileResult
	for _, split := range dataset.Splits {
		pairs := [][2]string{
			{j.layout.Source(split), j.layout.SourceEmbeddings(split, embedstore.Ext)},
			{j.layout.Target(split), j.layout.TargetEmbeddings(split, embedstore.Ext)},
		}
		for _, p := range pairs {
			res, err := j.ProcessFile(ctx, p[0], p[1])
			if err != nil {
				return results, err
			}
			results = append(results, res)
		}
	}
	return results, nil
}

// ProcessFile embeds every line of in and writes the vectors to out, one
// record batch per provider round.
func (j *Job) ProcessFile(ctx context.Context, in, out string) (FileResult, error) {
	start := time.Now()
	res := FileResult{Input: in, Output: out}

	lines, err := dataset.ReadLines(in)
	if err != nil {
		return res, err
	}
	w, err := embedstore.Create(out, j.provider.Dim(), map[string]string{embedstore.MetaSource: filepath.Base(in)})
	if err != nil {
		return res, err
	}
	defer w.Close()

	var bar *progressbar.ProgressBar
	if j.opts.Progress != nil {
		bar = progressbar.NewOptions(len(lines),
			progressbar.OptionSetWriter(j.opts.Progress),
			progressbar.OptionSetDescription(filepath.Base(in)))
	}

	j.log.Info("Extracting embeddings", "input", in, "lines", len(lines), "multi_turn", j.opts.MultiTurn)
	for lo := 0; lo < len(lines); lo += j.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		hi := min(lo+j.opts.BatchSize, len(lines))
		vecs, err := j.encode(ctx, lines[lo:hi])
		if err != nil {
			return res, fmt.Errorf("%s lines %d-%d: %w", in, lo+1, hi, err)
		}
		if err := w.Write(vecs); err != nil {
			return res, fmt.Errorf("write %s: %w", out, err)
		}
		if bar != nil {
			_ = bar.Add(hi - lo)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	if err := w.Close(); err != nil {
		return res, fmt.Errorf("close %s: %w", out, err)
	}

	res.Rows = w.Rows()
	res.Duration = time.Since(start)
	metrics.RecordExtracted(filepath.Base(out), res.Rows)
	j.log.Info("Embeddings written", "output", out, "rows", res.Rows, "duration", res.Duration)
	return res, nil
}

func (j *Job) encode(ctx context.Context, lines []string) ([]embedding.Vector, error) {
	if !j.opts.MultiTurn {
		return j.provider.Encode(ctx, embedding.CleanAll(lines))
	}
	turns := make([][]string, len(lines))
	for i, l := range lines {
		turns[i] = embedding.CleanAll(embedding.SplitTurns(l, j.opts.Delimiter, j.opts.MaxTurns))
	}
	return embedding.EncodeSegments(ctx, j.provider, turns)
}
