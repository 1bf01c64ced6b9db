// Package ruber implements the RUBER dialogue-response metric: a referenced
// score from embedding cosine similarity, an unreferenced score from a
// trained query/reply model, and their min/max hybrid.
package ruber

import (
	"context"
	"fmt"
	"io"

	"github.com/schollz/progressbar/v2"

	"github.com/23skdu/bert-ruber/internal/embedding"
	"github.com/23skdu/bert-ruber/internal/metrics"
)

// ScoreRecord holds the scores of one evaluated example.
type ScoreRecord struct {
	Referenced   float64
	Unreferenced float64
	Hybrid       float64
}

// Result holds per-example scores of an evaluation run. Referenced and
// Unreferenced are min-max normalized over the run.
type Result struct {
	Referenced   []float64
	Unreferenced []float64
	Hybrid       []float64
}

func (r *Result) Records() []ScoreRecord {
	out := make([]ScoreRecord, len(r.Hybrid))
	for i := range out {
		out[i] = ScoreRecord{Referenced: r.Referenced[i], Unreferenced: r.Unreferenced[i], Hybrid: r.Hybrid[i]}
	}
	return out
}

// Options tunes how RUBER embeds its inputs.
type Options struct {
	// BatchSize is the number of examples embedded per provider round.
	BatchSize int
	// MultiTurn splits contexts on Delimiter, keeps the last MaxTurns
	// segments and sums their embeddings.
	MultiTurn bool
	Delimiter string
	MaxTurns  int
	// Progress receives a progress bar when non-nil.
	Progress io.Writer
}

func DefaultOptions() Options {
	return Options{
		BatchSize: 128,
		Delimiter: embedding.DefaultTurnDelimiter,
		MaxTurns:  embedding.DefaultMaxTurns,
	}
}

// RUBER scores generated replies against queries and references. The
// provider is owned by the caller.
type RUBER struct {
	provider embedding.Provider
	model    *Model
	refer    *ReferencedScorer
	opts     Options
}

func New(p embedding.Provider, m *Model, opts Options) (*RUBER, error) {
	if p.Dim() != m.cfg.EmbeddingDim {
		return nil, fmt.Errorf("%w: provider has %d dims, model expects %d",
			embedding.ErrDimensionMismatch, p.Dim(), m.cfg.EmbeddingDim)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	return &RUBER{provider: p, model: m, refer: NewReferencedScorer(p), opts: opts}, nil
}

// Score returns the raw unreferenced and referenced scores of one example.
func (r *RUBER) Score(ctx context.Context, query, groundtruth, reply string) (float64, float64, error) {
	unrefer, refer, err := r.scoreChunk(ctx, []string{query}, []string{groundtruth}, []string{reply})
	if err != nil {
		return 0, 0, err
	}
	return unrefer[0], refer[0], nil
}

// Scores evaluates aligned contexts, ground truths and replies. Whitespace
// is removed first and empty texts become "<unk>". Both score lists are
// normalized over the whole run before hybridization.
func (r *RUBER) Scores(ctx context.Context, contexts, groundtruths, replies []string, method Method) (*Result, error) {
	n := len(contexts)
	if len(groundtruths) != n || len(replies) != n {
		return nil, fmt.Errorf("scores: %d contexts, %d ground truths, %d replies", n, len(groundtruths), len(replies))
	}
	if _, err := ParseMethod(string(method)); err != nil {
		return nil, err
	}

	var bar *progressbar.ProgressBar
	if r.opts.Progress != nil {
		bar = progressbar.NewOptions(n,
			progressbar.OptionSetWriter(r.opts.Progress),
			progressbar.OptionSetDescription("scoring"))
	}

	refer := make([]float64, 0, n)
	unrefer := make([]float64, 0, n)
	for start := 0; start < n; start += r.opts.BatchSize {
		end := min(start+r.opts.BatchSize, n)
		u, s, err := r.scoreChunk(ctx, contexts[start:end], groundtruths[start:end], replies[start:end])
		if err != nil {
			return nil, err
		}
		unrefer = append(unrefer, u...)
		refer = append(refer, s...)
		metrics.RecordScored(end - start)
		if bar != nil {
			_ = bar.Add(end - start)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	res := &Result{}
	var err error
	if res.Referenced, err = Normalize(refer); err != nil {
		return nil, fmt.Errorf("referenced scores: %w", err)
	}
	if res.Unreferenced, err = Normalize(unrefer); err != nil {
		return nil, fmt.Errorf("unreferenced scores: %w", err)
	}
	if res.Hybrid, err = Hybrid(res.Referenced, res.Unreferenced, method); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *RUBER) scoreChunk(ctx context.Context, contexts, groundtruths, replies []string) ([]float64, []float64, error) {
	queries, err := r.encodeContexts(ctx, contexts)
	if err != nil {
		return nil, nil, err
	}
	refVecs, replyVecs, err := r.refer.encodePairs(ctx, groundtruths, replies)
	if err != nil {
		return nil, nil, err
	}
	refer := cosines(refVecs, replyVecs)

	q := make([][]float64, len(queries))
	rv := make([][]float64, len(replyVecs))
	for i := range queries {
		q[i] = queries[i].ToFloat64()
		rv[i] = replyVecs[i].ToFloat64()
	}
	return r.model.Predict(q, rv), refer, nil
}

func (r *RUBER) encodeContexts(ctx context.Context, contexts []string) ([]embedding.Vector, error) {
	if !r.opts.MultiTurn {
		vecs, err := r.provider.Encode(ctx, embedding.CleanAll(contexts))
		if err != nil {
			return nil, fmt.Errorf("encode contexts: %w", err)
		}
		return vecs, nil
	}
	turns := make([][]string, len(contexts))
	for i, c := range contexts {
		turns[i] = embedding.CleanAll(embedding.SplitTurns(c, r.opts.Delimiter, r.opts.MaxTurns))
	}
	vecs, err := embedding.EncodeSegments(ctx, r.provider, turns)
	if err != nil {
		return nil, fmt.Errorf("encode contexts: %w", err)
	}
	return vecs, nil
}
