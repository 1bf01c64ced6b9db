package ruber

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/23skdu/bert-ruber/internal/embedding"
)

// Cosine returns dot(a, b) / (|a| |b|). A zero vector on either side
// yields 0.
func Cosine(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

// ReferencedScorer rates a candidate reply by the cosine similarity of its
// embedding to the ground-truth reference embedding.
type ReferencedScorer struct {
	provider embedding.Provider
}

func NewReferencedScorer(p embedding.Provider) *ReferencedScorer {
	return &ReferencedScorer{provider: p}
}

// Score embeds both texts after Clean and returns their cosine similarity.
func (s *ReferencedScorer) Score(ctx context.Context, reference, candidate string) (float64, error) {
	scores, err := s.ScoreBatch(ctx, []string{reference}, []string{candidate})
	if err != nil {
		return 0, err
	}
	return scores[0], nil
}

// ScoreBatch scores aligned reference/candidate lists with one provider call.
func (s *ReferencedScorer) ScoreBatch(ctx context.Context, references, candidates []string) ([]float64, error) {
	refs, cands, err := s.encodePairs(ctx, references, candidates)
	if err != nil {
		return nil, err
	}
	return cosines(refs, cands), nil
}

// encodePairs embeds cleaned references and candidates in a single call.
func (s *ReferencedScorer) encodePairs(ctx context.Context, references, candidates []string) ([]embedding.Vector, []embedding.Vector, error) {
	if len(references) != len(candidates) {
		return nil, nil, fmt.Errorf("referenced score: %d references, %d candidates", len(references), len(candidates))
	}
	n := len(references)
	texts := append(embedding.CleanAll(references), embedding.CleanAll(candidates)...)
	vecs, err := s.provider.Encode(ctx, texts)
	if err != nil {
		return nil, nil, fmt.Errorf("referenced score: %w", err)
	}
	return vecs[:n], vecs[n:], nil
}

func cosines(a, b []embedding.Vector) []float64 {
	out := make([]float64, len(a))
	for i := range out {
		out[i] = Cosine(a[i].ToFloat64(), b[i].ToFloat64())
	}
	return out
}
