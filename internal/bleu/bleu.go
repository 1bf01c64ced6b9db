// Package bleu computes sentence-level BLEU with the "method4" smoothing of
// Chen and Cherry (2014), matching NLTK's sentence_bleu.
package bleu

import (
	"fmt"
	"math"
	"strings"
)

// MaxOrder is the largest n-gram order scored.
const MaxOrder = 4

// K is the method4 smoothing constant.
const K = 5.0

// Weights are the per-order weights of the geometric mean.
type Weights [MaxOrder]float64

// WeightsFor returns the BLEU-n weights used in evaluation reports.
func WeightsFor(n int) (Weights, error) {
	switch n {
	case 1:
		return Weights{1, 0, 0, 0}, nil
	case 2:
		return Weights{0.5, 0.5, 0, 0}, nil
	case 3:
		return Weights{0.33, 0.33, 0.33, 0}, nil
	case 4:
		return Weights{0.25, 0.25, 0.25, 0.25}, nil
	}
	return Weights{}, fmt.Errorf("unsupported BLEU order %d", n)
}

// Score tokenizes reference and candidate on whitespace and returns their
// BLEU-n.
func Score(reference, candidate string, n int) (float64, error) {
	w, err := WeightsFor(n)
	if err != nil {
		return 0, err
	}
	return Sentence([][]string{strings.Fields(reference)}, strings.Fields(candidate), w), nil
}

// Sentence scores a tokenized hypothesis against one or more tokenized
// references.
func Sentence(references [][]string, hypothesis []string, w Weights) float64 {
	hypLen := len(hypothesis)
	if hypLen == 0 || len(references) == 0 {
		return 0
	}

	var num, den [MaxOrder]int
	for n := 1; n <= MaxOrder; n++ {
		num[n-1], den[n-1] = modifiedPrecision(references, hypothesis, n)
	}
	// No unigram overlap means no overlap at any order.
	if num[0] == 0 {
		return 0
	}

	p := smooth(num, den, hypLen)
	bp := brevityPenalty(closestRefLength(references, hypLen), hypLen)

	var sum float64
	for i, wi := range w {
		if wi == 0 {
			continue
		}
		if p[i] == 0 {
			return 0
		}
		sum += wi * math.Log(p[i])
	}
	return bp * math.Exp(sum)
}

// smooth applies method4: each zero-count order gets a pseudo-count that
// shrinks with hypothesis length, compounding across successive zero orders.
func smooth(num, den [MaxOrder]int, hypLen int) [MaxOrder]float64 {
	var p [MaxOrder]float64
	incvnt := 1.0
	for i := range p {
		if num[i] == 0 && hypLen > 1 {
			incvnt *= K / math.Log(float64(hypLen))
			p[i] = incvnt / float64(den[i])
			continue
		}
		p[i] = float64(num[i]) / float64(den[i])
	}
	return p
}

// modifiedPrecision returns the clipped n-gram matches and the number of
// hypothesis n-grams (at least 1).
func modifiedPrecision(references [][]string, hypothesis []string, n int) (int, int) {
	counts := ngrams(hypothesis, n)
	if len(counts) == 0 {
		return 0, 1
	}
	maxRef := make(map[string]int, len(counts))
	for _, ref := range references {
		for g, c := range ngrams(ref, n) {
			if _, ok := counts[g]; ok && c > maxRef[g] {
				maxRef[g] = c
			}
		}
	}
	var clipped, total int
	for g, c := range counts {
		clipped += min(c, maxRef[g])
		total += c
	}
	return clipped, max(1, total)
}

func ngrams(tokens []string, n int) map[string]int {
	out := make(map[string]int)
	for i := 0; i+n <= len(tokens); i++ {
		out[strings.Join(tokens[i:i+n], "\x00")]++
	}
	return out
}

// closestRefLength picks the reference length nearest the hypothesis,
// preferring the shorter on ties.
func closestRefLength(references [][]string, hypLen int) int {
	best := len(references[0])
	for _, ref := range references[1:] {
		l := len(ref)
		d, bd := abs(l-hypLen), abs(best-hypLen)
		if d < bd || (d == bd && l < best) {
			best = l
		}
	}
	return best
}

func brevityPenalty(refLen, hypLen int) float64 {
	if hypLen > refLen {
		return 1
	}
	if hypLen == 0 {
		return 0
	}
	return math.Exp(1 - float64(refLen)/float64(hypLen))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
