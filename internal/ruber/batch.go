package ruber

import (
	"errors"
	"fmt"
	"math/rand"
)

var (
	ErrIteratorExhausted = errors.New("batch iterator exhausted")
	ErrEmptyDataset      = errors.New("dataset has no examples")
)

// Batch is one balanced mini-batch: k positive rows and k negative rows in
// a common shuffled order.
type Batch struct {
	Queries [][]float64
	Replies [][]float64
	Labels  []float64
}

func (b Batch) Len() int { return len(b.Labels) }

// Positives counts rows labelled 1.
func (b Batch) Positives() int {
	n := 0
	for _, l := range b.Labels {
		if l == 1 {
			n++
		}
	}
	return n
}

// BatchIterator walks aligned query/reply embeddings in contiguous slices of
// batchSize, pairing each slice with negatives sampled with replacement from
// all replies.
//
// The walk stops only once the start index has moved past the dataset size,
// so N examples always yield N/batchSize+1 batches: a short tail batch when
// batchSize does not divide N, one extra empty batch when it does.
//
// A BatchIterator is single-consumer and cannot be restarted; build a new
// one for every epoch.
type BatchIterator struct {
	queries, replies [][]float64
	batchSize        int
	rng              *rand.Rand

	idx  int
	done bool
}

func NewBatchIterator(queries, replies [][]float64, batchSize int, rng *rand.Rand) (*BatchIterator, error) {
	if len(queries) != len(replies) {
		return nil, fmt.Errorf("batch iterator: %d queries, %d replies", len(queries), len(replies))
	}
	if len(replies) == 0 {
		return nil, ErrEmptyDataset
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch iterator: invalid batch size %d", batchSize)
	}
	return &BatchIterator{queries: queries, replies: replies, batchSize: batchSize, rng: rng}, nil
}

func (it *BatchIterator) HasNext() bool { return !it.done }

// Next builds the batch at the current index and advances by batchSize.
func (it *BatchIterator) Next() (Batch, error) {
	if it.done {
		return Batch{}, ErrIteratorExhausted
	}
	size := len(it.queries)
	start := min(it.idx, size)
	end := min(it.idx+it.batchSize, size)
	k := end - start

	// Always draw batchSize indices so the random stream does not depend on
	// the tail length; only the first k pair with the slice.
	neg := make([]int, it.batchSize)
	for i := range neg {
		neg[i] = it.rng.Intn(len(it.replies))
	}

	b := Batch{
		Queries: make([][]float64, 0, 2*k),
		Replies: make([][]float64, 0, 2*k),
		Labels:  make([]float64, 0, 2*k),
	}
	b.Queries = append(b.Queries, it.queries[start:end]...)
	b.Queries = append(b.Queries, it.queries[start:end]...)
	b.Replies = append(b.Replies, it.replies[start:end]...)
	for _, j := range neg[:k] {
		b.Replies = append(b.Replies, it.replies[j])
	}
	for i := 0; i < 2*k; i++ {
		label := 1.0
		if i >= k {
			label = 0
		}
		b.Labels = append(b.Labels, label)
	}

	it.rng.Shuffle(2*k, func(i, j int) {
		b.Queries[i], b.Queries[j] = b.Queries[j], b.Queries[i]
		b.Replies[i], b.Replies[j] = b.Replies[j], b.Replies[i]
		b.Labels[i], b.Labels[j] = b.Labels[j], b.Labels[i]
	})

	it.idx += it.batchSize
	if it.idx > size {
		it.done = true
	}
	return b, nil
}

// CountBatches is the number of batches an iterator over n examples yields.
func CountBatches(n, batchSize int) int {
	return n/batchSize + 1
}
