package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordEmbeddingOutcomes(t *testing.T) {
	okBefore := testutil.ToFloat64(EmbeddingRequests.WithLabelValues("test", "ok"))
	errBefore := testutil.ToFloat64(EmbeddingRequests.WithLabelValues("test", "error"))
	sentBefore := testutil.ToFloat64(EmbeddingSentences.WithLabelValues("test"))

	RecordEmbedding("test", 4, 10*time.Millisecond, nil)
	RecordEmbedding("test", 9, 5*time.Millisecond, errors.New("down"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(EmbeddingRequests.WithLabelValues("test", "ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(EmbeddingRequests.WithLabelValues("test", "error")))
	// failed calls do not count sentences
	assert.Equal(t, sentBefore+4, testutil.ToFloat64(EmbeddingSentences.WithLabelValues("test")))
}

func TestRecordCacheLookup(t *testing.T) {
	hits := testutil.ToFloat64(EmbeddingCache.WithLabelValues("hit"))
	misses := testutil.ToFloat64(EmbeddingCache.WithLabelValues("miss"))

	RecordCacheLookup(true)
	RecordCacheLookup(false)
	RecordCacheLookup(false)

	assert.Equal(t, hits+1, testutil.ToFloat64(EmbeddingCache.WithLabelValues("hit")))
	assert.Equal(t, misses+2, testutil.ToFloat64(EmbeddingCache.WithLabelValues("miss")))
}

func TestRecordEpoch(t *testing.T) {
	RecordEpoch(4, "train", 0.5, 0.75)
	RecordEpoch(4, "dev", 0.6, 0.70)

	assert.Equal(t, 4.0, testutil.ToFloat64(TrainEpoch))
	assert.Equal(t, 0.5, testutil.ToFloat64(TrainLoss.WithLabelValues("train")))
	assert.Equal(t, 0.70, testutil.ToFloat64(TrainAccuracy.WithLabelValues("dev")))
}

func TestRecordGradient(t *testing.T) {
	before := testutil.ToFloat64(GradientClipped)
	RecordGradient(0.5, false)
	RecordGradient(12, true)
	assert.Equal(t, before+1, testutil.ToFloat64(GradientClipped))
}

func TestRecordCorrelation(t *testing.T) {
	RecordCorrelation("BLEU-1", 0.12, 0.34)
	assert.Equal(t, 0.12, testutil.ToFloat64(Correlation.WithLabelValues("BLEU-1", "pearson")))
	assert.Equal(t, 0.34, testutil.ToFloat64(Correlation.WithLabelValues("BLEU-1", "spearman")))
}

func TestCountersDoNotPanic(t *testing.T) {
	RecordBatch("train")
	RecordCheckpoint()
	RecordScored(3)
	RecordExtracted("src-train.arrow", 128)
}
