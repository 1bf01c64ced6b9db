package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EmbeddingRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ruber_embedding_requests_total",
		Help: "Embedding provider calls by provider and outcome",
	}, []string{"provider", "outcome"})

	EmbeddingSentences = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ruber_embedding_sentences_total",
		Help: "Sentences sent to the embedding provider",
	}, []string{"provider"})

	EmbeddingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ruber_embedding_duration_seconds",
		Help:    "Latency of embedding provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	EmbeddingCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ruber_embedding_cache_total",
		Help: "Embedding cache lookups by result",
	}, []string{"result"})

	TrainBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ruber_train_batches_total",
		Help: "Mini-batches consumed by split",
	}, []string{"split"})

	TrainLoss = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ruber_train_loss",
		Help: "Mean binary cross-entropy of the last finished epoch",
	}, []string{"split"})

	TrainAccuracy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ruber_train_accuracy",
		Help: "Accuracy at threshold 0.5 of the last finished epoch",
	}, []string{"split"})

	TrainEpoch = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ruber_train_epoch",
		Help: "Last finished training epoch",
	})

	GradientNorm = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ruber_gradient_norm",
		Help:    "Global gradient norm before clipping",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 50, 100},
	})

	GradientClipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ruber_gradient_clipped_total",
		Help: "Optimizer steps whose gradient was rescaled by clipping",
	})

	CheckpointsSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ruber_checkpoints_saved_total",
		Help: "Checkpoints written",
	})

	ExamplesScored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ruber_examples_scored_total",
		Help: "Evaluation examples scored",
	})

	Correlation = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ruber_correlation",
		Help: "Correlation of a metric against human scores",
	}, []string{"metric", "kind"})

	ExtractedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ruber_extracted_rows_total",
		Help: "Embedding rows written by the extraction job",
	}, []string{"file"})
)

func RecordEmbedding(provider string, sentences int, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	EmbeddingRequests.WithLabelValues(provider, outcome).Inc()
	EmbeddingDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if err == nil {
		EmbeddingSentences.WithLabelValues(provider).Add(float64(sentences))
	}
}

func RecordCacheLookup(hit bool) {
	if hit {
		EmbeddingCache.WithLabelValues("hit").Inc()
	} else {
		EmbeddingCache.WithLabelValues("miss").Inc()
	}
}

func RecordBatch(split string) {
	TrainBatches.WithLabelValues(split).Inc()
}

// RecordGradient observes the pre-clip norm and whether clipping kicked in.
func RecordGradient(norm float64, clipped bool) {
	GradientNorm.Observe(norm)
	if clipped {
		GradientClipped.Inc()
	}
}

func RecordEpoch(epoch int, split string, loss, accuracy float64) {
	TrainLoss.WithLabelValues(split).Set(loss)
	TrainAccuracy.WithLabelValues(split).Set(accuracy)
	if split == "train" {
		TrainEpoch.Set(float64(epoch))
	}
}

func RecordCheckpoint() {
	CheckpointsSaved.Inc()
}

func RecordScored(n int) {
	ExamplesScored.Add(float64(n))
}

func RecordCorrelation(metric string, pearson, spearman float64) {
	Correlation.WithLabelValues(metric, "pearson").Set(pearson)
	Correlation.WithLabelValues(metric, "spearman").Set(spearman)
}

func RecordExtracted(file string, rows int) {
	ExtractedRows.WithLabelValues(file).Add(float64(rows))
}
