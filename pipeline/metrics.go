package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	chunks        prometheus.Counter
	rows          prometheus.Counter
	arenas        *prometheus.CounterVec
	retries       prometheus.Counter
	chunkDuration prometheus.Histogram
}

// newMetrics registers the driver metrics with reg. A nil reg leaves them
// unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		chunks: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "bytepipe",
			Subsystem: "pipeline",
			Name:      "chunks_total",
			Help:      "Total number of input chunks run through the stage chain.",
		}),
		rows: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "bytepipe",
			Subsystem: "pipeline",
			Name:      "input_rows_total",
			Help:      "Total number of input rows read from datasets.",
		}),
		arenas: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "bytepipe",
			Subsystem: "pipeline",
			Name:      "arena_pages_total",
			Help:      "Arena pages by lifecycle event (allocated, flushed, discarded).",
		}, []string{"event"}),
		retries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "bytepipe",
			Subsystem: "pipeline",
			Name:      "exhaustion_retries_total",
			Help:      "Total number of stage or sink calls retried after an arena swap.",
		}),
		chunkDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "bytepipe",
			Subsystem: "pipeline",
			Name:      "chunk_duration_seconds",
			Help:      "Time spent running one chunk through the stage chain and sink.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
}
