package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	insightflow = "insightflow"

	// Upload metrics
	uploadsTotal    = "uploads_total"
	uploadSizeBytes = "upload_size_bytes"

	// Analysis metrics
	analysesTotal    = "analyses_total"
	analysesInFlight = "analyses_in_flight"

	// Labels
	uploadStateLabel     = "state"
	analysisOutcomeLabel = "outcome"
)

// Analysis outcomes
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeNotFound  = "not_found"
	OutcomeAborted   = "aborted"
)

var uploadsTotalLabels = []string{
	uploadStateLabel,
}

var analysesTotalLabels = []string{
	analysisOutcomeLabel,
}

/**
* Metrics definition
**/
var uploadsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: insightflow,
		Name:      uploadsTotal,
		Help:      "number of total file uploads",
	},
	uploadsTotalLabels,
)

var uploadSizeMetric = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Subsystem: insightflow,
		Name:      uploadSizeBytes,
		Help:      "size of the accepted uploads",
		Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
	},
)

var analysesTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: insightflow,
		Name:      analysesTotal,
		Help:      "number of analyses partitioned by outcome",
	},
	analysesTotalLabels,
)

var analysesInFlightMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: insightflow,
		Name:      analysesInFlight,
		Help:      "number of analyses currently streaming",
	},
)

func IncreaseUploadsTotalMetric(state string, size int64) {
	labels := prometheus.Labels{
		uploadStateLabel: state,
	}
	uploadsTotalMetric.With(labels).Inc()
	if size > 0 {
		uploadSizeMetric.Observe(float64(size))
	}
}

func IncreaseAnalysesTotalMetric(outcome string) {
	labels := prometheus.Labels{
		analysisOutcomeLabel: outcome,
	}
	analysesTotalMetric.With(labels).Inc()
}

// TrackAnalysis marks an analysis as running. The returned func marks it done.
func TrackAnalysis() func() {
	analysesInFlightMetric.Inc()
	return analysesInFlightMetric.Dec
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(uploadsTotalMetric)
	prometheus.MustRegister(uploadSizeMetric)
	prometheus.MustRegister(analysesTotalMetric)
	prometheus.MustRegister(analysesInFlightMetric)
}
