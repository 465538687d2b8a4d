package pipeline

import "github.com/prometheus/client_golang/prometheus"

var (
	transcriptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handscribe",
			Name:      "transcriptions_total",
			Help:      "Total transcriptions by result",
		},
		[]string{"result"},
	)

	transcriptionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "handscribe",
			Name:      "transcription_duration_seconds",
			Help:      "Duration of transcriptions in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160, 320},
		},
	)

	generatedTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "handscribe",
			Name:      "generated_tokens",
			Help:      "New tokens per successful transcription",
			Buckets:   prometheus.ExponentialBuckets(8, 2, 8),
		},
	)

	resourceLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handscribe",
			Name:      "resource_loads_total",
			Help:      "Model resource load attempts by result",
		},
		[]string{"result"},
	)

	transferFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "handscribe",
			Name:      "transfer_fallbacks_total",
			Help:      "Downloads retried in standard mode after the accelerated mode was unavailable",
		},
	)
)

func init() {
	prometheus.MustRegister(transcriptionsTotal, transcriptionDuration, generatedTokens, resourceLoadsTotal, transferFallbacksTotal)
}
