// Package observability exposes the service's Prometheus instruments.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ChatRequests     *prometheus.CounterVec
	GateDecisions    *prometheus.CounterVec
	ContextPairs     prometheus.Histogram
	RetrievalLatency prometheus.Histogram
	TTSJobs          *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ChatRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat requests by outcome.",
		}, []string{"outcome"}),
		GateDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Long-term memory gate decisions by kind.",
		}, []string{"decision"}),
		ContextPairs: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_pairs_returned",
			Help:      "Question/answer pairs returned per long-term lookup.",
			Buckets:   []float64{0, 1, 2, 3},
		}),
		RetrievalLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_seconds",
			Help:      "End-to-end long-term lookup latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		TTSJobs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_jobs_total",
			Help:      "Batch synthesis jobs by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveRetrieval(d time.Duration) {
	m.RetrievalLatency.Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
