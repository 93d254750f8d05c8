// Package metrics defines the coordinator's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SignatureRequests counts peer signature requests by endpoint and
	// result (ok, failed, rejected).
	SignatureRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlsp_signature_requests_total",
			Help: "Peer signature requests by endpoint and result",
		},
		[]string{"endpoint", "result"},
	)

	// Submissions counts on-chain transactions by kind (opening, closing,
	// capacity, order) and result (ok, failed).
	Submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlsp_registry_submissions_total",
			Help: "Registry transactions by kind and result",
		},
		[]string{"kind", "result"},
	)

	// Outcomes counts per-item processor results.
	Outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlsp_processor_outcomes_total",
			Help: "Processor outcomes by task and outcome (retry, committed, dropped)",
		},
		[]string{"task", "outcome"},
	)

	// WorkSetSize tracks the number of indexes waiting in each work set.
	WorkSetSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dlsp_workset_size",
			Help: "Indexes waiting per work set",
		},
		[]string{"set"},
	)

	// CycleDuration observes how long one scan-and-dispatch cycle takes.
	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dlsp_cycle_duration_seconds",
			Help:    "Duration of a task cycle",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"task"},
	)
)

func init() {
	prometheus.MustRegister(SignatureRequests)
	prometheus.MustRegister(Submissions)
	prometheus.MustRegister(Outcomes)
	prometheus.MustRegister(WorkSetSize)
	prometheus.MustRegister(CycleDuration)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
