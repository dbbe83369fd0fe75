package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixora_http_request_duration_seconds",
			Help:    "HTTP request latency by method, route and status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	ledgerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixora_ledger_operations_total",
			Help: "Credit ledger operations by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	pollAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixora_poll_attempts_total",
			Help: "Provider status polls by observed result.",
		},
		[]string{"result"},
	)

	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixora_submissions_total",
			Help: "Provider job submissions by outcome.",
		},
		[]string{"outcome"},
	)

	materializationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixora_materializations_total",
			Help: "Artifact materializations by outcome.",
		},
		[]string{"outcome"},
	)

	materializedBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pixora_materialized_bytes",
		Help:    "Size of materialized artifact payloads.",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
	})

	workflowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixora_workflows_total",
			Help: "Finished workflows by final status.",
		},
		[]string{"status"},
	)

	refundIntentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixora_refund_intents_total",
			Help: "Refund intent applications by outcome.",
		},
		[]string{"outcome"},
	)

	reconcileGrantsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixora_reconcile_grants_total",
			Help: "Ledger entries created by reconciliation sweeps, by branch.",
		},
		[]string{"branch"},
	)
)

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveHTTP(method, route string, status int, d time.Duration) {
	httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

func LedgerOperation(operation, outcome string) {
	ledgerOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

func PollAttempt(result string) {
	pollAttemptsTotal.WithLabelValues(result).Inc()
}

func Submission(outcome string) {
	submissionsTotal.WithLabelValues(outcome).Inc()
}

// Materialization records an outcome; size is only observed for stored payloads.
func Materialization(outcome string, size int) {
	materializationsTotal.WithLabelValues(outcome).Inc()
	if size > 0 {
		materializedBytes.Observe(float64(size))
	}
}

func WorkflowFinished(status string) {
	workflowsTotal.WithLabelValues(status).Inc()
}

func RefundIntent(outcome string) {
	refundIntentsTotal.WithLabelValues(outcome).Inc()
}

func ReconcileGrants(branch string, n int) {
	reconcileGrantsTotal.WithLabelValues(branch).Add(float64(n))
}
