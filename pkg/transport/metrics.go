package transport

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	rpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskmesh_rpc_requests_total",
			Help: "JSON-RPC requests by method and outcome.",
		},
		[]string{"agent", "method", "outcome"},
	)

	rpcDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deskmesh_rpc_duration_seconds",
			Help:    "JSON-RPC request duration by method.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agent", "method"},
	)

	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskmesh_tasks_total",
			Help: "Tasks by agent and terminal state.",
		},
		[]string{"agent", "state"},
	)
)

// MetricsHandler serves the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func observeRPC(agent, method, outcome string, start time.Time) {
	rpcRequestsTotal.WithLabelValues(agent, method, outcome).Inc()
	rpcDurationSeconds.WithLabelValues(agent, method).Observe(time.Since(start).Seconds())
}

func observeTask(agent, state string) {
	tasksTotal.WithLabelValues(agent, state).Inc()
}
