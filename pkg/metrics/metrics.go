// Package metrics holds the Prometheus collectors shared by the workflow,
// the search cache and the HTTP server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "deep_research"

var (
	NodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "node_duration_seconds",
		Help:      "Time spent executing a workflow node.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"node", "status"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_cache_lookups_total",
		Help:      "Search task cache lookups by outcome.",
	}, []string{"result"})

	SearchTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "search_tasks_total",
		Help:      "Search tasks resolved by the fan-out scheduler.",
	}, []string{"status"})

	CollaboratorRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "collaborator_retries_total",
		Help:      "Retried collaborator calls.",
	}, []string{"op"})

	RunsFinished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_finished_total",
		Help:      "Runs that reached the DONE node.",
	})

	ProviderCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_cache_requests_total",
		Help:      "Search provider cache requests by outcome.",
	}, []string{"provider", "result"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"method", "route", "code"})
)

// ObserveNode records how long a node ran and whether it succeeded.
func ObserveNode(node string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	NodeDuration.WithLabelValues(node, status).Observe(time.Since(start).Seconds())
}
