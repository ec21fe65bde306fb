// Package metrics holds the Prometheus collectors for the easel engine.
// Collectors live on a private registry so tests and embedders never clash
// with the default one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "easel"

// Registry holds every easel collector plus the Go and process collectors.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

// Save pipeline.
var (
	Saves = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "saves_total",
		Help:      "Save attempts by save type and result.",
	}, []string{"save_type", "result"})

	SaveConflicts = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "save_conflicts_total",
		Help:      "Optimistic-write gate failures that were merged and retried.",
	})

	SaveRetries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "save_retries_total",
		Help:      "Save retries by cause.",
	}, []string{"cause"})

	SaveDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "save_duration_seconds",
		Help:      "Wall time of a save including retries.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Backups.
var (
	BackupsCreated = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backups_created_total",
		Help:      "Backups created by kind.",
	}, []string{"kind"})

	BackupsPruned = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backups_pruned_total",
		Help:      "Backups deleted by retention pruning.",
	})

	BackupBytes = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backup_size_bytes",
		Help:      "Serialized document size of created backups.",
		Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
	})
)

// Dual representation.
var (
	SyncFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "normalization_sync_failures_total",
		Help:      "Deferred normalization passes that failed after the document write.",
	})

	DocumentPatchFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "document_patch_failures_total",
		Help:      "Node-level operations whose document patch failed.",
	})
)

// Cache.
var CacheResults = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "metadata_cache_results_total",
	Help:      "Metadata cache lookups by result (hit, miss, error).",
}, []string{"result"})

// HTTP.
var (
	HTTPRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
