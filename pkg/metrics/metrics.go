// Package metrics provides Prometheus instrumentation for the cache engine.
//
// It pre-defines the engine's counters and histograms (plan compiles, graph
// writes, canonical merges, optimistic commits, document
// normalize/materialize, network round-trips) and gives you helpers to
// register your own. PlanCompiles, GraphWrites and OptimisticCommits are
// registered but nothing in the engine updates them. Mount the scrape endpoint once, wherever your process
// already exposes one:
//
//	mux.Handle("/metrics", metrics.Handler())
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ─────────────────────────────────────────────
// Built-in engine metrics
// ─────────────────────────────────────────────

var (
	// PlanCompiles counts Planner.Compile calls, split by cache hit/miss.
	PlanCompiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cachebay",
			Subsystem: "planner",
			Name:      "compiles_total",
			Help:      "Total number of plan compilations, by cache result.",
		},
		[]string{"result"}, // "hit" | "miss"
	)

	// GraphWrites counts records written into the graph, by reason.
	GraphWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cachebay",
			Subsystem: "graph",
			Name:      "writes_total",
			Help:      "Total number of record writes applied to the graph.",
		},
		[]string{"reason"}, // "normalize" | "optimistic" | "hydrate"
	)

	// CanonicalMerges tracks how long canonical page merges take.
	CanonicalMerges = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cachebay",
			Subsystem: "canonical",
			Name:      "merge_duration_seconds",
			Help:      "Duration of canonical connection page merges.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"mode"}, // "forward" | "backward" | "page"
	)

	// OptimisticCommits counts optimistic overlay resolutions.
	OptimisticCommits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cachebay",
			Subsystem: "optimistic",
			Name:      "resolutions_total",
			Help:      "Total number of optimistic overlays resolved.",
		},
		[]string{"outcome"}, // "commit" | "revert"
	)

	// DocumentOps tracks normalize/materialize latency.
	DocumentOps = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cachebay",
			Subsystem: "documents",
			Name:      "op_duration_seconds",
			Help:      "Duration of document normalize/materialize passes.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"op"}, // "normalize" | "materialize"
	)

	// NetworkRequests tracks outgoing operation round-trips.
	NetworkRequests = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cachebay",
			Subsystem: "network",
			Name:      "request_duration_seconds",
			Help:      "Duration of outgoing GraphQL operation round-trips.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	// CacheHits / CacheMisses track read-policy effectiveness.
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cachebay",
			Subsystem: "policy",
			Name:      "hits_total",
			Help:      "Total reads served entirely from the cache.",
		},
		[]string{"policy"},
	)
	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cachebay",
			Subsystem: "policy",
			Name:      "misses_total",
			Help:      "Total reads that required a network round-trip.",
		},
		[]string{"policy"},
	)
)

// ─────────────────────────────────────────────
// Registry
// ─────────────────────────────────────────────

// DefaultRegistry is the process-wide Prometheus registry. Register your
// own metrics against it, or build a private prometheus.Registry per cache
// instance if you host several isolated engines in one process.
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(collectors.NewGoCollector())
	DefaultRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	DefaultRegistry.MustRegister(
		PlanCompiles,
		GraphWrites,
		CanonicalMerges,
		OptimisticCommits,
		DocumentOps,
		NetworkRequests,
		CacheHits,
		CacheMisses,
	)
}

// Register lets you add your own prometheus.Collector to DefaultRegistry.
func Register(c prometheus.Collector) error {
	return DefaultRegistry.Register(c)
}

// MustRegister panics if registration fails.
func MustRegister(c ...prometheus.Collector) {
	DefaultRegistry.MustRegister(c...)
}

// ─────────────────────────────────────────────
// Custom metric constructors
// ─────────────────────────────────────────────

// NewCounter creates and registers a Counter with the given name and labels.
func NewCounter(namespace, name, help string, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
	DefaultRegistry.MustRegister(c)
	return c
}

// NewHistogram creates and registers a Histogram with the given name and labels.
func NewHistogram(namespace, name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
	DefaultRegistry.MustRegister(h)
	return h
}

// NewGauge creates and registers a Gauge.
func NewGauge(namespace, name, help string, labels []string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
	DefaultRegistry.MustRegister(g)
	return g
}

// ─────────────────────────────────────────────
// /metrics endpoint handler
// ─────────────────────────────────────────────

// Handler returns an http.Handler that exposes the Prometheus metrics page.
// Useful when the example transport's demo server is running.
func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ─────────────────────────────────────────────
// Helpers for engine code
// ─────────────────────────────────────────────

// ObserveNetworkRequest records a round-trip duration with a simple timer:
//
//	defer metrics.ObserveNetworkRequest("GetUser", "ok", time.Now())
func ObserveNetworkRequest(operation, status string, start time.Time) {
	NetworkRequests.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

// ObserveCanonicalMerge records how long a canonical merge took.
func ObserveCanonicalMerge(mode string, start time.Time) {
	CanonicalMerges.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}

// ObserveDocumentOp records how long a normalize/materialize pass took.
func ObserveDocumentOp(op string, start time.Time) {
	DocumentOps.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
