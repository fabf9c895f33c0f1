// Package metrics exposes Prometheus collectors for the crawlers and the path server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the upstream and batch counters.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeMalformed = "malformed"
)

var (
	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wikipath_upstream_requests_total",
			Help: "MediaWiki API requests, labeled by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	titlesDiscoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wikipath_titles_discovered_total",
			Help: "Article titles returned by the discovery crawler.",
		},
	)

	linkBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wikipath_link_batches_total",
			Help: "Title batches processed by link workers, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	linksWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wikipath_link_updates_total",
			Help: "Articles whose outbound link list was written to storage.",
		},
	)

	crawlerRestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wikipath_link_crawler_restarts_total",
			Help: "Times the link crawler pool was rebuilt after a fatal batch error.",
		},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wikipath_link_workers_active",
			Help: "Link workers currently running.",
		},
	)

	pacingDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wikipath_pacing_delay_seconds",
			Help:    "Time spent waiting on request pacing, labeled by limiter key.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"key"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	graphNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wikipath_graph_nodes",
			Help: "Nodes in the in-memory link graph.",
		},
	)

	graphDroppedEdges = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wikipath_graph_dropped_edges",
			Help: "Edges discarded while building the graph because their target id was out of range.",
		},
	)

	searchCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wikipath_search_cache_total",
			Help: "Title search cache lookups, labeled by result.",
		},
		[]string{"result"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUpstream records one MediaWiki API call.
func ObserveUpstream(operation, outcome string) {
	upstreamRequestsTotal.WithLabelValues(operation, outcome).Inc()
}

// AddTitlesDiscovered counts titles returned by a discovery page.
func AddTitlesDiscovered(n int) {
	if n > 0 {
		titlesDiscoveredTotal.Add(float64(n))
	}
}

// ObserveBatch records a link batch outcome.
func ObserveBatch(outcome string) {
	linkBatchesTotal.WithLabelValues(outcome).Inc()
}

// IncLinksWritten counts one persisted link update.
func IncLinksWritten() {
	linksWrittenTotal.Inc()
}

// IncCrawlerRestarts counts one link crawler pool rebuild.
func IncCrawlerRestarts() {
	crawlerRestartsTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObservePacingDelay records the duration of a pacing wait.
func ObservePacingDelay(key string, duration time.Duration) {
	pacingDelaySeconds.WithLabelValues(key).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetGraphSize publishes the size of the loaded graph.
func SetGraphSize(nodes, droppedEdges int) {
	graphNodes.Set(float64(nodes))
	graphDroppedEdges.Set(float64(droppedEdges))
}

// ObserveSearchCache records a cache hit or miss.
func ObserveSearchCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	searchCacheTotal.WithLabelValues(result).Inc()
}
