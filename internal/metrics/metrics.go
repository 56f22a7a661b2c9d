// Package metrics is the router's prometheus sink: circuit-breaker
// transitions, coalescer effectiveness, cache hit ratio and route
// latency. It depends on nothing else in internal/core to avoid a
// cyclic import.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink bundles the counters/histograms every layer reports into.
type Sink struct {
	registry *prometheus.Registry

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	coalesced   *prometheus.CounterVec

	coalesceGroupSize *prometheus.HistogramVec
	coalesceDuration  *prometheus.HistogramVec

	breakerTransitions *prometheus.CounterVec
	adapterCalls       *prometheus.CounterVec
	adapterLatency     *prometheus.HistogramVec

	routeLatency *prometheus.HistogramVec
}

// New builds a Sink registered against a fresh prometheus.Registry.
func New() *Sink {
	reg := prometheus.NewRegistry()

	s := &Sink{
		registry: reg,
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "router_cache_hits_total",
			Help: "Cache hits by cache-type label.",
		}, []string{"cache_type"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "router_cache_misses_total",
			Help: "Cache misses by cache-type label.",
		}, []string{"cache_type"}),
		coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "router_coalesced_requests_total",
			Help: "Requests collapsed onto an in-flight factory by cache-type label.",
		}, []string{"cache_type"}),
		coalesceGroupSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "router_coalesce_group_size",
			Help:    "Number of callers collapsed onto a single factory invocation.",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		}, []string{"cache_type"}),
		coalesceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "router_coalesce_duration_seconds",
			Help:    "Duration of a single coalesced factory invocation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"cache_type"}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "router_breaker_transitions_total",
			Help: "Circuit breaker state transitions.",
		}, []string{"service", "operation", "from", "to"}),
		adapterCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "router_adapter_calls_total",
			Help: "Adapter calls by provider, operation and result.",
		}, []string{"provider", "operation", "result"}),
		adapterLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "router_adapter_latency_seconds",
			Help:    "Adapter call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		routeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "router_route_latency_seconds",
			Help:    "FindBestRoute end-to-end latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"cache_hit"}),
	}

	reg.MustRegister(
		s.cacheHits, s.cacheMisses, s.coalesced,
		s.coalesceGroupSize, s.coalesceDuration,
		s.breakerTransitions, s.adapterCalls, s.adapterLatency,
		s.routeLatency,
	)
	return s
}

// Handler exposes the registry in the Prometheus exposition format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *Sink) ObserveCacheHit(cacheType string) {
	s.cacheHits.WithLabelValues(cacheType).Inc()
}

func (s *Sink) ObserveCacheMiss(cacheType string) {
	s.cacheMisses.WithLabelValues(cacheType).Inc()
}

func (s *Sink) ObserveCoalesced(cacheType string) {
	s.coalesced.WithLabelValues(cacheType).Inc()
}

// ObserveCoalesceGroup reports a finished single-flight group: how many
// callers it served and how long the factory took, from which the
// coalescer's effectiveness (requests saved = groupSize-1) is derivable.
func (s *Sink) ObserveCoalesceGroup(cacheType string, groupSize int, duration interface{ Seconds() float64 }) {
	s.coalesceGroupSize.WithLabelValues(cacheType).Observe(float64(groupSize))
	s.coalesceDuration.WithLabelValues(cacheType).Observe(duration.Seconds())
}

func (s *Sink) ObserveBreakerTransition(service, operation, from, to string) {
	s.breakerTransitions.WithLabelValues(service, operation, from, to).Inc()
}

func (s *Sink) ObserveAdapterCall(provider, operation, result string, latency interface{ Seconds() float64 }) {
	s.adapterCalls.WithLabelValues(provider, operation, result).Inc()
	s.adapterLatency.WithLabelValues(provider, operation).Observe(latency.Seconds())
}

func (s *Sink) ObserveRouteLatency(cacheHit bool, latency interface{ Seconds() float64 }) {
	label := "false"
	if cacheHit {
		label = "true"
	}
	s.routeLatency.WithLabelValues(label).Observe(latency.Seconds())
}
