// Package metrics defines the Prometheus collectors of the service and the
// hooks used to update them.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "profile_proxy"

	labelDecision = "decision"
	labelPolicy   = "policy"
	labelOutcome  = "outcome"
	labelCode     = "code"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	decisions        *prometheus.CounterVec
	storeUnavailable *prometheus.CounterVec
	upstream         *prometheus.CounterVec
	upstreamDuration prometheus.Histogram
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Count of rate limit decisions by outcome.",
		}, []string{labelDecision}),
		storeUnavailable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "store_unavailable_total",
			Help:      "Count of requests whose rate limit check failed because the counter store was unreachable, by applied failure policy.",
		}, []string{labelPolicy}),
		upstream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Count of upstream profile lookups by outcome and status code.",
		}, []string{labelOutcome, labelCode}),
		upstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Histogram of upstream profile lookup latencies.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.decisions,
		m.storeUnavailable,
		m.upstream,
		m.upstreamDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveDecision(allowed bool) {
	if m == nil {
		return
	}
	d := "deny"
	if allowed {
		d = "allow"
	}
	m.decisions.WithLabelValues(d).Inc()
}

func (m *Metrics) ObserveStoreUnavailable(policy string) {
	if m == nil {
		return
	}
	m.storeUnavailable.WithLabelValues(policy).Inc()
}

// ObserveUpstream records one lookup. code is 0 when no response was received.
func (m *Metrics) ObserveUpstream(outcome string, code int, seconds float64) {
	if m == nil {
		return
	}
	m.upstream.WithLabelValues(outcome, strconv.Itoa(code)).Inc()
	m.upstreamDuration.Observe(seconds)
}
