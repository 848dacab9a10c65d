package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Launch outcome label values.
const (
	OutcomeReady         = "ready"
	OutcomeBackendExited = "backend_exited"
	OutcomeTimeout       = "timeout"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	launchProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocrd",
			Subsystem: "launch",
			Name:      "probes_total",
			Help:      "Readiness probes sent to the backend, by outcome.",
		}, []string{"outcome"},
	)
	launchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocrd",
			Subsystem: "launch",
			Name:      "outcomes_total",
			Help:      "Terminal launch outcomes: ready, backend_exited or timeout.",
		}, []string{"outcome"},
	)
	readinessSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ocrd",
			Subsystem: "launch",
			Name:      "readiness_seconds",
			Help:      "Seconds from backend spawn to the first passing readiness probe.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocrd",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Front-end API requests by route, method and status code.",
		}, []string{"route", "method", "status"},
	)
	apiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ocrd",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Front-end API request latency per route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"},
	)
	backendRequests = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ocrd",
			Subsystem: "backend",
			Name:      "request_seconds",
			Help:      "Latency of requests forwarded to the backend, by result class.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"class"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{launchProbes, launchOutcomes, readinessSeconds, apiRequests, apiDuration, backendRequests}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncProbe(ready bool) {
	if regOK.Load() {
		outcome := "not_ready"
		if ready {
			outcome = OutcomeReady
		}
		launchProbes.WithLabelValues(outcome).Inc()
	}
}

func IncLaunchOutcome(outcome string) {
	if regOK.Load() {
		launchOutcomes.WithLabelValues(outcome).Inc()
	}
}

func ObserveReadiness(seconds float64) {
	if regOK.Load() {
		readinessSeconds.Observe(seconds)
	}
}

func IncAPIRequest(route, method string, status int) {
	if regOK.Load() {
		apiRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	}
}

func ObserveAPIDuration(route string, seconds float64) {
	if regOK.Load() {
		apiDuration.WithLabelValues(route).Observe(seconds)
	}
}

func ObserveBackendRequest(class string, seconds float64) {
	if regOK.Load() {
		backendRequests.WithLabelValues(class).Observe(seconds)
	}
}
