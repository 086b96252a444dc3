package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	sessionStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "termexec",
			Subsystem: "session",
			Name:      "starts_total",
			Help:      "Number of accepted start requests.",
		},
	)
	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "termexec",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Number of session status transitions.",
		}, []string{"from", "to"},
	)
	sessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "termexec",
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Wall-clock time from spawn to terminal status.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"status"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "termexec",
			Name:      "sessions_active",
			Help:      "Sessions that have not reached a terminal status.",
		},
	)
	terminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "termexec",
			Name:      "terminations_total",
			Help:      "Process tree terminations by outcome.",
		}, []string{"result"},
	)
	validationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "termexec",
			Name:      "validation_errors_total",
			Help:      "Rejected requests per operation.",
		}, []string{"op"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{sessionStarts, sessionTransitions, sessionDuration, sessionsActive, terminations, validationErrors}
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

func IncStart() {
	if regOK.Load() {
		sessionStarts.Inc()
		sessionsActive.Inc()
	}
}

// RecordTransition counts a status change. terminal marks the end of the
// session's life, which also settles the active gauge and duration histogram.
func RecordTransition(from, to string, terminal bool, seconds float64) {
	if !regOK.Load() {
		return
	}
	sessionTransitions.WithLabelValues(from, to).Inc()
	if terminal {
		sessionsActive.Dec()
		if seconds >= 0 {
			sessionDuration.WithLabelValues(to).Observe(seconds)
		}
	}
}

func IncTermination(result string) {
	if regOK.Load() {
		terminations.WithLabelValues(result).Inc()
	}
}

func IncValidationError(op string) {
	if regOK.Load() {
		validationErrors.WithLabelValues(op).Inc()
	}
}
