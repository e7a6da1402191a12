// Package observability exposes Prometheus metrics for the onboarding
// engine.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboard_turns_total",
			Help: "Total number of dialogue turns by outcome",
		},
		[]string{"outcome"},
	)

	validationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboard_validation_rejections_total",
			Help: "Total number of validator rejections by slot",
		},
		[]string{"slot"},
	)

	modelUnavailableTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "onboard_model_unavailable_total",
			Help: "Total number of turns lost to model capability outages",
		},
	)

	extractionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onboard_extraction_duration_seconds",
			Help:    "Slot extraction duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboard_sessions_total",
			Help: "Total number of sessions by origin (created or resumed)",
		},
		[]string{"origin"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "onboard_active_sessions",
			Help: "Number of live in-memory sessions",
		},
	)
)

func init() {
	prometheus.MustRegister(
		turnsTotal,
		validationRejectionsTotal,
		modelUnavailableTotal,
		extractionDuration,
		sessionsTotal,
		activeSessions,
	)
}

// RecordTurn counts one completed dialogue turn.
func RecordTurn(outcome string) {
	turnsTotal.WithLabelValues(outcome).Inc()
}

// RecordValidationRejection counts a validator rejection for a slot.
func RecordValidationRejection(slot string) {
	validationRejectionsTotal.WithLabelValues(slot).Inc()
}

// RecordModelUnavailable counts a turn lost to a model outage.
func RecordModelUnavailable() {
	modelUnavailableTotal.Inc()
}

// ObserveExtraction records one extraction call's duration by outcome.
func ObserveExtraction(outcome string, d time.Duration) {
	extractionDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordSession counts a session creation ("created") or rehydration
// ("resumed").
func RecordSession(origin string) {
	sessionsTotal.WithLabelValues(origin).Inc()
}

// SessionOpened and SessionClosed track the live session gauge.
func SessionOpened() { activeSessions.Inc() }

// SessionClosed decrements the live session gauge.
func SessionClosed() { activeSessions.Dec() }

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
