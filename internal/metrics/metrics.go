// Package metrics defines Prometheus collectors for the enforcement engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	SessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forged_sessions_started_total",
			Help: "Total focus sessions started",
		},
	)

	SessionsStopped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forged_sessions_stopped_total",
			Help: "Total focus sessions stopped",
		},
	)

	SessionActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forged_session_active",
			Help: "Whether a focus session is currently active (0 or 1)",
		},
	)

	// Enforcement metrics
	ProcessesTerminated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forged_processes_terminated_total",
			Help: "Blocked processes terminated by the enforcement sweep",
		},
		[]string{"pattern"},
	)

	TerminateFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forged_terminate_failures_total",
			Help: "Process terminate attempts that failed (retried next tick)",
		},
	)

	BlockChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forged_block_checks_total",
			Help: "Website block-status checks by result",
		},
		[]string{"result"},
	)

	// Tracking metrics
	ActivityReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forged_activity_reports_total",
			Help: "Usage accumulation events by item kind",
		},
		[]string{"kind"},
	)

	LimitsExceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forged_daily_limits_exceeded_total",
			Help: "Times an item crossed its daily limit",
		},
	)
)

var registered = false

// Register registers all collectors with the default registry.
// Safe to call once per process; the engine calls it at startup.
func Register() {
	if registered {
		return
	}
	registered = true

	prometheus.MustRegister(
		SessionsStarted,
		SessionsStopped,
		SessionActive,
		ProcessesTerminated,
		TerminateFailures,
		BlockChecks,
		ActivityReports,
		LimitsExceeded,
	)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
