// Package metrics provides Prometheus metrics for the room bot.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bot. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	TicksTotal           *prometheus.CounterVec
	TickDuration         *prometheus.HistogramVec
	RepliesTotal         *prometheus.CounterVec
	ProviderResultsTotal *prometheus.CounterVec
	LoginAttemptsTotal   *prometheus.CounterVec
	UILookupsTotal       *prometheus.CounterVec
	StoreErrorsTotal     *prometheus.CounterVec
	BulkActionsTotal     *prometheus.CounterVec
	LastHeartbeat        prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roombot_ticks_total",
				Help: "Command loop ticks by dispatched command.",
			},
			[]string{"command"},
		),
		TickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roombot_tick_duration_seconds",
				Help:    "Tick processing duration by command.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"command"},
		),
		RepliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roombot_replies_total",
				Help: "Chat replies by source and delivery result.",
			},
			[]string{"source", "result"},
		),
		ProviderResultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roombot_provider_results_total",
				Help: "Completion attempts by provider family and result.",
			},
			[]string{"family", "result"},
		),
		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roombot_login_attempts_total",
				Help: "Login attempts by result.",
			},
			[]string{"result"},
		),
		UILookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roombot_ui_lookups_total",
				Help: "Element lookups by target and result.",
			},
			[]string{"target", "result"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roombot_store_errors_total",
				Help: "Remote store failures by operation.",
			},
			[]string{"op"},
		),
		BulkActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roombot_bulk_actions_total",
				Help: "Bulk runner actions by kind and result.",
			},
			[]string{"action", "result"},
		),
		LastHeartbeat: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "roombot_last_heartbeat_timestamp_seconds",
				Help: "Unix time of the last heartbeat written to the store.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.TicksTotal)
	reg.MustRegister(m.TickDuration)
	reg.MustRegister(m.RepliesTotal)
	reg.MustRegister(m.ProviderResultsTotal)
	reg.MustRegister(m.LoginAttemptsTotal)
	reg.MustRegister(m.UILookupsTotal)
	reg.MustRegister(m.StoreErrorsTotal)
	reg.MustRegister(m.BulkActionsTotal)
	reg.MustRegister(m.LastHeartbeat)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordTick increments the tick counter and observes its duration.
func (m *Metrics) RecordTick(command string, d time.Duration) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(command).Inc()
	m.TickDuration.WithLabelValues(command).Observe(d.Seconds())
}

// RecordReply counts a reply attempt.
func (m *Metrics) RecordReply(source string, sent bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !sent {
		result = "failed"
	}
	m.RepliesTotal.WithLabelValues(source, result).Inc()
}

// RecordProvider counts a completion outcome.
func (m *Metrics) RecordProvider(family, result string) {
	if m == nil {
		return
	}
	m.ProviderResultsTotal.WithLabelValues(family, result).Inc()
}

// RecordLogin counts one login attempt.
func (m *Metrics) RecordLogin(result string) {
	if m == nil {
		return
	}
	m.LoginAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordLookup counts an element lookup.
func (m *Metrics) RecordLookup(target string, found bool) {
	if m == nil {
		return
	}
	result := "found"
	if !found {
		result = "missing"
	}
	m.UILookupsTotal.WithLabelValues(target, result).Inc()
}

// RecordStoreError counts a store failure.
func (m *Metrics) RecordStoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrorsTotal.WithLabelValues(op).Inc()
}

// RecordBulkAction counts a bulk runner action.
func (m *Metrics) RecordBulkAction(action, result string) {
	if m == nil {
		return
	}
	m.BulkActionsTotal.WithLabelValues(action, result).Inc()
}

// SetHeartbeat records the time of the last heartbeat.
func (m *Metrics) SetHeartbeat(t time.Time) {
	if m == nil {
		return
	}
	m.LastHeartbeat.Set(float64(t.Unix()))
}
