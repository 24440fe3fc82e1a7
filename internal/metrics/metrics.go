// Package metrics exposes Prometheus counters for sessions, triggers and retries.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "disciplinecall"

type Metrics struct {
	registry        *prometheus.Registry
	sessionsActive  prometheus.Gauge
	sessionsEnded   *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
	triggersFired   *prometheus.CounterVec
	retriesEnqueued *prometheus.CounterVec
	cyclesExhausted *prometheus.CounterVec
	channelFallback *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Call sessions currently running.",
		}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Call sessions by terminal classification.",
		}, []string{"call_kind", "classification", "reason", "channel"}),
		sessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall-clock duration of call sessions.",
			Buckets:   []float64{5, 15, 30, 60, 120, 180, 300, 600},
		}, []string{"call_kind", "classification"}),
		triggersFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_fired_total",
			Help:      "Scheduler triggers fired.",
		}, []string{"call_kind", "lane"}),
		retriesEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_enqueued_total",
			Help:      "Retry triggers created after missed or failed sessions.",
		}, []string{"call_kind"}),
		cyclesExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_exhausted_total",
			Help:      "Scheduling cycles that used every attempt without completing.",
		}, []string{"call_kind"}),
		channelFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_fallbacks_total",
			Help:      "In-session switches from a failing channel to the next preference.",
		}, []string{"from", "to"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionsActive,
		m.sessionsEnded,
		m.sessionDuration,
		m.triggersFired,
		m.retriesEnqueued,
		m.cyclesExhausted,
		m.channelFallback,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionEnded(o call.Outcome) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionsEnded.WithLabelValues(string(o.Kind), string(o.Classification), string(o.Reason), string(o.Channel)).Inc()
	m.sessionDuration.WithLabelValues(string(o.Kind), string(o.Classification)).Observe(o.Duration().Seconds())
}

func (m *Metrics) TriggerFired(kind call.Kind, lane string) {
	if m == nil {
		return
	}
	m.triggersFired.WithLabelValues(string(kind), lane).Inc()
}

func (m *Metrics) RetryEnqueued(kind call.Kind) {
	if m == nil {
		return
	}
	m.retriesEnqueued.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) CycleExhausted(kind call.Kind) {
	if m == nil {
		return
	}
	m.cyclesExhausted.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) ChannelFallback(from, to call.ChannelID) {
	if m == nil {
		return
	}
	m.channelFallback.WithLabelValues(string(from), string(to)).Inc()
}
