package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gaugeOrCounter(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			if g := metric.GetGauge(); g != nil {
				return g.GetValue()
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestMetrics_SessionLifecycle(t *testing.T) {
	m := New()
	m.SessionStarted()
	assert.Equal(t, 1.0, gaugeOrCounter(t, m, "disciplinecall_sessions_active", nil))

	start := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	m.SessionEnded(call.Outcome{
		Kind:           call.KindMorning,
		Classification: call.ClassMissed,
		Reason:         call.ReasonTimeout,
		Channel:        call.ChannelTelegram,
		StartedAt:      start,
		EndedAt:        start.Add(90 * time.Second),
	})
	assert.Equal(t, 0.0, gaugeOrCounter(t, m, "disciplinecall_sessions_active", nil))
	assert.Equal(t, 1.0, gaugeOrCounter(t, m, "disciplinecall_sessions_ended_total", map[string]string{
		"call_kind":      "morning",
		"classification": "missed",
		"reason":         "timeout",
		"channel":        "telegram",
	}))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.TriggerFired(call.KindEvening, "scheduled")
	m.RetryEnqueued(call.KindEvening)
	m.CycleExhausted(call.KindEvening)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `disciplinecall_triggers_fired_total{call_kind="evening",lane="scheduled"} 1`))
	assert.True(t, strings.Contains(body, "disciplinecall_cycles_exhausted_total"))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.SessionStarted()
	m.SessionEnded(call.Outcome{})
	m.TriggerFired(call.KindUrgent, "scheduled")
	m.ChannelFallback(call.ChannelTelegram, call.ChannelWhatsApp)
	assert.Nil(t, m.Registry())
}
