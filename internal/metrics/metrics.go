// Package metrics holds the bot's Prometheus collectors and the ops HTTP
// server that exposes them.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BotMetrics records bot activity. A nil *BotMetrics is a no-op.
type BotMetrics struct {
	events          *prometheus.CounterVec
	eventLatency    *prometheus.HistogramVec
	dispatches      *prometheus.CounterVec
	gatewayErrors   *prometheus.CounterVec
	accountsCreated prometheus.Counter
	pendingPrompts  prometheus.Gauge
}

var (
	botMetricsOnce sync.Once
	botRegistry    *BotMetrics
)

// Bot returns the lazily-initialised metrics registered with the default
// Prometheus registerer.
func Bot() *BotMetrics {
	botMetricsOnce.Do(func() {
		botRegistry = newBotMetrics()
		prometheus.MustRegister(
			botRegistry.events,
			botRegistry.eventLatency,
			botRegistry.dispatches,
			botRegistry.gatewayErrors,
			botRegistry.accountsCreated,
			botRegistry.pendingPrompts,
		)
	})
	return botRegistry
}

func newBotMetrics() *BotMetrics {
	return &BotMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "klingbot",
			Subsystem: "router",
			Name:      "events_total",
			Help:      "Chat events handled, segmented by kind and result status.",
		}, []string{"kind", "status"}),
		eventLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "klingbot",
			Subsystem: "router",
			Name:      "event_duration_seconds",
			Help:      "Time spent handling a chat event, including chain calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "klingbot",
			Subsystem: "dispatch",
			Name:      "transactions_total",
			Help:      "Transaction dispatch attempts segmented by outcome.",
		}, []string{"outcome"}),
		gatewayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "klingbot",
			Subsystem: "chain",
			Name:      "gateway_errors_total",
			Help:      "Chain gateway failures segmented by operation and class (rejected or unavailable).",
		}, []string{"op", "class"}),
		accountsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "klingbot",
			Subsystem: "account",
			Name:      "created_total",
			Help:      "Custodial accounts generated on first contact.",
		}),
		pendingPrompts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "klingbot",
			Subsystem: "conversation",
			Name:      "prompts_opened",
			Help:      "Prompts waiting for a reply, seeded from storage at start.",
		}),
	}
}

// ObserveEvent records one handled event.
func (m *BotMetrics) ObserveEvent(kind, status string, took time.Duration) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.events.WithLabelValues(kind, status).Inc()
	m.eventLatency.WithLabelValues(kind).Observe(took.Seconds())
}

// RecordDispatch counts a dispatch outcome. Outcomes should be stable
// strings such as "submitted" or "rejected".
func (m *BotMetrics) RecordDispatch(outcome string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(outcome).Inc()
}

// RecordGatewayError counts a failed chain call.
func (m *BotMetrics) RecordGatewayError(op, class string) {
	if m == nil {
		return
	}
	m.gatewayErrors.WithLabelValues(op, class).Inc()
}

// AccountCreated counts a newly generated account.
func (m *BotMetrics) AccountCreated() {
	if m == nil {
		return
	}
	m.accountsCreated.Inc()
}

// PromptOpened and PromptClosed track the conversation prompt balance.
func (m *BotMetrics) PromptOpened() {
	if m == nil {
		return
	}
	m.pendingPrompts.Inc()
}

func (m *BotMetrics) PromptClosed() {
	if m == nil {
		return
	}
	m.pendingPrompts.Dec()
}

// SetPendingPrompts resets the prompt balance, typically to the number of
// prompts found in storage when the process starts.
func (m *BotMetrics) SetPendingPrompts(n int) {
	if m == nil {
		return
	}
	m.pendingPrompts.Set(float64(n))
}
