// Package metrics exposes Prometheus collectors for the realtime core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "academia"

type Metrics struct {
	events        *prometheus.CounterVec
	toasts        prometheus.Counter
	channelErrors prometheus.Counter
	subscriptions prometheus.Gauge
	saves         *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Change events fanned out to the in-process bus, by kind.",
		}, []string{"kind"}),
		toasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "toasts_total",
			Help:      "Toasts sent to connected pages.",
		}),
		channelErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "channel_errors_total",
			Help:      "Change channels that stopped with an error.",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "subscriptions",
			Help:      "Live change channels.",
		}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "saves_total",
			Help:      "Study session save attempts, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.events, m.toasts, m.channelErrors, m.subscriptions, m.saves)
	return m
}

func (m *Metrics) ObserveEvent(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveToast() {
	if m == nil {
		return
	}
	m.toasts.Inc()
}

func (m *Metrics) ObserveChannelError() {
	if m == nil {
		return
	}
	m.channelErrors.Inc()
}

func (m *Metrics) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.subscriptions.Inc()
}

func (m *Metrics) SubscriptionClosed() {
	if m == nil {
		return
	}
	m.subscriptions.Dec()
}

// ObserveSave counts a tracker save attempt. Outcomes are "created",
// "updated", "skipped_idle", "skipped_short", "skipped_busy" and "failed".
func (m *Metrics) ObserveSave(outcome string) {
	if m == nil {
		return
	}
	m.saves.WithLabelValues(outcome).Inc()
}
