package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveEvent("achievementUpdate")
	m.ObserveToast()
	m.ObserveChannelError()
	m.SubscriptionOpened()
	m.SubscriptionClosed()
	m.ObserveSave("created")
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveEvent("achievementUpdate")
	m.ObserveEvent("achievementUpdate")
	m.ObserveEvent("bookmarkUpdate")
	m.ObserveSave("skipped_idle")
	m.SubscriptionOpened()
	m.SubscriptionOpened()
	m.SubscriptionClosed()

	if got := testutil.ToFloat64(m.events.WithLabelValues("achievementUpdate")); got != 2 {
		t.Fatalf("expected 2 achievement events, got %v", got)
	}
	if got := testutil.ToFloat64(m.events.WithLabelValues("bookmarkUpdate")); got != 1 {
		t.Fatalf("expected 1 bookmark event, got %v", got)
	}
	if got := testutil.ToFloat64(m.saves.WithLabelValues("skipped_idle")); got != 1 {
		t.Fatalf("expected 1 idle skip, got %v", got)
	}
	if got := testutil.ToFloat64(m.subscriptions); got != 1 {
		t.Fatalf("expected 1 live subscription, got %v", got)
	}
}
