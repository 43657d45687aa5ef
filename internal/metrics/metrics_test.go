package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBookingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)

	m.ObserveBooking("reserved")
	m.ObserveBooking("reserved")
	m.ObserveBooking("conflict")
	m.ObserveTransition("paid", true)
	m.ObserveTransition("paid", false)
	m.ObserveNotification("mercadopago", "applied")
	m.ObserveNotificationLatency("mercadopago", 0.2)

	if got := testutil.ToFloat64(m.bookingsTotal.WithLabelValues("reserved")); got != 2 {
		t.Fatalf("expected 2 reserved bookings, got %v", got)
	}
	if got := testutil.ToFloat64(m.transitionsTotal.WithLabelValues("paid", "false")); got != 1 {
		t.Fatalf("expected 1 ignored paid transition, got %v", got)
	}
}

func TestBookingMetricsNilSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveBooking("reserved")
	m.ObserveTransition("expired", true)
	m.ObserveNotification("stripe", "unresolved")
	m.ObserveNotificationLatency("stripe", 0.1)
}
