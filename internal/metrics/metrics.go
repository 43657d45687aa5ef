package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters for booking and reconciliation flows.
type BookingMetrics struct {
	bookingsTotal      *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	notificationDelay  *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slotbooking",
			Subsystem: "appointments",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slotbooking",
			Subsystem: "appointments",
			Name:      "transitions_total",
			Help:      "Appointment status transitions, applied or ignored",
		}, []string{"to", "applied"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slotbooking",
			Subsystem: "payments",
			Name:      "notifications_total",
			Help:      "Payment notifications by provider and outcome",
		}, []string{"provider", "outcome"}),
		notificationDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "slotbooking",
			Subsystem: "payments",
			Name:      "notification_handling_seconds",
			Help:      "Latency of payment notification handling",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.transitionsTotal, m.notificationsTotal, m.notificationDelay)
	return m
}

func (m *BookingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveTransition(to string, applied bool) {
	if m == nil {
		return
	}
	label := "false"
	if applied {
		label = "true"
	}
	m.transitionsTotal.WithLabelValues(to, label).Inc()
}

func (m *BookingMetrics) ObserveNotification(provider, outcome string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *BookingMetrics) ObserveNotificationLatency(provider string, seconds float64) {
	if m == nil {
		return
	}
	m.notificationDelay.WithLabelValues(provider).Observe(seconds)
}
