package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutIntentTotal counts order intent submissions by outcome.
	CheckoutIntentTotal *prometheus.CounterVec
	// CheckoutPollTotal counts individual status queries by source and observed outcome.
	CheckoutPollTotal *prometheus.CounterVec
	// CheckoutPollLatency records status query latency in milliseconds.
	CheckoutPollLatency *prometheus.HistogramVec
	// CheckoutTransitionsTotal counts state machine transitions.
	CheckoutTransitionsTotal *prometheus.CounterVec
	// CheckoutActivePollers tracks pollers currently running.
	CheckoutActivePollers prometheus.Gauge
	// CheckoutSessions tracks open checkout sessions.
	CheckoutSessions prometheus.Gauge
	// CheckoutEventStreams tracks websocket clients attached to sessions.
	CheckoutEventStreams prometheus.Gauge
	// DeliveryEmailTotal counts deliverable e-mail task outcomes.
	DeliveryEmailTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers the checkout and
// delivery collectors. Only the first call has an effect.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutIntentTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_intent_total",
			Help:      "Count of order intent submissions by outcome.",
		}, []string{"result"}))
		CheckoutPollTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_poll_total",
			Help:      "Count of payment status queries by source and result.",
		}, []string{"source", "result"}))
		CheckoutPollLatency = registerOrReuse(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_poll_duration_ms",
			Help:      "Latency for payment status queries in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"source"}))
		CheckoutTransitionsTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_transitions_total",
			Help:      "Count of checkout state machine transitions.",
		}, []string{"from", "to"}))
		CheckoutActivePollers = registerOrReuse(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkout_active_pollers",
			Help:      "Number of payment status pollers currently running.",
		}))
		CheckoutSessions = registerOrReuse(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkout_sessions",
			Help:      "Number of open checkout sessions.",
		}))
		CheckoutEventStreams = registerOrReuse(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkout_event_streams",
			Help:      "Number of websocket clients watching a checkout session.",
		}))
		DeliveryEmailTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_email_total",
			Help:      "Count of deliverable e-mail task outcomes.",
		}, []string{"result"}))
	})
}

// IncCounter increments a labelled counter when it has been registered.
func IncCounter(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}

// AddGauge adjusts a gauge when it has been registered.
func AddGauge(g prometheus.Gauge, delta float64) {
	if g == nil {
		return
	}
	g.Add(delta)
}
