package resilience

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Breaker collectors. They stay nil, and breakers record nothing, until
// MustRegisterMetrics is called.
var (
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
	BreakerRejected    *prometheus.CounterVec
)

// MustRegisterMetrics creates the breaker collectors under namespace and
// registers them with reg, reusing collectors that are already registered.
func MustRegisterMetrics(namespace string, reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	state := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "breaker_state",
		Help:      "Current breaker state: 0=closed, 1=open, 2=half-open.",
	}, []string{"target"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "breaker_transitions_total",
		Help:      "Count of breaker state transitions.",
	}, []string{"target", "from", "to"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "breaker_rejected_total",
		Help:      "Calls refused without reaching the dependency.",
	}, []string{"target"})

	BreakerState = register(reg, state)
	BreakerTransitions = register(reg, transitions)
	BreakerRejected = register(reg, rejected)
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func setStateGauge(target string, s State) {
	if BreakerState == nil {
		return
	}
	v := -1.0
	switch s {
	case Closed:
		v = 0
	case Open:
		v = 1
	case HalfOpen:
		v = 2
	}
	BreakerState.WithLabelValues(target).Set(v)
}

func countTransition(target string, from, to State) {
	if BreakerTransitions != nil {
		BreakerTransitions.WithLabelValues(target, from.String(), to.String()).Inc()
	}
}

func countRejected(target string) {
	if BreakerRejected != nil {
		BreakerRejected.WithLabelValues(target).Inc()
	}
}
