package provider

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// callMetrics manages Prometheus instrumentation for provider calls.
type callMetrics struct {
	callDuration *prometheus.HistogramVec
	callResults  *prometheus.CounterVec
	breakerState prometheus.Gauge
}

var (
	callMetricsInstance *callMetrics
	callMetricsOnce     sync.Once
)

func getCallMetrics() *callMetrics {
	callMetricsOnce.Do(func() {
		callMetricsInstance = newCallMetrics()
		callMetricsInstance.register(prometheus.DefaultRegisterer)
	})
	return callMetricsInstance
}

func newCallMetrics() *callMetrics {
	return &callMetrics{
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "rflix",
				Subsystem: "provider",
				Name:      "call_duration_seconds",
				Help:      "Duration of provider calls per operation.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"operation", "result"},
		),
		callResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rflix",
				Subsystem: "provider",
				Name:      "calls_total",
				Help:      "Total provider calls partitioned by result.",
			},
			[]string{"operation", "result"},
		),
		breakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "rflix",
				Subsystem: "provider",
				Name:      "breaker_state",
				Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
			},
		),
	}
}

func (m *callMetrics) register(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range []prometheus.Collector{m.callDuration, m.callResults, m.breakerState} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}

func (m *callMetrics) observe(operation, result string, seconds float64) {
	m.callDuration.WithLabelValues(operation, result).Observe(seconds)
	m.callResults.WithLabelValues(operation, result).Inc()
}
