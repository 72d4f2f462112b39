package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

type Metrics struct {
	// Traffic: обработанные сообщения по команде и исходу
	MessagesTotal *prometheus.CounterVec

	// Latency: время вызова бэкенда (Jira/мок)
	BackendCallDuration *prometheus.HistogramVec

	// Сообщения, оставленные в очереди после остановки пакета
	UnresolvedMessages prometheus.Counter

	// Недоставленные колбэки оркестратору
	CallbackFailures prometheus.Counter

	// Сообщения, ушедшие в dead-letter stream
	DeadLettered prometheus.Counter

	// Saturation: состояние Circuit Breaker (0 - closed, 1 - open, 2 - half-open)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		MessagesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_messages_total",
			Help: "Total number of processed commands by outcome.",
		}, []string{"command", "disposition"}),

		BackendCallDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_backend_call_duration_seconds",
			Help:    "Histogram of workflow backend call latencies.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"backend", "operation", "outcome"}),

		UnresolvedMessages: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "bridge_unresolved_messages_total",
			Help: "Messages left in the queue because the backend was unreachable.",
		}),

		CallbackFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "bridge_callback_failures_total",
			Help: "Callbacks that could not be delivered to the orchestrator.",
		}),

		DeadLettered: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "bridge_dead_lettered_total",
			Help: "Messages moved to the dead-letter stream.",
		}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open, 2=half-open).",
		}, []string{"backend"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "bridge_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}

// OnBreakerStateChange подключается к workflow.WithStateChange.
func (m *Metrics) OnBreakerStateChange(name string, _, to gobreaker.State) {
	var v float64
	switch to {
	case gobreaker.StateOpen:
		v = 1
	case gobreaker.StateHalfOpen:
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}
