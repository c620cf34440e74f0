package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: решения движка по типу события (allowed, deny, throttle ...)
	Decisions *prometheus.CounterVec

	// Latency: сколько движок реально продержал вызывающего
	WaitDuration *prometheus.HistogramVec

	// Saturation: сколько ключей (сессия, домен) сейчас в памяти
	TrackedKeys prometheus.Gauge

	// GC: сколько ключей выселил sweep
	Evictions prometheus.Counter

	// Errors: cooldown, взведенные после ошибки сайта
	SiteErrors prometheus.Counter

	// Saturation: состояние Circuit Breaker исполнителя (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Decisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pacer_decisions_total",
			Help: "Total number of admission decisions by outcome.",
		}, []string{"outcome", "profile"}),

		WaitDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pacer_wait_duration_seconds",
			Help:    "Histogram of time callers were suspended by the pacer.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"profile"}),

		TrackedKeys: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pacer_tracked_keys",
			Help: "Current number of (session, domain) keys held in memory.",
		}),

		Evictions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pacer_sweep_evictions_total",
			Help: "Total number of idle keys evicted by the sweeper.",
		}),

		SiteErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pacer_site_errors_total",
			Help: "Total number of recorded site-side errors that armed a cooldown.",
		}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "pacer_circuit_breaker_state",
			Help: "Current state of the executor circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"executor"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pacer_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}
