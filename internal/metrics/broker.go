package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Broker-related Prometheus metrics. They live in a standalone package so the
// broker and the HTTP layer can both record without importing each other.

var (
	AttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkbroker_attempts_total",
		Help: "Intentos de conexión terminados por plataforma y resultado",
	}, []string{"platform", "outcome"}) // outcome: connected|failed|cancelled

	AttemptsLive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "linkbroker_attempts_live",
		Help: "Intentos en estado no terminal por plataforma",
	}, []string{"platform"})

	AttemptDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "linkbroker_attempt_duration_seconds",
		Help:    "Duración desde initiating hasta el estado terminal",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"platform", "outcome"})

	ResolverCandidateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkbroker_resolver_candidate_total",
		Help: "Resultados por candidato del endpoint resolver",
	}, []string{"candidate", "result"}) // result: ok|http_error|transport_error|bad_body|synthesized

	DeferredCompletionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkbroker_deferred_completions_total",
		Help: "Completions diferidas por vía (code_id|state) y resultado",
	}, []string{"path", "result"})

	BackendParkedCodesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkbroker_backend_parked_codes_total",
		Help: "Códigos estacionados por el backend de referencia y su destino",
	}, []string{"event"}) // event: parked|consumed|expired
)

// Register registers the broker metrics on the given registry (or default if nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		AttemptsTotal,
		AttemptsLive,
		AttemptDuration,
		ResolverCandidateTotal,
		DeferredCompletionsTotal,
		BackendParkedCodesTotal,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// ObserveAttempt records a terminal attempt.
func ObserveAttempt(platform, outcome string, elapsed time.Duration) {
	AttemptsTotal.WithLabelValues(platform, outcome).Inc()
	AttemptDuration.WithLabelValues(platform, outcome).Observe(elapsed.Seconds())
}
