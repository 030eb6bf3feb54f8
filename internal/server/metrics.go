package server

import (
	"net/http"
	"time"

	"loyaltymint/internal/mint"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry       *prometheus.Registry
	attemptsTotal  *prometheus.CounterVec
	rejectedTotal  *prometheus.CounterVec
	replayedTotal  prometheus.Counter
	attemptSeconds *prometheus.HistogramVec
	inFlight       prometheus.Gauge
	journalErrors  prometheus.Counter
}

func newMetricsRegistry() *metricsRegistry {
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loyaltymint_mint_attempts_total",
		Help: "Finished mint attempts by status and failure reason",
	}, []string{"status", "reason"})

	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loyaltymint_mint_requests_rejected_total",
		Help: "Mint requests turned away before an attempt started",
	}, []string{"cause"})

	replayed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loyaltymint_mint_replays_total",
		Help: "Mint requests answered from the journal for a repeated idempotency key",
	})

	seconds := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loyaltymint_mint_attempt_seconds",
		Help:    "Wall time of finished mint attempts, including wallet approval",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"status"})

	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "loyaltymint_mint_in_flight",
		Help: "1 while a mint attempt is running",
	})

	journalErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loyaltymint_journal_errors_total",
		Help: "Outcomes that could not be written to the journal",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(attempts, rejected, replayed, seconds, inFlight, journalErrors)

	return &metricsRegistry{
		registry:       r,
		attemptsTotal:  attempts,
		rejectedTotal:  rejected,
		replayedTotal:  replayed,
		attemptSeconds: seconds,
		inFlight:       inFlight,
		journalErrors:  journalErrors,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) observeOutcome(o mint.Outcome) {
	m.attemptsTotal.WithLabelValues(string(o.Status), string(o.Reason)).Inc()
	if !o.FinishedAt.IsZero() && !o.StartedAt.IsZero() {
		m.attemptSeconds.WithLabelValues(string(o.Status)).Observe(o.FinishedAt.Sub(o.StartedAt).Seconds())
	}
}

func (m *metricsRegistry) incRejected(cause string) {
	m.rejectedTotal.WithLabelValues(cause).Inc()
}

func (m *metricsRegistry) incReplayed() {
	m.replayedTotal.Inc()
}

func (m *metricsRegistry) setInFlight(running bool) {
	if running {
		m.inFlight.Set(1)
		return
	}
	m.inFlight.Set(0)
}

func (m *metricsRegistry) incJournalError() {
	m.journalErrors.Inc()
}

func elapsedSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
