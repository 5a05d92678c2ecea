package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds all Prometheus instruments. Each instance owns its own
// registry so tests can create throwaway sets without collisions.
type Metrics struct {
	APICalls         *prometheus.CounterVec // labels: outcome
	APIRetries       prometheus.Counter
	OrdersPlaced     *prometheus.CounterVec // labels: side
	StopLossTriggers prometheus.Counter
	CacheLookups     *prometheus.CounterVec // labels: result
	CycleDuration    prometheus.Histogram
	Equity           prometheus.Gauge

	registry *prometheus.Registry
}

// New registers and returns all instruments.
func New() *Metrics {
	m := &Metrics{
		APICalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_api_calls_total",
			Help: "Brokerage API calls by outcome",
		}, []string{"outcome"}),
		APIRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "folio_api_retries_total",
			Help: "Transient-failure retries issued by the gateway",
		}),
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_orders_placed_total",
			Help: "Orders submitted to the broker by side",
		}, []string{"side"}),
		StopLossTriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "folio_stop_loss_triggers_total",
			Help: "Automated stop-loss liquidations",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_decision_cache_lookups_total",
			Help: "Decision cache lookups by result",
		}, []string{"result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "folio_cycle_duration_seconds",
			Help:    "Portfolio processing cycle duration",
			Buckets: prometheus.DefBuckets,
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "folio_equity_dollars",
			Help: "Last computed total equity",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.APICalls, m.APIRetries, m.OrdersPlaced, m.StopLossTriggers,
		m.CacheLookups, m.CycleDuration, m.Equity,
	)
	return m
}

// ObserveCycle records a completed processing cycle.
func (m *Metrics) ObserveCycle(start time.Time) {
	m.CycleDuration.Observe(time.Since(start).Seconds())
}

// Serve exposes /metrics on addr. Blocks; run in a goroutine.
func (m *Metrics) Serve(addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	log.Info().Str("addr", addr).Msg("telemetry listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("telemetry server stopped")
	}
}
