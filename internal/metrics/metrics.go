package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "satsprice"

// Metrics groups the collectors updated by the session and the HTTP sources.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	fetchTotal    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	ratesReturned *prometheus.GaugeVec
	lastRefresh   prometheus.Gauge
	rate          *prometheus.GaugeVec
	staleDropped  prometheus.Counter
	breakerState  *prometheus.GaugeVec
	httpRequests  *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_total",
		Help:      "Price fetches by source and outcome",
	}, []string{"source", "outcome"})
	m.fetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Time spent in FetchMany",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source"})
	m.ratesReturned = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rates_returned",
		Help:      "Number of rates returned by the last fetch",
	}, []string{"source"})
	m.lastRefresh = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_refresh_timestamp_seconds",
		Help:      "Unix timestamp of the last applied refresh",
	})
	m.rate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "btc",
		Name:      "price",
		Help:      "Applied price of 1 BTC per currency",
	}, []string{"currency"})
	m.staleDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_results_dropped_total",
		Help:      "Fetch results discarded after a source switch",
	})
	m.breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
	}, []string{"name"})
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Upstream HTTP requests by provider and status",
	}, []string{"provider", "status"})

	m.registry.MustRegister(
		m.fetchTotal, m.fetchDuration, m.ratesReturned, m.lastRefresh,
		m.rate, m.staleDropped, m.breakerState, m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveFetch records one FetchMany call.
func (m *Metrics) ObserveFetch(source string, requested, returned int, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case returned == 0:
		outcome = "empty"
	case returned < requested:
		outcome = "partial"
	}
	m.fetchTotal.WithLabelValues(source, outcome).Inc()
	m.fetchDuration.WithLabelValues(source).Observe(d.Seconds())
	m.ratesReturned.WithLabelValues(source).Set(float64(returned))
}

// SetRefreshed records the time of an applied refresh.
func (m *Metrics) SetRefreshed(at time.Time) {
	if m == nil {
		return
	}
	m.lastRefresh.Set(float64(at.Unix()))
}

// SetRate records the applied rate for code. A zero rate removes the series.
func (m *Metrics) SetRate(code string, rate decimal.Decimal) {
	if m == nil {
		return
	}
	if !rate.IsPositive() {
		m.rate.DeleteLabelValues(code)
		return
	}
	m.rate.WithLabelValues(code).Set(rate.InexactFloat64())
}

// ResetRates drops every rate series.
func (m *Metrics) ResetRates() {
	if m == nil {
		return
	}
	m.rate.Reset()
}

// StaleDropped counts a discarded fetch result.
func (m *Metrics) StaleDropped() {
	if m == nil {
		return
	}
	m.staleDropped.Inc()
}

// SetBreakerState records a circuit breaker transition.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

// ObserveRequest counts an upstream HTTP request. status is the HTTP status
// code, or "error" for transport failures.
func (m *Metrics) ObserveRequest(provider, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(provider, status).Inc()
}

// Gatherer exposes the registry for tests and custom handlers.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics and /healthz on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Metrics endpoint listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
