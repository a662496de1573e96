// Package monitoring exposes Prometheus metrics for the engine.
package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	signalsEvaluated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_signals_evaluated_total",
			Help: "Total signals evaluated, by outcome",
		},
		[]string{"user", "outcome"},
	)

	rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_rejections_total",
			Help: "Pre-trade rejections by reason",
		},
		[]string{"user", "reason"},
	)

	executionAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_execution_attempts_total",
			Help: "Order execution attempts by status",
		},
		[]string{"user", "status"},
	)

	executionRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_execution_retries_total",
			Help: "Order execution retries after transient failures",
		},
		[]string{"user"},
	)

	slippage = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_fill_slippage_percent",
			Help:    "Realized fill slippage in percent",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"user"},
	)

	breakerTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_breaker_trips_total",
			Help: "Circuit breaker trips by reason",
		},
		[]string{"user", "reason"},
	)

	openPositions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_open_positions",
			Help: "Currently open positions",
		},
		[]string{"user"},
	)

	portfolioHeat = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_portfolio_heat_percent",
			Help: "Total at-risk capital as percent of equity",
		},
		[]string{"user"},
	)

	positionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_positions_closed_total",
			Help: "Positions fully closed by reason",
		},
		[]string{"user", "reason"},
	)
)

func init() {
	prometheus.MustRegister(
		signalsEvaluated,
		rejections,
		executionAttempts,
		executionRetries,
		slippage,
		breakerTrips,
		openPositions,
		portfolioHeat,
		positionsClosed,
	)
}

// RecordEvaluation records a signal evaluation outcome ("approved" or
// "rejected").
func RecordEvaluation(user, outcome string) {
	signalsEvaluated.WithLabelValues(user, outcome).Inc()
}

// RecordRejection records a pre-trade rejection by reason.
func RecordRejection(user, reason string) {
	rejections.WithLabelValues(user, reason).Inc()
}

// RecordExecutionAttempt records one execution attempt by status.
func RecordExecutionAttempt(user, status string) {
	executionAttempts.WithLabelValues(user, status).Inc()
}

// RecordRetry records an execution retry.
func RecordRetry(user string) {
	executionRetries.WithLabelValues(user).Inc()
}

// RecordSlippage records realized fill slippage.
func RecordSlippage(user string, pct float64) {
	slippage.WithLabelValues(user).Observe(pct)
}

// RecordBreakerTrip records a circuit breaker trip.
func RecordBreakerTrip(user, reason string) {
	breakerTrips.WithLabelValues(user, reason).Inc()
}

// SetOpenPositions sets the open position gauge for a user.
func SetOpenPositions(user string, n int) {
	openPositions.WithLabelValues(user).Set(float64(n))
}

// SetPortfolioHeat sets the portfolio heat gauge for a user.
func SetPortfolioHeat(user string, heat float64) {
	portfolioHeat.WithLabelValues(user).Set(heat)
}

// RecordPositionClosed records a fully closed position by reason.
func RecordPositionClosed(user, reason string) {
	positionsClosed.WithLabelValues(user, reason).Inc()
}

// Server serves the Prometheus scrape endpoint.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer creates a metrics server listening on addr.
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		srv:    &http.Server{Addr: addr, Handler: mux},
		logger: logger,
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("Metrics server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
