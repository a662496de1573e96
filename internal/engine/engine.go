package engine

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/rs/zerolog"

	"autotrade-engine/internal/config"
	"autotrade-engine/internal/errors"
	"autotrade-engine/internal/models"
	"autotrade-engine/internal/notify"
	"autotrade-engine/internal/store"
	"autotrade-engine/internal/venue"
)

// Engine is the facade over evaluation, execution, monitoring and the
// circuit breaker. One Engine serves all users; per-user exclusivity is
// enforced with a keyed mutex held from validation through the initial
// order submission.
type Engine struct {
	cfg *config.Config

	store     store.DataStore
	venue     venue.Client
	breaker   *Breaker
	portfolio *PortfolioMonitor
	losses    *LossTracker
	validator *Validator
	executor  *Executor
	monitors  *MonitorManager
	notifier  *notify.Dispatcher
	locks     *keyedMutex
	logger    zerolog.Logger
}

// New wires up an engine from its collaborators.
func New(cfg *config.Config, ds store.DataStore, vc venue.Client, logger zerolog.Logger) *Engine {
	locks := newKeyedMutex()
	notifier := notify.NewDispatcher(cfg.Notifications, logger)
	breaker := NewBreaker(ds, notifier, logger)
	portfolio := NewPortfolioMonitor(ds, cfg.Engine.CorrelationGroups)
	losses := NewLossTracker(ds, breaker, locks, logger)
	executor := NewExecutor(vc, ds, breaker, notifier, cfg.Execution, cfg.Monitor, logger)
	validator := NewValidator(breaker, portfolio, logger)
	monitors := NewMonitorManager(vc, ds, executor, losses, notifier, cfg.Monitor, logger)

	return &Engine{
		cfg:       cfg,
		store:     ds,
		venue:     vc,
		breaker:   breaker,
		portfolio: portfolio,
		losses:    losses,
		validator: validator,
		executor:  executor,
		monitors:  monitors,
		notifier:  notifier,
		locks:     locks,
		logger:    logger,
	}
}

// SignalOutcome is the combined result of evaluating and, when
// approved, executing a signal.
type SignalOutcome struct {
	Evaluation *models.Evaluation
	Execution  *ExecResult
}

// EvaluateSignal runs the full pipeline for one signal: validation and
// sizing under the user's lock, initial submission under the same lock,
// retries outside it. An approved evaluation whose execution later
// fails still reports Approved; the execution result carries the
// failure.
func (e *Engine) EvaluateSignal(ctx context.Context, userID string, signal *models.Signal) (*SignalOutcome, error) {
	if err := validateSignal(signal); err != nil {
		return nil, err
	}

	settings, err := e.Settings(ctx, userID)
	if err != nil {
		return nil, err
	}

	e.locks.Lock(userID)
	locked := true
	unlock := func() {
		if locked {
			e.locks.Unlock(userID)
			locked = false
		}
	}
	defer unlock()

	equity, err := e.store.GetEquity(ctx, userID)
	if err != nil {
		return nil, err
	}

	eval, err := e.validator.Validate(ctx, signal, settings, equity)
	if err != nil {
		return nil, err
	}
	if !eval.Approved {
		return &SignalOutcome{Evaluation: eval}, nil
	}

	result, execErr := e.executor.Execute(ctx, eval.Order, settings, unlock)
	if result != nil && result.Position != nil {
		e.monitors.Watch(result.Position, settings)
	}

	outcome := &SignalOutcome{Evaluation: eval, Execution: result}
	if execErr != nil && !stderrors.Is(execErr, errors.ErrTradingPaused) {
		e.logger.Error().Err(execErr).Str("order_id", eval.Order.ID).Msg("Execution failed")
	}
	return outcome, nil
}

// RiskReport combines the portfolio snapshot, loss buckets and breaker
// state for one user.
type RiskReport struct {
	Snapshot *RiskSnapshot
	Losses   *LossSnapshot
	Breaker  *models.CircuitBreakerState
}

// PortfolioRisk returns the current risk report for a user.
func (e *Engine) PortfolioRisk(ctx context.Context, userID string) (*RiskReport, error) {
	settings, err := e.Settings(ctx, userID)
	if err != nil {
		return nil, err
	}

	snap, err := e.portfolio.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	snap.FinalizeMargin(settings)

	losses, err := e.losses.Snapshot(ctx, settings)
	if err != nil {
		return nil, err
	}

	breaker, err := e.breaker.State(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &RiskReport{Snapshot: snap, Losses: losses, Breaker: breaker}, nil
}

// Pause trips the user's circuit breaker. Open positions keep their
// monitors; only new entries are blocked.
func (e *Engine) Pause(ctx context.Context, userID, reason, by string) error {
	return e.breaker.Pause(ctx, userID, reason, by)
}

// Resume returns a paused user to active trading.
func (e *Engine) Resume(ctx context.Context, userID, by string) error {
	return e.breaker.Resume(ctx, userID, by)
}

// KillSwitch moves the user to the killed state, cancels all monitors
// and retry loops, and force-closes every open position at market.
// Idempotent: a second invocation finds nothing left to close.
func (e *Engine) KillSwitch(ctx context.Context, userID, by string) error {
	settings, err := e.Settings(ctx, userID)
	if err != nil {
		return err
	}

	if err := e.breaker.Kill(ctx, userID, by); err != nil {
		return err
	}
	return e.monitors.ForceCloseUser(ctx, settings, models.CloseKillSwitch)
}

// Settings loads a user's risk settings, installing defaults on first
// contact.
func (e *Engine) Settings(ctx context.Context, userID string) (*models.RiskSettings, error) {
	settings, err := e.store.GetRiskSettings(ctx, userID)
	if err == nil {
		return settings, nil
	}
	if !stderrors.Is(err, errors.ErrSettingsNotFound) {
		return nil, err
	}

	settings = models.DefaultRiskSettings(userID)
	if err := e.store.SaveRiskSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("installing default settings: %w", err)
	}
	return settings, nil
}

// ResumeUser restarts position monitors for a user's open positions,
// typically at process start.
func (e *Engine) ResumeUser(ctx context.Context, userID string) error {
	settings, err := e.Settings(ctx, userID)
	if err != nil {
		return err
	}
	return e.monitors.Resume(ctx, settings)
}

// Shutdown stops all monitors and waits for them to exit.
func (e *Engine) Shutdown() {
	e.monitors.Shutdown()
}

// Monitors exposes the monitor manager for operational tooling.
func (e *Engine) Monitors() *MonitorManager { return e.monitors }

// Breaker exposes the circuit breaker for operational tooling.
func (e *Engine) CircuitBreaker() *Breaker { return e.breaker }
