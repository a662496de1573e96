package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"autotrade-engine/internal/config"
	"autotrade-engine/internal/errors"
	"autotrade-engine/internal/logging"
	"autotrade-engine/internal/models"
	"autotrade-engine/internal/monitoring"
	"autotrade-engine/internal/notify"
	"autotrade-engine/internal/store"
	"autotrade-engine/internal/venue"
	"autotrade-engine/pkg/utils"
)

// ExecResult is the outcome of a full execution sequence.
type ExecResult struct {
	Status   models.ExecutionStatus
	Fill     *venue.Fill
	Position *models.Position
	Attempts int
}

// Executor submits orders to the venue with bounded retries. Every
// attempt produces exactly one append-only execution log record. The
// breaker is re-checked before every attempt so a pause lands between
// retries, not after them.
type Executor struct {
	venue    venue.Client
	store    store.DataStore
	breaker  *Breaker
	notifier *notify.Dispatcher
	cfg      config.ExecutionConfig
	monCfg   config.MonitorConfig
	logger   zerolog.Logger
}

// NewExecutor creates a trade executor.
func NewExecutor(vc venue.Client, ds store.DataStore, breaker *Breaker, notifier *notify.Dispatcher, cfg config.ExecutionConfig, monCfg config.MonitorConfig, logger zerolog.Logger) *Executor {
	return &Executor{
		venue:    vc,
		store:    ds,
		breaker:  breaker,
		notifier: notifier,
		cfg:      cfg,
		monCfg:   monCfg,
		logger:   logger,
	}
}

// Execute runs the retry loop for an approved order. releaseLock, when
// non-nil, is invoked exactly once after the first placement attempt
// returns, so the caller's per-user lock covers validation plus initial
// submission but not the backoff sleeps.
func (e *Executor) Execute(ctx context.Context, order *models.Order, settings *models.RiskSettings, releaseLock func()) (*ExecResult, error) {
	released := false
	release := func() {
		if !released && releaseLock != nil {
			releaseLock()
		}
		released = true
	}
	defer release()

	result := &ExecResult{}
	var lastErr error

	for attempt := 0; attempt < e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			monitoring.RecordRetry(order.UserID)
			delay := utils.CalculateBackoff(attempt-1, e.cfg.BaseRetryDelay, e.cfg.MaxRetryDelay, 2.0)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}

		// A pause or kill that lands mid-sequence aborts the next
		// attempt; closes are exempt.
		if !order.ReduceOnly {
			allowed, err := e.breaker.TradingAllowed(ctx, order.UserID)
			if err != nil {
				return result, err
			}
			if !allowed {
				e.logAttempt(ctx, order, attempt, nil, nil, models.ExecAbortedPaused, errors.ErrTradingPaused)
				release()
				result.Status = models.ExecAbortedPaused
				result.Attempts = attempt + 1
				return result, errors.ErrTradingPaused
			}
		}

		status, fill, market, latency, err := e.attempt(ctx, order)
		result.Attempts = attempt + 1
		e.logAttemptWithLatency(ctx, order, attempt, fill, market, status, err, latency)

		if status.Filled() {
			result.Status = status
			result.Fill = fill
			// The position is persisted before the lock releases so a
			// concurrent evaluation for the same user sees it.
			pos, perr := e.openPosition(ctx, order, settings, fill)
			release()
			if perr != nil {
				return result, perr
			}
			result.Position = pos
			return result, nil
		}
		release()

		if status == models.ExecRejected {
			result.Status = status
			return result, err
		}

		lastErr = err
	}

	result.Status = models.ExecExhaustedRetries
	return result, errors.NewExecutionError(order.ID, order.Symbol, result.Attempts, "retries exhausted", lastErr)
}

// attempt performs one venue round trip and classifies the outcome.
func (e *Executor) attempt(ctx context.Context, order *models.Order) (models.ExecutionStatus, *venue.Fill, *venue.MarketData, time.Duration, error) {
	market, err := e.venue.MarketData(ctx, order.Symbol)
	if err != nil {
		if errors.IsTransient(err) {
			return models.ExecTransientError, nil, nil, 0, err
		}
		return models.ExecRejected, nil, nil, 0, err
	}

	order.Type, order.LimitPx = e.chooseOrderType(order, market)

	start := time.Now()
	fill, err := e.venue.PlaceOrder(ctx, venue.OrderRequest{
		Symbol:  order.Symbol,
		Side:    order.Side,
		Type:    order.Type,
		Units:   order.SizeUnits,
		LimitPx: order.LimitPx,
	})
	latency := time.Since(start)

	if err != nil {
		if errors.IsTransient(err) {
			return models.ExecTransientError, nil, market, latency, err
		}
		return models.ExecRejected, nil, market, latency, err
	}

	status := models.ExecFilled
	if fill.FilledUnits < order.SizeUnits {
		status = models.ExecPartialFill
	}

	slippage := slippagePercent(order, fill)
	monitoring.RecordSlippage(order.UserID, slippage)
	if slippage > e.cfg.SlippageTolerance {
		// Advisory only: the fill stands, the anomaly is flagged.
		status = models.ExecExcessSlippage
		if rerr := e.breaker.RecordAnomaly(ctx, order.UserID); rerr != nil {
			e.logger.Warn().Err(rerr).Msg("Recording slippage anomaly failed")
		}
		e.notifier.Send(notify.Event{
			Type:    notify.EventExcessSlippage,
			UserID:  order.UserID,
			Message: fmt.Sprintf("%s fill slipped %.3f%% (tolerance %.3f%%)", order.Symbol, slippage, e.cfg.SlippageTolerance),
		})
	}

	return status, fill, market, latency, nil
}

// chooseOrderType picks market vs limit. Urgent or high-confidence
// signals, and tight spreads, take the market; otherwise a limit order
// rests slightly inside the spread.
func (e *Executor) chooseOrderType(order *models.Order, market *venue.MarketData) (models.OrderType, float64) {
	if order.Urgency >= e.cfg.MarketOrderThreshold ||
		order.Confidence >= e.cfg.MarketOrderThreshold ||
		market.SpreadPercent() <= e.cfg.MaxSpreadPercent {
		return models.OrderTypeMarket, 0
	}

	offset := market.Price * e.cfg.LimitOffsetPercent / 100
	if order.Side == models.SideLong {
		return models.OrderTypeLimit, market.Price - offset
	}
	return models.OrderTypeLimit, market.Price + offset
}

// openPosition creates and persists the position for a standing fill.
func (e *Executor) openPosition(ctx context.Context, order *models.Order, settings *models.RiskSettings, fill *venue.Fill) (*models.Position, error) {
	pos := &models.Position{
		ID:             uuid.NewString(),
		UserID:         order.UserID,
		Symbol:         order.Symbol,
		Side:           order.Side,
		EntryPrice:     fill.ExecutedPrice,
		OriginalStop:   order.StopPrice,
		CurrentStop:    order.StopPrice,
		OriginalUnits:  fill.FilledUnits,
		RemainingUnits: fill.FilledUnits,
		OriginalUSD:    fill.ExecutedPrice * fill.FilledUnits,
		PeakPrice:      fill.ExecutedPrice,
		HealthScore:    100,
		Status:         models.PositionOpen,
		OpenedAt:       time.Now(),
	}
	if settings.EnableScaleOut {
		for i, r := range e.monCfg.ScaleOutRMultiples {
			pos.ScaleOut = append(pos.ScaleOut, models.ScaleOutLeg{
				RMultiple: r,
				Fraction:  e.monCfg.ScaleOutFractions[i],
			})
		}
	}
	if err := e.store.SavePosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("persisting position: %w", err)
	}
	return pos, nil
}

// Close submits a reduce-only market order for part or all of a
// position. Closes bypass the breaker check: reducing risk is always
// permitted. The venue round trip is retried like any other order.
func (e *Executor) Close(ctx context.Context, pos *models.Position, units float64) (*venue.Fill, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := utils.CalculateBackoff(attempt-1, e.cfg.BaseRetryDelay, e.cfg.MaxRetryDelay, 2.0)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		start := time.Now()
		fill, err := e.venue.ClosePosition(ctx, pos.Symbol, pos.Side, units)
		latency := time.Since(start)

		order := &models.Order{
			ID:          uuid.NewString(),
			UserID:      pos.UserID,
			Symbol:      pos.Symbol,
			Side:        pos.Side.Opposite(),
			Type:        models.OrderTypeMarket,
			SizeUnits:   units,
			RequestedPx: pos.EntryPrice,
			ReduceOnly:  true,
		}
		if err != nil {
			status := models.ExecRejected
			if errors.IsTransient(err) {
				status = models.ExecTransientError
			}
			e.logAttempt(ctx, order, attempt, nil, nil, status, err)
			if status == models.ExecRejected {
				return nil, err
			}
			lastErr = err
			continue
		}

		rec := e.buildRecord(order, attempt, fill, nil, models.ExecFilled, nil)
		rec.Latency = latency
		if err := e.store.AppendExecutionLog(ctx, rec); err != nil {
			e.logger.Error().Err(err).Msg("Appending execution log failed")
		}
		return fill, nil
	}
	return nil, errors.NewExecutionError("", pos.Symbol, e.cfg.MaxRetries, "close retries exhausted", lastErr)
}

func (e *Executor) logAttempt(ctx context.Context, order *models.Order, attempt int, fill *venue.Fill, market *venue.MarketData, status models.ExecutionStatus, err error) {
	e.logAttemptWithLatency(ctx, order, attempt, fill, market, status, err, 0)
}

func (e *Executor) logAttemptWithLatency(ctx context.Context, order *models.Order, attempt int, fill *venue.Fill, market *venue.MarketData, status models.ExecutionStatus, err error, latency time.Duration) {
	rec := e.buildRecord(order, attempt, fill, market, status, err)
	rec.Latency = latency
	if serr := e.store.AppendExecutionLog(ctx, rec); serr != nil {
		e.logger.Error().Err(serr).Msg("Appending execution log failed")
	}
	logging.LogExecution(e.logger, order.ID, order.Symbol, string(status), attempt, rec.SlippagePct)
	monitoring.RecordExecutionAttempt(order.UserID, string(status))
}

func (e *Executor) buildRecord(order *models.Order, attempt int, fill *venue.Fill, market *venue.MarketData, status models.ExecutionStatus, err error) *models.ExecutionLogRecord {
	rec := &models.ExecutionLogRecord{
		ID:             uuid.NewString(),
		UserID:         order.UserID,
		OrderID:        order.ID,
		Symbol:         order.Symbol,
		Side:           order.Side,
		OrderType:      order.Type,
		RequestedPrice: order.RequestedPx,
		RequestedUnits: order.SizeUnits,
		Status:         status,
		RetryCount:     attempt,
		CreatedAt:      time.Now(),
	}
	if fill != nil {
		rec.ExecutedPrice = fill.ExecutedPrice
		rec.FilledUnits = fill.FilledUnits
		rec.Fees = fill.Fees
		rec.SlippagePct = slippagePercent(order, fill)
	}
	if market != nil {
		rec.Market = models.MarketSnapshot{
			Price:     market.Price,
			Bid:       market.Bid,
			Ask:       market.Ask,
			SpreadPct: market.SpreadPercent(),
			Timestamp: market.Timestamp,
		}
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

// slippagePercent returns realized slippage in percent, positive when
// the fill is worse than requested for the taker.
func slippagePercent(order *models.Order, fill *venue.Fill) float64 {
	if order.RequestedPx <= 0 {
		return 0
	}
	diff := fill.ExecutedPrice - order.RequestedPx
	if order.Side == models.SideShort {
		diff = -diff
	}
	return diff / order.RequestedPx * 100
}
