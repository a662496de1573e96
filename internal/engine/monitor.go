package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"autotrade-engine/internal/config"
	"autotrade-engine/internal/errors"
	"autotrade-engine/internal/logging"
	"autotrade-engine/internal/models"
	"autotrade-engine/internal/monitoring"
	"autotrade-engine/internal/notify"
	"autotrade-engine/internal/store"
	"autotrade-engine/internal/venue"
)

// MonitorManager runs one goroutine per open position. Each monitor
// exclusively owns its position's mutable state between fill and full
// close; nothing else updates a live position. Monitors never take the
// per-user evaluation lock: closes reduce risk and are always allowed.
type MonitorManager struct {
	mu       sync.Mutex
	monitors map[string]*positionMonitor // keyed by position id
	wg       sync.WaitGroup

	venue    venue.Client
	store    store.DataStore
	executor *Executor
	losses   *LossTracker
	notifier *notify.Dispatcher
	cfg      config.MonitorConfig
	logger   zerolog.Logger
}

type positionMonitor struct {
	pos      *models.Position
	settings *models.RiskSettings
	cancel   context.CancelFunc
}

// NewMonitorManager creates a monitor manager.
func NewMonitorManager(vc venue.Client, ds store.DataStore, executor *Executor, losses *LossTracker, notifier *notify.Dispatcher, cfg config.MonitorConfig, logger zerolog.Logger) *MonitorManager {
	return &MonitorManager{
		monitors: make(map[string]*positionMonitor),
		venue:    vc,
		store:    ds,
		executor: executor,
		losses:   losses,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// Watch starts a monitor goroutine for a position. Watching an already
// watched position is a no-op.
func (m *MonitorManager) Watch(pos *models.Position, settings *models.RiskSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.monitors[pos.ID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	mon := &positionMonitor{pos: pos, settings: settings, cancel: cancel}
	m.monitors[pos.ID] = mon

	m.wg.Add(1)
	go m.run(ctx, mon)
}

// Unwatch cancels the monitor for a position, if any.
func (m *MonitorManager) Unwatch(positionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mon, ok := m.monitors[positionID]; ok {
		mon.cancel()
		delete(m.monitors, positionID)
	}
}

// CancelUser cancels all monitors for one user without closing the
// positions. Used by the kill switch before force-closing.
func (m *MonitorManager) CancelUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, mon := range m.monitors {
		if mon.pos.UserID == userID {
			mon.cancel()
			delete(m.monitors, id)
		}
	}
}

// Shutdown cancels all monitors and waits for them to exit.
func (m *MonitorManager) Shutdown() {
	m.mu.Lock()
	for id, mon := range m.monitors {
		mon.cancel()
		delete(m.monitors, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Resume restarts monitors for all open positions of a user, typically
// at process start.
func (m *MonitorManager) Resume(ctx context.Context, settings *models.RiskSettings) error {
	positions, err := m.store.GetOpenPositions(ctx, settings.UserID)
	if err != nil {
		return fmt.Errorf("loading open positions: %w", err)
	}
	for _, pos := range positions {
		if pos.Status == models.PositionOpen {
			m.Watch(pos, settings)
		}
	}
	return nil
}

// ForceCloseUser cancels all of a user's monitors and closes every
// open position at market. Used by the kill switch; close failures are
// collected rather than aborting the sweep so one bad symbol cannot
// leave the rest open.
func (m *MonitorManager) ForceCloseUser(ctx context.Context, settings *models.RiskSettings, reason models.CloseReason) error {
	m.CancelUser(settings.UserID)

	positions, err := m.store.GetOpenPositions(ctx, settings.UserID)
	if err != nil {
		return fmt.Errorf("loading open positions: %w", err)
	}

	var errs []error
	for _, pos := range positions {
		if err := m.closeAll(ctx, pos, settings, reason); err != nil {
			m.logger.Error().Err(err).Str("position_id", pos.ID).Msg("Force close failed")
			if perr := m.parkForReview(ctx, pos, err); perr != nil {
				errs = append(errs, perr)
			}
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (m *MonitorManager) run(ctx context.Context, mon *positionMonitor) {
	defer m.wg.Done()
	logger := logging.WithPosition(logging.WithSymbol(m.logger, mon.pos.Symbol), mon.pos.ID)
	logger.Debug().Msg("Position monitor started")

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("Position monitor stopped")
			return
		case <-ticker.C:
			done, err := m.Tick(ctx, mon.pos, mon.settings)
			if err != nil {
				logger.Warn().Err(err).Msg("Monitor tick failed")
				var die *errors.DataInconsistencyError
				if stderrors.As(err, &die) {
					m.Unwatch(mon.pos.ID)
					return
				}
				continue
			}
			if done {
				m.Unwatch(mon.pos.ID)
				return
			}
		}
	}
}

// Tick runs one monitoring pass over a position: ratchet the trailing
// stop, check the stop, consume due scale-out legs, check the holding
// limit, refresh the health score. Returns true when the position is
// fully closed. Tick is idempotent: re-running it against the same
// market state makes no further changes.
func (m *MonitorManager) Tick(ctx context.Context, pos *models.Position, settings *models.RiskSettings) (bool, error) {
	market, err := m.venue.MarketData(ctx, pos.Symbol)
	if err != nil {
		if errors.IsTransient(err) {
			// Skip the tick; next poll retries.
			return false, nil
		}
		// The symbol is gone: park the position for a human instead of
		// guessing at a close price.
		return false, m.parkForReview(ctx, pos, err)
	}
	price := market.Price

	m.updatePeak(pos, price)
	m.updateTrailingStop(pos, settings, price)
	pos.HealthScore = healthScore(pos, price)

	if stopHit(pos, price) {
		return true, m.closeAll(ctx, pos, settings, models.CloseStopHit)
	}

	if settings.EnableScaleOut {
		closedOut, err := m.applyScaleOut(ctx, pos, settings, price)
		if err != nil {
			return false, err
		}
		if closedOut {
			return true, nil
		}
	}

	if settings.MaxHoldingDuration > 0 && time.Since(pos.OpenedAt) >= settings.MaxHoldingDuration &&
		!reachedBreakeven(pos, price) {
		return true, m.closeAll(ctx, pos, settings, models.CloseTimeExit)
	}

	if err := m.store.UpdatePosition(ctx, pos); err != nil {
		return false, fmt.Errorf("persisting position: %w", err)
	}
	return false, nil
}

func (m *MonitorManager) updatePeak(pos *models.Position, price float64) {
	if pos.Side == models.SideLong {
		if price > pos.PeakPrice {
			pos.PeakPrice = price
		}
	} else {
		if price < pos.PeakPrice {
			pos.PeakPrice = price
		}
	}
}

// updateTrailingStop activates the trail once unrealized gain reaches
// the activation threshold, then ratchets the stop behind the peak.
// The stop only ever tightens.
func (m *MonitorManager) updateTrailingStop(pos *models.Position, settings *models.RiskSettings, price float64) {
	if !settings.EnableTrailingStop {
		return
	}

	if !pos.TrailingActive {
		gainPct := pos.FavorableMove(price) / pos.EntryPrice * 100
		if gainPct < m.cfg.TrailingActivation {
			return
		}
		pos.TrailingActive = true
	}

	trail := settings.TrailingStopPercent / 100
	if pos.Side == models.SideLong {
		candidate := pos.PeakPrice * (1 - trail)
		if candidate > pos.CurrentStop {
			pos.CurrentStop = candidate
		}
	} else {
		candidate := pos.PeakPrice * (1 + trail)
		if candidate < pos.CurrentStop {
			pos.CurrentStop = candidate
		}
	}
}

// reachedBreakeven reports whether the position trades on the
// profitable side of entry, now or at any point since open. The time
// exit only culls positions that never got there; a working position
// is left to its stops.
func reachedBreakeven(pos *models.Position, price float64) bool {
	return pos.FavorableMove(price) > 0 || pos.FavorableMove(pos.PeakPrice) > 0
}

func stopHit(pos *models.Position, price float64) bool {
	if pos.Side == models.SideLong {
		return price <= pos.CurrentStop
	}
	return price >= pos.CurrentStop
}

// applyScaleOut consumes every leg whose R-multiple threshold the
// current price has reached. Legs are consumed at most once; the
// consumed flag is persisted before the next tick so a restart cannot
// double-close a leg. Returns true when scale-out finished the
// position.
func (m *MonitorManager) applyScaleOut(ctx context.Context, pos *models.Position, settings *models.RiskSettings, price float64) (bool, error) {
	rValue := pos.RValue()
	if rValue <= 0 {
		return false, nil
	}
	move := pos.FavorableMove(price)

	for i := range pos.ScaleOut {
		leg := &pos.ScaleOut[i]
		if leg.Consumed || move < leg.RMultiple*rValue {
			continue
		}

		units := leg.Fraction * pos.OriginalUnits
		if units > pos.RemainingUnits {
			units = pos.RemainingUnits
		}
		if units <= 0 {
			leg.Consumed = true
			continue
		}

		fill, err := m.executor.Close(ctx, pos, units)
		if err != nil {
			// Leg stays unconsumed; the next tick retries.
			return false, fmt.Errorf("scale-out close: %w", err)
		}

		leg.Consumed = true
		pnl := pos.FavorableMove(fill.ExecutedPrice)*fill.FilledUnits - fill.Fees
		pos.RemainingUnits -= fill.FilledUnits
		pos.RealizedPnL += pnl

		logging.LogPositionClose(m.logger, pos.ID, pos.Symbol, string(models.CloseScaleOut), fill.FilledUnits, pnl)

		if pos.RemainingUnits <= 1e-9 {
			return true, m.finalize(ctx, pos, settings, models.CloseScaleOut)
		}
		if err := m.store.UpdatePosition(ctx, pos); err != nil {
			return false, fmt.Errorf("persisting scale-out: %w", err)
		}
	}
	return false, nil
}

// closeAll closes the full remaining size and finalizes the position.
func (m *MonitorManager) closeAll(ctx context.Context, pos *models.Position, settings *models.RiskSettings, reason models.CloseReason) error {
	pos.Status = models.PositionClosing
	if err := m.store.UpdatePosition(ctx, pos); err != nil {
		return fmt.Errorf("marking position closing: %w", err)
	}

	fill, err := m.executor.Close(ctx, pos, pos.RemainingUnits)
	if err != nil {
		return fmt.Errorf("closing position: %w", err)
	}

	pnl := pos.FavorableMove(fill.ExecutedPrice)*fill.FilledUnits - fill.Fees
	pos.RemainingUnits -= fill.FilledUnits
	pos.RealizedPnL += pnl

	logging.LogPositionClose(m.logger, pos.ID, pos.Symbol, string(reason), fill.FilledUnits, pnl)
	return m.finalize(ctx, pos, settings, reason)
}

// finalize archives a fully closed position and reports the realized
// result to the loss tracker.
func (m *MonitorManager) finalize(ctx context.Context, pos *models.Position, settings *models.RiskSettings, reason models.CloseReason) error {
	pos.Status = models.PositionClosed
	pos.CloseReason = reason
	pos.ClosedAt = time.Now()
	pos.RemainingUnits = 0
	if err := m.store.UpdatePosition(ctx, pos); err != nil {
		return fmt.Errorf("archiving position: %w", err)
	}

	monitoring.RecordPositionClosed(pos.UserID, string(reason))
	m.notifier.Send(notify.Event{
		Type:    notify.EventPositionClosed,
		UserID:  pos.UserID,
		Message: fmt.Sprintf("%s closed (%s), realized $%.2f", pos.Symbol, reason, pos.RealizedPnL),
	})

	if err := m.losses.RecordClose(ctx, settings, pos.ID, pos.RealizedPnL, pos.ClosedAt); err != nil {
		return fmt.Errorf("recording realized pnl: %w", err)
	}
	return nil
}

// parkForReview moves a position the engine cannot manage into manual
// review and stops monitoring it.
func (m *MonitorManager) parkForReview(ctx context.Context, pos *models.Position, cause error) error {
	pos.Status = models.PositionManualReview
	if err := m.store.UpdatePosition(ctx, pos); err != nil {
		return fmt.Errorf("parking position: %w", err)
	}
	m.notifier.Send(notify.Event{
		Type:    notify.EventManualReview,
		UserID:  pos.UserID,
		Message: fmt.Sprintf("%s parked for manual review: %v", pos.Symbol, cause),
	})
	return errors.NewDataInconsistencyError("position", pos.ID, cause.Error())
}

// healthScore grades an open position 0..100 from three signals:
// R-multiple progress, drawdown from the peak, and holding age.
func healthScore(pos *models.Position, price float64) float64 {
	score := 50.0

	if r := pos.RValue(); r > 0 {
		progress := pos.FavorableMove(price) / r
		score += progress * 20
	}

	if pos.PeakPrice > 0 {
		drawdown := pos.FavorableMove(pos.PeakPrice) - pos.FavorableMove(price)
		ddPct := drawdown / pos.EntryPrice * 100
		score -= ddPct * 5
	}

	age := time.Since(pos.OpenedAt)
	score -= age.Hours() / 24 * 2

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
