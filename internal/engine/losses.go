package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"autotrade-engine/internal/models"
	"autotrade-engine/internal/store"
)

// streakLookback bounds the ledger scan for the consecutive-loss
// streak; a streak longer than this has tripped the breaker long ago.
const streakLookback = 50

// LossSnapshot summarizes realized losses over the calendar buckets of
// the user's timezone.
type LossSnapshot struct {
	DailyPnL          float64
	WeeklyPnL         float64
	MonthlyPnL        float64
	ConsecutiveLosses int
	AsOf              time.Time
}

// LossTracker derives loss buckets and the consecutive-loss streak from
// the persisted P&L ledger, and trips the circuit breaker when a limit
// is breached. Deriving from the ledger rather than in-memory counters
// makes the buckets restart-safe.
type LossTracker struct {
	store   store.DataStore
	breaker *Breaker
	locks   *keyedMutex
	logger  zerolog.Logger
}

// NewLossTracker creates a loss tracker.
func NewLossTracker(ds store.DataStore, breaker *Breaker, locks *keyedMutex, logger zerolog.Logger) *LossTracker {
	return &LossTracker{store: ds, breaker: breaker, locks: locks, logger: logger}
}

// Snapshot computes the loss buckets and streak for a user. Bucket
// boundaries are calendar boundaries in the user's configured timezone.
func (t *LossTracker) Snapshot(ctx context.Context, settings *models.RiskSettings) (*LossSnapshot, error) {
	now := time.Now().In(settings.Location())
	snap := &LossSnapshot{AsOf: now}

	var err error
	snap.DailyPnL, err = t.store.RealizedPnLSince(ctx, settings.UserID, startOfDay(now))
	if err != nil {
		return nil, fmt.Errorf("daily pnl: %w", err)
	}
	snap.WeeklyPnL, err = t.store.RealizedPnLSince(ctx, settings.UserID, startOfWeek(now))
	if err != nil {
		return nil, fmt.Errorf("weekly pnl: %w", err)
	}
	snap.MonthlyPnL, err = t.store.RealizedPnLSince(ctx, settings.UserID, startOfMonth(now))
	if err != nil {
		return nil, fmt.Errorf("monthly pnl: %w", err)
	}

	recent, err := t.store.RecentClosedPnL(ctx, settings.UserID, streakLookback)
	if err != nil {
		return nil, fmt.Errorf("recent pnl: %w", err)
	}
	for _, pnl := range recent {
		if pnl >= 0 {
			break
		}
		snap.ConsecutiveLosses++
	}

	return snap, nil
}

// RecordClose records one realized close and, atomically with respect
// to signal evaluation for the same user, trips the breaker if a loss
// limit or the streak limit is now breached. The user lock guarantees
// no order is admitted between the record and the trip.
func (t *LossTracker) RecordClose(ctx context.Context, settings *models.RiskSettings, positionID string, pnl float64, closedAt time.Time) error {
	userID := settings.UserID
	t.locks.Lock(userID)
	defer t.locks.Unlock(userID)

	if err := t.store.RecordRealizedPnL(ctx, userID, positionID, pnl, closedAt); err != nil {
		return fmt.Errorf("recording close: %w", err)
	}

	snap, err := t.Snapshot(ctx, settings)
	if err != nil {
		return err
	}

	if reason, breached := t.breachedLimit(ctx, settings, snap); breached {
		if err := t.breaker.Pause(ctx, userID, reason, "system"); err != nil {
			return fmt.Errorf("tripping breaker: %w", err)
		}
	}
	return nil
}

// breachedLimit returns the first breached loss limit, if any.
func (t *LossTracker) breachedLimit(ctx context.Context, settings *models.RiskSettings, snap *LossSnapshot) (string, bool) {
	if settings.MaxConsecutiveLosses > 0 && snap.ConsecutiveLosses >= settings.MaxConsecutiveLosses {
		return fmt.Sprintf("%d consecutive losses", snap.ConsecutiveLosses), true
	}

	if settings.MaxDailyLossUSD > 0 && snap.DailyPnL <= -settings.MaxDailyLossUSD {
		return fmt.Sprintf("daily loss $%.2f exceeds limit $%.2f", -snap.DailyPnL, settings.MaxDailyLossUSD), true
	}

	equity, err := t.store.GetEquity(ctx, settings.UserID)
	if err != nil || equity <= 0 {
		return "", false
	}

	if settings.MaxDailyLossPercent > 0 && snap.DailyPnL < 0 &&
		-snap.DailyPnL/equity*100 >= settings.MaxDailyLossPercent {
		return fmt.Sprintf("daily loss %.2f%% exceeds limit %.2f%%", -snap.DailyPnL/equity*100, settings.MaxDailyLossPercent), true
	}
	if settings.MaxWeeklyLossPercent > 0 && snap.WeeklyPnL < 0 &&
		-snap.WeeklyPnL/equity*100 >= settings.MaxWeeklyLossPercent {
		return fmt.Sprintf("weekly loss %.2f%% exceeds limit %.2f%%", -snap.WeeklyPnL/equity*100, settings.MaxWeeklyLossPercent), true
	}
	if settings.MaxMonthlyLossPercent > 0 && snap.MonthlyPnL < 0 &&
		-snap.MonthlyPnL/equity*100 >= settings.MaxMonthlyLossPercent {
		return fmt.Sprintf("monthly loss %.2f%% exceeds limit %.2f%%", -snap.MonthlyPnL/equity*100, settings.MaxMonthlyLossPercent), true
	}

	return "", false
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// startOfWeek returns Monday 00:00 of t's week.
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := int(day.Weekday()) - int(time.Monday)
	if offset < 0 {
		offset += 7
	}
	return day.AddDate(0, 0, -offset)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
