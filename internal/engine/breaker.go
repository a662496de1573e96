package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"autotrade-engine/internal/errors"
	"autotrade-engine/internal/logging"
	"autotrade-engine/internal/models"
	"autotrade-engine/internal/monitoring"
	"autotrade-engine/internal/notify"
	"autotrade-engine/internal/store"
)

// Breaker manages per-user circuit breaker state. State transitions are
// persisted before they take effect in memory, so a restart never
// resurrects a tripped user as active. Transitions are idempotent:
// pausing a paused user or killing a killed user is a no-op.
type Breaker struct {
	mu    sync.RWMutex
	cache map[string]*models.CircuitBreakerState

	store    store.DataStore
	notifier *notify.Dispatcher
	logger   zerolog.Logger
}

// NewBreaker creates a circuit breaker backed by the given store.
func NewBreaker(ds store.DataStore, notifier *notify.Dispatcher, logger zerolog.Logger) *Breaker {
	return &Breaker{
		cache:    make(map[string]*models.CircuitBreakerState),
		store:    ds,
		notifier: notifier,
		logger:   logger,
	}
}

// State returns the current breaker state for a user, loading it from
// the store on first access.
func (b *Breaker) State(ctx context.Context, userID string) (*models.CircuitBreakerState, error) {
	b.mu.RLock()
	st, ok := b.cache[userID]
	b.mu.RUnlock()
	if ok {
		cp := *st
		return &cp, nil
	}

	st, err := b.store.GetBreakerState(ctx, userID)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	if cached, ok := b.cache[userID]; ok {
		st = cached
	} else {
		b.cache[userID] = st
	}
	cp := *st
	b.mu.Unlock()
	return &cp, nil
}

// TradingAllowed reports whether new risk-increasing orders may be
// submitted for the user. Closes are always permitted.
func (b *Breaker) TradingAllowed(ctx context.Context, userID string) (bool, error) {
	st, err := b.State(ctx, userID)
	if err != nil {
		return false, err
	}
	return st.TradingAllowed(), nil
}

// Pause trips the breaker into the paused state. No-op when already
// paused; a killed user stays killed.
func (b *Breaker) Pause(ctx context.Context, userID, reason, by string) error {
	return b.transition(ctx, userID, func(st *models.CircuitBreakerState) bool {
		if st.Status != models.CircuitActive {
			return false
		}
		st.Status = models.CircuitPaused
		st.PauseReason = reason
		st.PausedBy = by
		st.TrippedAt = time.Now()
		return true
	}, func(st *models.CircuitBreakerState) {
		logging.LogBreakerTrip(b.logger, userID, string(st.Status), reason)
		monitoring.RecordBreakerTrip(userID, reason)
		b.notifier.Send(notify.Event{
			Type:    notify.EventBreakerTripped,
			UserID:  userID,
			Message: fmt.Sprintf("Trading paused: %s", reason),
			Fields:  map[string]string{"paused_by": by},
		})
	})
}

// Resume returns a paused user to active. Resuming an active user is a
// no-op; a killed user cannot be resumed.
func (b *Breaker) Resume(ctx context.Context, userID, by string) error {
	st, err := b.State(ctx, userID)
	if err != nil {
		return err
	}
	if st.Status == models.CircuitKilled {
		return errors.ErrKillSwitchActive
	}
	return b.transition(ctx, userID, func(st *models.CircuitBreakerState) bool {
		if st.Status != models.CircuitPaused {
			return false
		}
		st.Status = models.CircuitActive
		st.PauseReason = ""
		st.PausedBy = ""
		st.AnomalyCount = 0
		return true
	}, func(st *models.CircuitBreakerState) {
		logging.LogBreakerTrip(b.logger, userID, string(st.Status), "resumed by "+by)
	})
}

// Kill moves the user to the killed state. The caller is responsible
// for closing positions and cancelling monitors; Kill only transitions
// state.
func (b *Breaker) Kill(ctx context.Context, userID, by string) error {
	return b.transition(ctx, userID, func(st *models.CircuitBreakerState) bool {
		if st.Status == models.CircuitKilled {
			return false
		}
		st.Status = models.CircuitKilled
		st.PauseReason = "kill switch"
		st.PausedBy = by
		st.TrippedAt = time.Now()
		return true
	}, func(st *models.CircuitBreakerState) {
		logging.LogBreakerTrip(b.logger, userID, string(st.Status), "kill switch")
		monitoring.RecordBreakerTrip(userID, "kill_switch")
		b.notifier.Send(notify.Event{
			Type:    notify.EventKillSwitch,
			UserID:  userID,
			Message: "Kill switch engaged; closing all positions",
			Fields:  map[string]string{"engaged_by": by},
		})
	})
}

// RecordAnomaly increments the user's anomaly counter (e.g. a fill with
// excess slippage).
func (b *Breaker) RecordAnomaly(ctx context.Context, userID string) error {
	return b.transition(ctx, userID, func(st *models.CircuitBreakerState) bool {
		st.AnomalyCount++
		return true
	}, nil)
}

// transition applies mutate under the breaker lock and persists the new
// state if mutate reports a change. after runs outside the lock.
func (b *Breaker) transition(ctx context.Context, userID string, mutate func(*models.CircuitBreakerState) bool, after func(*models.CircuitBreakerState)) error {
	// Warm the cache outside the write lock.
	if _, err := b.State(ctx, userID); err != nil {
		return err
	}

	b.mu.Lock()
	st := b.cache[userID]
	prev := *st
	if !mutate(st) {
		b.mu.Unlock()
		return nil
	}
	if err := b.store.SaveBreakerState(ctx, st); err != nil {
		*st = prev
		b.mu.Unlock()
		return fmt.Errorf("persisting breaker state: %w", err)
	}
	cp := *st
	b.mu.Unlock()

	if after != nil {
		after(&cp)
	}
	return nil
}
