// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"autotrade-engine/internal/models"
)

// DataStore defines the persistence contract used by the engine. The
// execution log is append-only: records are inserted and queried, never
// updated or deleted.
type DataStore interface {
	// Risk settings
	GetRiskSettings(ctx context.Context, userID string) (*models.RiskSettings, error)
	SaveRiskSettings(ctx context.Context, settings *models.RiskSettings) error

	// Account equity
	GetEquity(ctx context.Context, userID string) (float64, error)
	SaveEquity(ctx context.Context, userID string, equity float64) error

	// Positions
	SavePosition(ctx context.Context, pos *models.Position) error
	UpdatePosition(ctx context.Context, pos *models.Position) error
	GetPosition(ctx context.Context, id string) (*models.Position, error)
	GetOpenPositions(ctx context.Context, userID string) ([]*models.Position, error)

	// Execution log (append-only)
	AppendExecutionLog(ctx context.Context, rec *models.ExecutionLogRecord) error
	GetExecutionLog(ctx context.Context, filter ExecutionLogFilter) ([]models.ExecutionLogRecord, error)

	// Circuit breaker state
	GetBreakerState(ctx context.Context, userID string) (*models.CircuitBreakerState, error)
	SaveBreakerState(ctx context.Context, state *models.CircuitBreakerState) error

	// Realized P&L ledger
	RecordRealizedPnL(ctx context.Context, userID, positionID string, pnl float64, closedAt time.Time) error
	RealizedPnLSince(ctx context.Context, userID string, since time.Time) (float64, error)
	RecentClosedPnL(ctx context.Context, userID string, limit int) ([]float64, error)

	// Lifecycle
	Close() error
}

// ExecutionLogFilter filters execution log queries.
type ExecutionLogFilter struct {
	UserID  string
	OrderID string
	Symbol  string
	Since   time.Time
	Limit   int
}
