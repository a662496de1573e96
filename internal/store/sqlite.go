// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"autotrade-engine/internal/errors"
	"autotrade-engine/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS risk_settings (
		user_id TEXT PRIMARY KEY,
		sizing_method TEXT NOT NULL,
		max_position_size_usd REAL NOT NULL,
		max_position_size_percent REAL NOT NULL,
		target_risk_percent REAL NOT NULL,
		max_portfolio_heat REAL NOT NULL,
		max_open_positions INTEGER NOT NULL,
		max_leverage REAL NOT NULL,
		max_daily_loss_usd REAL NOT NULL,
		max_daily_loss_percent REAL NOT NULL,
		max_weekly_loss_percent REAL NOT NULL,
		max_monthly_loss_percent REAL NOT NULL,
		min_risk_reward_ratio REAL NOT NULL,
		max_correlated_positions INTEGER NOT NULL,
		max_single_asset_exposure_percent REAL NOT NULL,
		max_consecutive_losses INTEGER NOT NULL,
		enable_trailing_stop INTEGER NOT NULL,
		trailing_stop_percent REAL NOT NULL,
		enable_scale_out INTEGER NOT NULL,
		enable_pyramiding INTEGER NOT NULL,
		min_signal_confidence REAL NOT NULL,
		max_holding_seconds INTEGER NOT NULL,
		timezone TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS account_equity (
		user_id TEXT PRIMARY KEY,
		equity REAL NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		original_stop REAL NOT NULL,
		current_stop REAL NOT NULL,
		original_units REAL NOT NULL,
		remaining_units REAL NOT NULL,
		original_usd REAL NOT NULL,
		scale_out TEXT,
		trailing_active INTEGER NOT NULL DEFAULT 0,
		peak_price REAL NOT NULL DEFAULT 0,
		health_score REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		close_reason TEXT,
		realized_pnl REAL NOT NULL DEFAULT 0,
		opened_at DATETIME NOT NULL,
		closed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_positions_user_status ON positions(user_id, status);

	CREATE TABLE IF NOT EXISTS execution_log (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		order_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		order_type TEXT NOT NULL,
		requested_price REAL NOT NULL,
		executed_price REAL,
		slippage_pct REAL,
		requested_units REAL NOT NULL,
		filled_units REAL,
		fees REAL,
		latency_ms INTEGER,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL,
		error TEXT,
		market_snapshot TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_execution_log_user ON execution_log(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_execution_log_order ON execution_log(order_id);

	CREATE TABLE IF NOT EXISTS breaker_state (
		user_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		pause_reason TEXT,
		paused_by TEXT,
		tripped_at DATETIME,
		anomaly_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS pnl_ledger (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		position_id TEXT NOT NULL,
		pnl REAL NOT NULL,
		closed_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pnl_ledger_user ON pnl_ledger(user_id, closed_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// GetRiskSettings loads a user's risk settings.
func (s *SQLiteStore) GetRiskSettings(ctx context.Context, userID string) (*models.RiskSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sizing_method, max_position_size_usd, max_position_size_percent,
			target_risk_percent, max_portfolio_heat, max_open_positions, max_leverage,
			max_daily_loss_usd, max_daily_loss_percent, max_weekly_loss_percent,
			max_monthly_loss_percent, min_risk_reward_ratio, max_correlated_positions,
			max_single_asset_exposure_percent, max_consecutive_losses,
			enable_trailing_stop, trailing_stop_percent, enable_scale_out,
			enable_pyramiding, min_signal_confidence, max_holding_seconds,
			timezone, updated_at
		FROM risk_settings WHERE user_id = ?`, userID)

	rs := &models.RiskSettings{UserID: userID}
	var trailingStop, scaleOut, pyramiding int
	var holdingSeconds int64
	err := row.Scan(
		&rs.SizingMethod, &rs.MaxPositionSizeUSD, &rs.MaxPositionSizePercent,
		&rs.TargetRiskPercent, &rs.MaxPortfolioHeat, &rs.MaxOpenPositions, &rs.MaxLeverage,
		&rs.MaxDailyLossUSD, &rs.MaxDailyLossPercent, &rs.MaxWeeklyLossPercent,
		&rs.MaxMonthlyLossPercent, &rs.MinRiskRewardRatio, &rs.MaxCorrelatedPositions,
		&rs.MaxSingleAssetExposurePercent, &rs.MaxConsecutiveLosses,
		&trailingStop, &rs.TrailingStopPercent, &scaleOut,
		&pyramiding, &rs.MinSignalConfidence, &holdingSeconds,
		&rs.Timezone, &rs.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying risk settings: %w", err)
	}
	rs.EnableTrailingStop = trailingStop != 0
	rs.EnableScaleOut = scaleOut != 0
	rs.EnablePyramiding = pyramiding != 0
	rs.MaxHoldingDuration = time.Duration(holdingSeconds) * time.Second
	return rs, nil
}

// SaveRiskSettings upserts a user's risk settings.
func (s *SQLiteStore) SaveRiskSettings(ctx context.Context, rs *models.RiskSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_settings (
			user_id, sizing_method, max_position_size_usd, max_position_size_percent,
			target_risk_percent, max_portfolio_heat, max_open_positions, max_leverage,
			max_daily_loss_usd, max_daily_loss_percent, max_weekly_loss_percent,
			max_monthly_loss_percent, min_risk_reward_ratio, max_correlated_positions,
			max_single_asset_exposure_percent, max_consecutive_losses,
			enable_trailing_stop, trailing_stop_percent, enable_scale_out,
			enable_pyramiding, min_signal_confidence, max_holding_seconds,
			timezone, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			sizing_method=excluded.sizing_method,
			max_position_size_usd=excluded.max_position_size_usd,
			max_position_size_percent=excluded.max_position_size_percent,
			target_risk_percent=excluded.target_risk_percent,
			max_portfolio_heat=excluded.max_portfolio_heat,
			max_open_positions=excluded.max_open_positions,
			max_leverage=excluded.max_leverage,
			max_daily_loss_usd=excluded.max_daily_loss_usd,
			max_daily_loss_percent=excluded.max_daily_loss_percent,
			max_weekly_loss_percent=excluded.max_weekly_loss_percent,
			max_monthly_loss_percent=excluded.max_monthly_loss_percent,
			min_risk_reward_ratio=excluded.min_risk_reward_ratio,
			max_correlated_positions=excluded.max_correlated_positions,
			max_single_asset_exposure_percent=excluded.max_single_asset_exposure_percent,
			max_consecutive_losses=excluded.max_consecutive_losses,
			enable_trailing_stop=excluded.enable_trailing_stop,
			trailing_stop_percent=excluded.trailing_stop_percent,
			enable_scale_out=excluded.enable_scale_out,
			enable_pyramiding=excluded.enable_pyramiding,
			min_signal_confidence=excluded.min_signal_confidence,
			max_holding_seconds=excluded.max_holding_seconds,
			timezone=excluded.timezone,
			updated_at=excluded.updated_at`,
		rs.UserID, string(rs.SizingMethod), rs.MaxPositionSizeUSD, rs.MaxPositionSizePercent,
		rs.TargetRiskPercent, rs.MaxPortfolioHeat, rs.MaxOpenPositions, rs.MaxLeverage,
		rs.MaxDailyLossUSD, rs.MaxDailyLossPercent, rs.MaxWeeklyLossPercent,
		rs.MaxMonthlyLossPercent, rs.MinRiskRewardRatio, rs.MaxCorrelatedPositions,
		rs.MaxSingleAssetExposurePercent, rs.MaxConsecutiveLosses,
		boolToInt(rs.EnableTrailingStop), rs.TrailingStopPercent, boolToInt(rs.EnableScaleOut),
		boolToInt(rs.EnablePyramiding), rs.MinSignalConfidence, int64(rs.MaxHoldingDuration.Seconds()),
		rs.Timezone, rs.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving risk settings: %w", err)
	}
	return nil
}

// GetEquity returns a user's account equity snapshot.
func (s *SQLiteStore) GetEquity(ctx context.Context, userID string) (float64, error) {
	var equity float64
	err := s.db.QueryRowContext(ctx,
		`SELECT equity FROM account_equity WHERE user_id = ?`, userID).Scan(&equity)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying equity: %w", err)
	}
	return equity, nil
}

// SaveEquity upserts a user's account equity snapshot.
func (s *SQLiteStore) SaveEquity(ctx context.Context, userID string, equity float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_equity (user_id, equity, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET equity=excluded.equity, updated_at=CURRENT_TIMESTAMP`,
		userID, equity)
	if err != nil {
		return fmt.Errorf("saving equity: %w", err)
	}
	return nil
}

// SavePosition inserts a new position.
func (s *SQLiteStore) SavePosition(ctx context.Context, pos *models.Position) error {
	legs, err := json.Marshal(pos.ScaleOut)
	if err != nil {
		return fmt.Errorf("marshalling scale-out legs: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO positions (
			id, user_id, symbol, side, entry_price, original_stop, current_stop,
			original_units, remaining_units, original_usd, scale_out,
			trailing_active, peak_price, health_score, status, close_reason,
			realized_pnl, opened_at, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pos.ID, pos.UserID, pos.Symbol, string(pos.Side),
		pos.EntryPrice, pos.OriginalStop, pos.CurrentStop,
		pos.OriginalUnits, pos.RemainingUnits, pos.OriginalUSD, string(legs),
		boolToInt(pos.TrailingActive), pos.PeakPrice, pos.HealthScore,
		string(pos.Status), string(pos.CloseReason), pos.RealizedPnL,
		pos.OpenedAt, nullableTime(pos.ClosedAt))
	if err != nil {
		return fmt.Errorf("saving position: %w", err)
	}
	return nil
}

// UpdatePosition updates a position's mutable fields.
func (s *SQLiteStore) UpdatePosition(ctx context.Context, pos *models.Position) error {
	legs, err := json.Marshal(pos.ScaleOut)
	if err != nil {
		return fmt.Errorf("marshalling scale-out legs: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE positions SET
			current_stop = ?, remaining_units = ?, scale_out = ?,
			trailing_active = ?, peak_price = ?, health_score = ?,
			status = ?, close_reason = ?, realized_pnl = ?, closed_at = ?
		WHERE id = ?`,
		pos.CurrentStop, pos.RemainingUnits, string(legs),
		boolToInt(pos.TrailingActive), pos.PeakPrice, pos.HealthScore,
		string(pos.Status), string(pos.CloseReason), pos.RealizedPnL,
		nullableTime(pos.ClosedAt), pos.ID)
	if err != nil {
		return fmt.Errorf("updating position: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ErrPositionNotFound
	}
	return nil
}

// GetPosition loads a position by id.
func (s *SQLiteStore) GetPosition(ctx context.Context, id string) (*models.Position, error) {
	rows, err := s.db.QueryContext(ctx, positionSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("querying position: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, errors.ErrPositionNotFound
	}
	return scanPosition(rows)
}

// GetOpenPositions returns all open (or closing) positions for a user.
func (s *SQLiteStore) GetOpenPositions(ctx context.Context, userID string) ([]*models.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		positionSelect+` WHERE user_id = ? AND status IN ('OPEN', 'CLOSING') ORDER BY opened_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("querying open positions: %w", err)
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

const positionSelect = `
	SELECT id, user_id, symbol, side, entry_price, original_stop, current_stop,
		original_units, remaining_units, original_usd, scale_out,
		trailing_active, peak_price, health_score, status, close_reason,
		realized_pnl, opened_at, closed_at
	FROM positions`

func scanPosition(rows *sql.Rows) (*models.Position, error) {
	pos := &models.Position{}
	var side, status, closeReason, legsJSON string
	var trailingActive int
	var closedAt sql.NullTime
	err := rows.Scan(
		&pos.ID, &pos.UserID, &pos.Symbol, &side,
		&pos.EntryPrice, &pos.OriginalStop, &pos.CurrentStop,
		&pos.OriginalUnits, &pos.RemainingUnits, &pos.OriginalUSD, &legsJSON,
		&trailingActive, &pos.PeakPrice, &pos.HealthScore, &status, &closeReason,
		&pos.RealizedPnL, &pos.OpenedAt, &closedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning position: %w", err)
	}
	pos.Side = models.Side(side)
	pos.Status = models.PositionStatus(status)
	pos.CloseReason = models.CloseReason(closeReason)
	pos.TrailingActive = trailingActive != 0
	if closedAt.Valid {
		pos.ClosedAt = closedAt.Time
	}
	if legsJSON != "" {
		if err := json.Unmarshal([]byte(legsJSON), &pos.ScaleOut); err != nil {
			return nil, fmt.Errorf("unmarshalling scale-out legs: %w", err)
		}
	}
	return pos, nil
}

// AppendExecutionLog inserts one execution log record. The table has no
// update or delete path.
func (s *SQLiteStore) AppendExecutionLog(ctx context.Context, rec *models.ExecutionLogRecord) error {
	snapshot, err := json.Marshal(rec.Market)
	if err != nil {
		return fmt.Errorf("marshalling market snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_log (
			id, user_id, order_id, symbol, side, order_type,
			requested_price, executed_price, slippage_pct,
			requested_units, filled_units, fees, latency_ms,
			status, retry_count, error, market_snapshot, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.OrderID, rec.Symbol, string(rec.Side), string(rec.OrderType),
		rec.RequestedPrice, rec.ExecutedPrice, rec.SlippagePct,
		rec.RequestedUnits, rec.FilledUnits, rec.Fees, rec.Latency.Milliseconds(),
		string(rec.Status), rec.RetryCount, rec.Error, string(snapshot), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending execution log: %w", err)
	}
	return nil
}

// GetExecutionLog queries execution log records.
func (s *SQLiteStore) GetExecutionLog(ctx context.Context, filter ExecutionLogFilter) ([]models.ExecutionLogRecord, error) {
	query := `
		SELECT id, user_id, order_id, symbol, side, order_type,
			requested_price, executed_price, slippage_pct,
			requested_units, filled_units, fees, latency_ms,
			status, retry_count, error, market_snapshot, created_at
		FROM execution_log WHERE 1=1`
	var args []interface{}

	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.OrderID != "" {
		query += " AND order_id = ?"
		args = append(args, filter.OrderID)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since)
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying execution log: %w", err)
	}
	defer rows.Close()

	var records []models.ExecutionLogRecord
	for rows.Next() {
		var rec models.ExecutionLogRecord
		var side, orderType, status, snapshotJSON string
		var latencyMs int64
		err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.OrderID, &rec.Symbol, &side, &orderType,
			&rec.RequestedPrice, &rec.ExecutedPrice, &rec.SlippagePct,
			&rec.RequestedUnits, &rec.FilledUnits, &rec.Fees, &latencyMs,
			&status, &rec.RetryCount, &rec.Error, &snapshotJSON, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning execution log: %w", err)
		}
		rec.Side = models.Side(side)
		rec.OrderType = models.OrderType(orderType)
		rec.Status = models.ExecutionStatus(status)
		rec.Latency = time.Duration(latencyMs) * time.Millisecond
		if snapshotJSON != "" {
			if err := json.Unmarshal([]byte(snapshotJSON), &rec.Market); err != nil {
				return nil, fmt.Errorf("unmarshalling market snapshot: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetBreakerState loads a user's circuit breaker state; a user without a
// stored state is Active.
func (s *SQLiteStore) GetBreakerState(ctx context.Context, userID string) (*models.CircuitBreakerState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT status, pause_reason, paused_by, tripped_at, anomaly_count
		FROM breaker_state WHERE user_id = ?`, userID)

	st := &models.CircuitBreakerState{UserID: userID}
	var status string
	var trippedAt sql.NullTime
	err := row.Scan(&status, &st.PauseReason, &st.PausedBy, &trippedAt, &st.AnomalyCount)
	if err == sql.ErrNoRows {
		st.Status = models.CircuitActive
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying breaker state: %w", err)
	}
	st.Status = models.CircuitStatus(status)
	if trippedAt.Valid {
		st.TrippedAt = trippedAt.Time
	}
	return st, nil
}

// SaveBreakerState upserts a user's circuit breaker state.
func (s *SQLiteStore) SaveBreakerState(ctx context.Context, st *models.CircuitBreakerState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO breaker_state (user_id, status, pause_reason, paused_by, tripped_at, anomaly_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			status=excluded.status, pause_reason=excluded.pause_reason,
			paused_by=excluded.paused_by, tripped_at=excluded.tripped_at,
			anomaly_count=excluded.anomaly_count`,
		st.UserID, string(st.Status), st.PauseReason, st.PausedBy,
		nullableTime(st.TrippedAt), st.AnomalyCount)
	if err != nil {
		return fmt.Errorf("saving breaker state: %w", err)
	}
	return nil
}

// RecordRealizedPnL appends one realized P&L ledger entry.
func (s *SQLiteStore) RecordRealizedPnL(ctx context.Context, userID, positionID string, pnl float64, closedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pnl_ledger (user_id, position_id, pnl, closed_at) VALUES (?, ?, ?, ?)`,
		userID, positionID, pnl, closedAt)
	if err != nil {
		return fmt.Errorf("recording realized pnl: %w", err)
	}
	return nil
}

// RealizedPnLSince sums realized P&L from the given time.
func (s *SQLiteStore) RealizedPnLSince(ctx context.Context, userID string, since time.Time) (float64, error) {
	var sum sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(pnl) FROM pnl_ledger WHERE user_id = ? AND closed_at >= ?`,
		userID, since).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("summing realized pnl: %w", err)
	}
	return sum.Float64, nil
}

// RecentClosedPnL returns the most recent realized P&L values, newest
// first, for consecutive-loss streak hydration.
func (s *SQLiteStore) RecentClosedPnL(ctx context.Context, userID string, limit int) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pnl FROM pnl_ledger WHERE user_id = ? ORDER BY closed_at DESC, id DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent pnl: %w", err)
	}
	defer rows.Close()

	var pnls []float64
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return nil, err
		}
		pnls = append(pnls, pnl)
	}
	return pnls, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
