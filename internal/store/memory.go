package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"autotrade-engine/internal/errors"
	"autotrade-engine/internal/models"
)

// MemoryStore is an in-memory DataStore for paper mode and tests.
type MemoryStore struct {
	mu sync.RWMutex

	settings  map[string]*models.RiskSettings
	equity    map[string]float64
	positions map[string]*models.Position
	execLog   []models.ExecutionLogRecord
	breakers  map[string]*models.CircuitBreakerState
	pnl       []pnlEntry

	closed bool
}

type pnlEntry struct {
	userID     string
	positionID string
	pnl        float64
	closedAt   time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		settings:  make(map[string]*models.RiskSettings),
		equity:    make(map[string]float64),
		positions: make(map[string]*models.Position),
		breakers:  make(map[string]*models.CircuitBreakerState),
	}
}

func (m *MemoryStore) GetRiskSettings(ctx context.Context, userID string) (*models.RiskSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs, ok := m.settings[userID]
	if !ok {
		return nil, errors.ErrSettingsNotFound
	}
	cp := *rs
	return &cp, nil
}

func (m *MemoryStore) SaveRiskSettings(ctx context.Context, rs *models.RiskSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rs
	m.settings[rs.UserID] = &cp
	return nil
}

func (m *MemoryStore) GetEquity(ctx context.Context, userID string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.equity[userID], nil
}

func (m *MemoryStore) SaveEquity(ctx context.Context, userID string, equity float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity[userID] = equity
	return nil
}

func (m *MemoryStore) SavePosition(ctx context.Context, pos *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.ID] = copyPosition(pos)
	return nil
}

func (m *MemoryStore) UpdatePosition(ctx context.Context, pos *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[pos.ID]; !ok {
		return errors.ErrPositionNotFound
	}
	m.positions[pos.ID] = copyPosition(pos)
	return nil
}

func (m *MemoryStore) GetPosition(ctx context.Context, id string) (*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[id]
	if !ok {
		return nil, errors.ErrPositionNotFound
	}
	return copyPosition(pos), nil
}

func (m *MemoryStore) GetOpenPositions(ctx context.Context, userID string) ([]*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Position
	for _, pos := range m.positions {
		if pos.UserID != userID {
			continue
		}
		if pos.Status == models.PositionOpen || pos.Status == models.PositionClosing {
			out = append(out, copyPosition(pos))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (m *MemoryStore) AppendExecutionLog(ctx context.Context, rec *models.ExecutionLogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execLog = append(m.execLog, *rec)
	return nil
}

func (m *MemoryStore) GetExecutionLog(ctx context.Context, filter ExecutionLogFilter) ([]models.ExecutionLogRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ExecutionLogRecord
	for _, rec := range m.execLog {
		if filter.UserID != "" && rec.UserID != filter.UserID {
			continue
		}
		if filter.OrderID != "" && rec.OrderID != filter.OrderID {
			continue
		}
		if filter.Symbol != "" && rec.Symbol != filter.Symbol {
			continue
		}
		if !filter.Since.IsZero() && rec.CreatedAt.Before(filter.Since) {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) GetBreakerState(ctx context.Context, userID string) (*models.CircuitBreakerState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.breakers[userID]
	if !ok {
		return &models.CircuitBreakerState{UserID: userID, Status: models.CircuitActive}, nil
	}
	cp := *st
	return &cp, nil
}

func (m *MemoryStore) SaveBreakerState(ctx context.Context, st *models.CircuitBreakerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *st
	m.breakers[st.UserID] = &cp
	return nil
}

func (m *MemoryStore) RecordRealizedPnL(ctx context.Context, userID, positionID string, pnl float64, closedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pnl = append(m.pnl, pnlEntry{userID: userID, positionID: positionID, pnl: pnl, closedAt: closedAt})
	return nil
}

func (m *MemoryStore) RealizedPnLSince(ctx context.Context, userID string, since time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum float64
	for _, e := range m.pnl {
		if e.userID == userID && !e.closedAt.Before(since) {
			sum += e.pnl
		}
	}
	return sum, nil
}

func (m *MemoryStore) RecentClosedPnL(ctx context.Context, userID string, limit int) ([]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []pnlEntry
	for _, e := range m.pnl {
		if e.userID == userID {
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].closedAt.After(entries[j].closedAt) })
	var out []float64
	for _, e := range entries {
		out = append(out, e.pnl)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func copyPosition(pos *models.Position) *models.Position {
	cp := *pos
	cp.ScaleOut = make([]models.ScaleOutLeg, len(pos.ScaleOut))
	copy(cp.ScaleOut, pos.ScaleOut)
	return &cp
}
