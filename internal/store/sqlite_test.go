package store

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"autotrade-engine/internal/errors"
	"autotrade-engine/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRiskSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetRiskSettings(ctx, "nobody"); !stderrors.Is(err, errors.ErrSettingsNotFound) {
		t.Fatalf("missing settings error = %v, want ErrSettingsNotFound", err)
	}

	rs := models.DefaultRiskSettings("u1")
	rs.SizingMethod = models.SizingKelly
	rs.Timezone = "America/New_York"
	rs.MaxHoldingDuration = 36 * time.Hour
	rs.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	if err := s.SaveRiskSettings(ctx, rs); err != nil {
		t.Fatalf("SaveRiskSettings: %v", err)
	}

	got, err := s.GetRiskSettings(ctx, "u1")
	if err != nil {
		t.Fatalf("GetRiskSettings: %v", err)
	}
	if got.SizingMethod != models.SizingKelly {
		t.Errorf("SizingMethod = %s", got.SizingMethod)
	}
	if got.Timezone != "America/New_York" {
		t.Errorf("Timezone = %s", got.Timezone)
	}
	if got.MaxHoldingDuration != 36*time.Hour {
		t.Errorf("MaxHoldingDuration = %v", got.MaxHoldingDuration)
	}
	if !got.EnableTrailingStop || got.EnablePyramiding {
		t.Errorf("flags = trailing:%v pyramiding:%v", got.EnableTrailingStop, got.EnablePyramiding)
	}

	// Upsert overwrites.
	rs.MaxOpenPositions = 9
	if err := s.SaveRiskSettings(ctx, rs); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetRiskSettings(ctx, "u1")
	if got.MaxOpenPositions != 9 {
		t.Errorf("MaxOpenPositions = %d, want 9", got.MaxOpenPositions)
	}
}

func TestPositionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pos := &models.Position{
		ID:             uuid.NewString(),
		UserID:         "u1",
		Symbol:         "BTC-USD",
		Side:           models.SideLong,
		EntryPrice:     45000,
		OriginalStop:   44000,
		CurrentStop:    44000,
		OriginalUnits:  0.02,
		RemainingUnits: 0.02,
		OriginalUSD:    900,
		ScaleOut: []models.ScaleOutLeg{
			{RMultiple: 1, Fraction: 0.25},
			{RMultiple: 2, Fraction: 0.25},
		},
		PeakPrice: 45000,
		Status:    models.PositionOpen,
		OpenedAt:  time.Now().UTC().Truncate(time.Second),
	}
	if err := s.SavePosition(ctx, pos); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}

	open, err := s.GetOpenPositions(ctx, "u1")
	if err != nil {
		t.Fatalf("GetOpenPositions: %v", err)
	}
	if len(open) != 1 || len(open[0].ScaleOut) != 2 {
		t.Fatalf("open = %+v, want 1 position with 2 legs", open)
	}

	pos.ScaleOut[0].Consumed = true
	pos.RemainingUnits = 0.015
	pos.CurrentStop = 44800
	pos.TrailingActive = true
	if err := s.UpdatePosition(ctx, pos); err != nil {
		t.Fatalf("UpdatePosition: %v", err)
	}

	got, err := s.GetPosition(ctx, pos.ID)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if !got.ScaleOut[0].Consumed || got.ScaleOut[1].Consumed {
		t.Errorf("legs = %+v", got.ScaleOut)
	}
	if !got.TrailingActive || got.CurrentStop != 44800 {
		t.Errorf("trailing state = %v/%v", got.TrailingActive, got.CurrentStop)
	}

	pos.Status = models.PositionClosed
	pos.CloseReason = models.CloseStopHit
	pos.ClosedAt = time.Now()
	if err := s.UpdatePosition(ctx, pos); err != nil {
		t.Fatal(err)
	}
	open, _ = s.GetOpenPositions(ctx, "u1")
	if len(open) != 0 {
		t.Errorf("closed position still listed as open")
	}

	if err := s.UpdatePosition(ctx, &models.Position{ID: "missing"}); !stderrors.Is(err, errors.ErrPositionNotFound) {
		t.Errorf("updating missing position = %v, want ErrPositionNotFound", err)
	}
}

func TestExecutionLogAppendAndFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	orderA, orderB := uuid.NewString(), uuid.NewString()
	for i, rec := range []*models.ExecutionLogRecord{
		{OrderID: orderA, Symbol: "BTC-USD", Status: models.ExecTransientError, RetryCount: 0},
		{OrderID: orderA, Symbol: "BTC-USD", Status: models.ExecFilled, RetryCount: 1},
		{OrderID: orderB, Symbol: "ETH-USD", Status: models.ExecRejected, RetryCount: 0},
	} {
		rec.ID = uuid.NewString()
		rec.UserID = "u1"
		rec.Side = models.SideLong
		rec.OrderType = models.OrderTypeMarket
		rec.CreatedAt = base.Add(time.Duration(i) * time.Second)
		rec.Market = models.MarketSnapshot{Price: 45000, Bid: 44995, Ask: 45005}
		if err := s.AppendExecutionLog(ctx, rec); err != nil {
			t.Fatalf("AppendExecutionLog: %v", err)
		}
	}

	byOrder, err := s.GetExecutionLog(ctx, ExecutionLogFilter{OrderID: orderA})
	if err != nil {
		t.Fatalf("GetExecutionLog: %v", err)
	}
	if len(byOrder) != 2 {
		t.Fatalf("records for order = %d, want 2", len(byOrder))
	}
	if byOrder[0].RetryCount != 0 || byOrder[1].RetryCount != 1 {
		t.Errorf("records out of order: %+v", byOrder)
	}
	if byOrder[0].Market.Price != 45000 {
		t.Errorf("market snapshot lost: %+v", byOrder[0].Market)
	}

	bySymbol, _ := s.GetExecutionLog(ctx, ExecutionLogFilter{UserID: "u1", Symbol: "ETH-USD"})
	if len(bySymbol) != 1 || bySymbol[0].Status != models.ExecRejected {
		t.Errorf("symbol filter = %+v", bySymbol)
	}

	since, _ := s.GetExecutionLog(ctx, ExecutionLogFilter{UserID: "u1", Since: base.Add(time.Second)})
	if len(since) != 2 {
		t.Errorf("since filter = %d records, want 2", len(since))
	}
}

func TestBreakerStateDefaultsToActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st, err := s.GetBreakerState(ctx, "u1")
	if err != nil {
		t.Fatalf("GetBreakerState: %v", err)
	}
	if st.Status != models.CircuitActive {
		t.Errorf("fresh status = %s, want ACTIVE", st.Status)
	}

	st.Status = models.CircuitPaused
	st.PauseReason = "3 consecutive losses"
	st.PausedBy = "system"
	st.TrippedAt = time.Now().UTC().Truncate(time.Second)
	st.AnomalyCount = 2
	if err := s.SaveBreakerState(ctx, st); err != nil {
		t.Fatalf("SaveBreakerState: %v", err)
	}

	got, _ := s.GetBreakerState(ctx, "u1")
	if got.Status != models.CircuitPaused || got.PauseReason != "3 consecutive losses" || got.AnomalyCount != 2 {
		t.Errorf("reloaded = %+v", got)
	}
}

func TestPnLLedgerSumsAndStreakOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	entries := []struct {
		pnl float64
		at  time.Time
	}{
		{100, now.Add(-72 * time.Hour)},
		{-30, now.Add(-2 * time.Hour)},
		{-20, now.Add(-time.Hour)},
		{-10, now},
	}
	for i, e := range entries {
		if err := s.RecordRealizedPnL(ctx, "u1", uuid.NewString(), e.pnl, e.at); err != nil {
			t.Fatalf("RecordRealizedPnL(%d): %v", i, err)
		}
	}

	sum, err := s.RealizedPnLSince(ctx, "u1", now.Add(-3*time.Hour))
	if err != nil {
		t.Fatalf("RealizedPnLSince: %v", err)
	}
	if sum != -60 {
		t.Errorf("sum = %.2f, want -60", sum)
	}

	recent, err := s.RecentClosedPnL(ctx, "u1", 3)
	if err != nil {
		t.Fatalf("RecentClosedPnL: %v", err)
	}
	want := []float64{-10, -20, -30}
	if len(recent) != 3 {
		t.Fatalf("recent = %v, want 3 entries", recent)
	}
	for i := range want {
		if recent[i] != want[i] {
			t.Errorf("recent[%d] = %.2f, want %.2f (newest first)", i, recent[i], want[i])
		}
	}

	// Other users are isolated.
	if sum, _ := s.RealizedPnLSince(ctx, "u2", now.Add(-100*time.Hour)); sum != 0 {
		t.Errorf("foreign user sum = %.2f, want 0", sum)
	}
}

func TestEquityUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if eq, err := s.GetEquity(ctx, "u1"); err != nil || eq != 0 {
		t.Fatalf("fresh equity = %.2f err=%v, want 0", eq, err)
	}
	if err := s.SaveEquity(ctx, "u1", 10000); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveEquity(ctx, "u1", 10500); err != nil {
		t.Fatal(err)
	}
	if eq, _ := s.GetEquity(ctx, "u1"); eq != 10500 {
		t.Errorf("equity = %.2f, want 10500", eq)
	}
}
