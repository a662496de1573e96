package engine

import (
	"context"
	stderrors "errors"
	"testing"

	"autotrade-engine/internal/errors"
	"autotrade-engine/internal/models"
	"autotrade-engine/internal/store"
)

func approvedOrder(t *testing.T, rig *testRig, userID string) (*models.Order, *models.RiskSettings) {
	t.Helper()
	settings, err := rig.store.GetRiskSettings(context.Background(), userID)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	eval, err := rig.engine.validator.Validate(context.Background(), testSignal(), settings, 10000)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !eval.Approved {
		t.Fatalf("validation rejected: %s", eval.Reason)
	}
	return eval.Order, settings
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	rig := newTestRig(t)
	rig.seedUser(t, "u1", 10000)
	rig.venue.SetPrice("BTC-USD", 45000)
	order, settings := approvedOrder(t, rig, "u1")

	rig.venue.FailNext(
		errors.NewTransientVenueError("TIMEOUT", "gateway timeout", nil),
		errors.NewTransientVenueError("RATE_LIMIT", "throttled", nil),
	)

	result, err := rig.engine.executor.Execute(context.Background(), order, settings, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != models.ExecFilled {
		t.Errorf("Status = %s, want filled", result.Status)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}

	records, err := rig.store.GetExecutionLog(context.Background(), store.ExecutionLogFilter{OrderID: order.ID})
	if err != nil {
		t.Fatalf("GetExecutionLog: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("log records = %d, want one per attempt", len(records))
	}
	wantStatuses := []models.ExecutionStatus{
		models.ExecTransientError,
		models.ExecTransientError,
		models.ExecFilled,
	}
	for i, rec := range records {
		if rec.Status != wantStatuses[i] {
			t.Errorf("record %d status = %s, want %s", i, rec.Status, wantStatuses[i])
		}
		if rec.RetryCount != i {
			t.Errorf("record %d retry count = %d, want %d", i, rec.RetryCount, i)
		}
	}
}

func TestExecuteExhaustsRetries(t *testing.T) {
	rig := newTestRig(t)
	rig.seedUser(t, "u1", 10000)
	rig.venue.SetPrice("BTC-USD", 45000)
	order, settings := approvedOrder(t, rig, "u1")

	rig.venue.FailNext(
		errors.NewTransientVenueError("TIMEOUT", "t1", nil),
		errors.NewTransientVenueError("TIMEOUT", "t2", nil),
		errors.NewTransientVenueError("TIMEOUT", "t3", nil),
	)

	result, err := rig.engine.executor.Execute(context.Background(), order, settings, nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	var execErr *errors.ExecutionError
	if !stderrors.As(err, &execErr) {
		t.Fatalf("error type = %T, want *ExecutionError", err)
	}
	if result.Status != models.ExecExhaustedRetries {
		t.Errorf("Status = %s, want exhausted_retries", result.Status)
	}
	if result.Position != nil {
		t.Error("no position should exist without a fill")
	}
}

func TestExecuteRejectionStopsImmediately(t *testing.T) {
	rig := newTestRig(t)
	rig.seedUser(t, "u1", 10000)
	rig.venue.SetPrice("BTC-USD", 45000)
	order, settings := approvedOrder(t, rig, "u1")

	rig.venue.FailNext(errors.NewVenueRejection("INSUFFICIENT_MARGIN", "margin check failed"))

	result, err := rig.engine.executor.Execute(context.Background(), order, settings, nil)
	if err == nil {
		t.Fatal("expected rejection error")
	}
	if result.Status != models.ExecRejected {
		t.Errorf("Status = %s, want rejected", result.Status)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (no retry on rejection)", result.Attempts)
	}
}

func TestExecuteAbortsWhenPausedBeforeAttempt(t *testing.T) {
	rig := newTestRig(t)
	rig.seedUser(t, "u1", 10000)
	rig.venue.SetPrice("BTC-USD", 45000)
	order, settings := approvedOrder(t, rig, "u1")

	if err := rig.engine.breaker.Pause(context.Background(), "u1", "drawdown", "system"); err != nil {
		t.Fatal(err)
	}

	result, err := rig.engine.executor.Execute(context.Background(), order, settings, nil)
	if !stderrors.Is(err, errors.ErrTradingPaused) {
		t.Fatalf("err = %v, want ErrTradingPaused", err)
	}
	if result.Status != models.ExecAbortedPaused {
		t.Errorf("Status = %s, want aborted_paused", result.Status)
	}

	records, _ := rig.store.GetExecutionLog(context.Background(), store.ExecutionLogFilter{OrderID: order.ID})
	if len(records) != 1 || records[0].Status != models.ExecAbortedPaused {
		t.Errorf("records = %+v, want a single aborted_paused entry", records)
	}
}

func TestExecuteExcessSlippageIsAdvisory(t *testing.T) {
	rig := newTestRig(t)
	rig.seedUser(t, "u1", 10000)
	rig.venue.SetPrice("BTC-USD", 45000)
	rig.venue.SetSlippage(1.0) // tolerance is 0.5%
	order, settings := approvedOrder(t, rig, "u1")
	order.Urgency = 1 // force a market order so the slippage lands

	result, err := rig.engine.executor.Execute(context.Background(), order, settings, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != models.ExecExcessSlippage {
		t.Fatalf("Status = %s, want filled_with_excess_slippage", result.Status)
	}
	// The fill stands: a position exists.
	if result.Position == nil {
		t.Fatal("expected a position despite excess slippage")
	}

	st, _ := rig.engine.breaker.State(context.Background(), "u1")
	if st.AnomalyCount != 1 {
		t.Errorf("AnomalyCount = %d, want 1", st.AnomalyCount)
	}
	if st.Status != models.CircuitActive {
		t.Errorf("Status = %s, excess slippage must not trip the breaker", st.Status)
	}
}

func TestChooseOrderTypeLimitOnWideSpread(t *testing.T) {
	rig := newTestRig(t)
	rig.seedUser(t, "u1", 10000)
	rig.venue.SetPrice("BTC-USD", 45000)
	order, settings := approvedOrder(t, rig, "u1")
	_ = settings

	// Wide simulated spread, low urgency and confidence: limit order.
	rig.venue.SetSpread(1.0)
	order.Urgency = 0.2
	order.Confidence = 0.71

	market, err := rig.venue.MarketData(context.Background(), "BTC-USD")
	if err != nil {
		t.Fatal(err)
	}
	typ, limitPx := rig.engine.executor.chooseOrderType(order, market)
	if typ != models.OrderTypeLimit {
		t.Fatalf("order type = %s, want LIMIT", typ)
	}
	if limitPx >= market.Price {
		t.Errorf("long limit price %.2f not below market %.2f", limitPx, market.Price)
	}
}
