package engine

import (
	"context"
	stderrors "errors"
	"testing"

	"autotrade-engine/internal/errors"
	"autotrade-engine/internal/models"
)

func TestBreakerPauseResumeCycle(t *testing.T) {
	rig := newTestRig(t)
	rig.seedUser(t, "u1", 10000)
	ctx := context.Background()
	b := rig.engine.breaker

	allowed, err := b.TradingAllowed(ctx, "u1")
	if err != nil || !allowed {
		t.Fatalf("fresh user not active: allowed=%v err=%v", allowed, err)
	}

	if err := b.Pause(ctx, "u1", "drawdown", "system"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	st, _ := b.State(ctx, "u1")
	if st.Status != models.CircuitPaused || st.PauseReason != "drawdown" {
		t.Errorf("state = %+v, want paused(drawdown)", st)
	}

	// Pausing again must not clobber the original reason.
	if err := b.Pause(ctx, "u1", "other reason", "operator"); err != nil {
		t.Fatalf("second Pause: %v", err)
	}
	st, _ = b.State(ctx, "u1")
	if st.PauseReason != "drawdown" {
		t.Errorf("PauseReason = %q, want original reason kept", st.PauseReason)
	}

	if err := b.Resume(ctx, "u1", "operator"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	st, _ = b.State(ctx, "u1")
	if st.Status != models.CircuitActive || st.PauseReason != "" {
		t.Errorf("state after resume = %+v, want clean active", st)
	}
}

func TestBreakerKilledCannotResume(t *testing.T) {
	rig := newTestRig(t)
	rig.seedUser(t, "u1", 10000)
	ctx := context.Background()
	b := rig.engine.breaker

	if err := b.Kill(ctx, "u1", "operator"); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	err := b.Resume(ctx, "u1", "operator")
	if !stderrors.Is(err, errors.ErrKillSwitchActive) {
		t.Errorf("Resume after kill = %v, want ErrKillSwitchActive", err)
	}

	// Kill is idempotent.
	if err := b.Kill(ctx, "u1", "operator"); err != nil {
		t.Fatalf("second Kill: %v", err)
	}
}

func TestBreakerStateSurvivesReload(t *testing.T) {
	rig := newTestRig(t)
	rig.seedUser(t, "u1", 10000)
	ctx := context.Background()

	if err := rig.engine.breaker.Pause(ctx, "u1", "drawdown", "system"); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	// A fresh breaker over the same store sees the persisted trip.
	fresh := NewBreaker(rig.store, rig.engine.notifier, rig.engine.logger)
	st, err := fresh.State(ctx, "u1")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if st.Status != models.CircuitPaused {
		t.Errorf("reloaded status = %s, want PAUSED", st.Status)
	}
}

func TestBreakerAnomalyCountResetsOnResume(t *testing.T) {
	rig := newTestRig(t)
	rig.seedUser(t, "u1", 10000)
	ctx := context.Background()
	b := rig.engine.breaker

	for i := 0; i < 3; i++ {
		if err := b.RecordAnomaly(ctx, "u1"); err != nil {
			t.Fatalf("RecordAnomaly: %v", err)
		}
	}
	st, _ := b.State(ctx, "u1")
	if st.AnomalyCount != 3 {
		t.Fatalf("AnomalyCount = %d, want 3", st.AnomalyCount)
	}

	if err := b.Pause(ctx, "u1", "slippage", "system"); err != nil {
		t.Fatal(err)
	}
	if err := b.Resume(ctx, "u1", "operator"); err != nil {
		t.Fatal(err)
	}
	st, _ = b.State(ctx, "u1")
	if st.AnomalyCount != 0 {
		t.Errorf("AnomalyCount after resume = %d, want 0", st.AnomalyCount)
	}
}
