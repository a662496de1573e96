package engine

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"autotrade-engine/internal/errors"
	"autotrade-engine/internal/models"
)

func TestEvaluateSignalRejectsMalformedInput(t *testing.T) {
	rig := newTestRig(t)
	rig.seedUser(t, "u1", 10000)

	cases := []struct {
		name   string
		mutate func(*models.Signal)
	}{
		{"empty symbol", func(s *models.Signal) { s.Symbol = "" }},
		{"bad side", func(s *models.Signal) { s.Side = "SIDEWAYS" }},
		{"zero entry", func(s *models.Signal) { s.EntryPrice = 0 }},
		{"negative stop", func(s *models.Signal) { s.StopPrice = -1 }},
		{"stop equals entry", func(s *models.Signal) { s.StopPrice = s.EntryPrice }},
		{"confidence above one", func(s *models.Signal) { s.Confidence = 1.1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig := testSignal()
			tc.mutate(sig)
			_, err := rig.engine.EvaluateSignal(context.Background(), "u1", sig)
			var verr *errors.ValidationError
			if !stderrors.As(err, &verr) {
				t.Fatalf("err = %v, want a validation error", err)
			}
		})
	}

	var verr *errors.ValidationError
	if _, err := rig.engine.EvaluateSignal(context.Background(), "u1", nil); !stderrors.As(err, &verr) {
		t.Fatalf("nil signal err = %v, want a validation error", err)
	}
}

func TestValidateLowConfidence(t *testing.T) {
	rig := newTestRig(t)
	rig.seedUser(t, "u1", 10000)

	sig := testSignal()
	sig.Confidence = 0.5

	outcome, err := rig.engine.EvaluateSignal(context.Background(), "u1", sig)
	if err != nil {
		t.Fatalf("EvaluateSignal: %v", err)
	}
	if outcome.Evaluation.Approved || outcome.Evaluation.Reason != models.RejectLowConfidence {
		t.Errorf("got %+v, want low_confidence rejection", outcome.Evaluation)
	}
}

func TestValidatePoorRiskReward(t *testing.T) {
	rig := newTestRig(t)
	rig.seedUser(t, "u1", 10000)

	sig := testSignal()
	// 1R stop distance against a 1R target: ratio 1.0 < 1.5 minimum.
	sig.TargetPrice = 46000

	outcome, err := rig.engine.EvaluateSignal(context.Background(), "u1", sig)
	if err != nil {
		t.Fatalf("EvaluateSignal: %v", err)
	}
	if outcome.Evaluation.Approved || outcome.Evaluation.Reason != models.RejectPoorRR {
		t.Errorf("got %+v, want poor_risk_reward rejection", outcome.Evaluation)
	}
}

func TestValidatePositionLimitNotReducible(t *testing.T) {
	rig := newTestRig(t)
	settings := rig.seedUser(t, "u1", 1_000_000)
	settings.MaxOpenPositions = 1
	if err := rig.store.SaveRiskSettings(context.Background(), settings); err != nil {
		t.Fatal(err)
	}

	rig.venue.SetPrice("BTC-USD", 45000)
	rig.venue.SetPrice("ETH-USD", 3000)

	ctx := context.Background()
	if outcome, err := rig.engine.EvaluateSignal(ctx, "u1", testSignal()); err != nil || !outcome.Evaluation.Approved {
		t.Fatalf("first signal: outcome=%+v err=%v", outcome, err)
	}

	sig := testSignal()
	sig.Symbol = "ETH-USD"
	sig.EntryPrice = 3000
	sig.StopPrice = 2900
	sig.TargetPrice = 3200

	outcome, err := rig.engine.EvaluateSignal(ctx, "u1", sig)
	if err != nil {
		t.Fatalf("second signal: %v", err)
	}
	if outcome.Evaluation.Approved || outcome.Evaluation.Reason != models.RejectPositionLimit {
		t.Errorf("got %+v, want position_limit rejection", outcome.Evaluation)
	}
}

func TestValidateHeatTriggersSizeReduction(t *testing.T) {
	rig := newTestRig(t)
	settings := rig.seedUser(t, "u1", 10000)
	// Make the sized order's risk overflow a tiny heat cap so the
	// reduction pass kicks in.
	settings.MaxPortfolioHeat = 0.1
	if err := rig.store.SaveRiskSettings(context.Background(), settings); err != nil {
		t.Fatal(err)
	}
	rig.venue.SetPrice("BTC-USD", 45000)

	outcome, err := rig.engine.EvaluateSignal(context.Background(), "u1", testSignal())
	if err != nil {
		t.Fatalf("EvaluateSignal: %v", err)
	}
	if !outcome.Evaluation.Approved {
		t.Fatalf("expected approval after reduction, got %s", outcome.Evaluation.Reason)
	}

	sizing := outcome.Evaluation.Sizing
	reduced := false
	for _, n := range sizing.Notes {
		if n == "size_reduced" {
			reduced = true
		}
	}
	if !reduced {
		t.Errorf("expected size_reduced note, got %v", sizing.Notes)
	}

	// Heat room is 0.1% of $10k equity = $10 of risk; with a 1000/45000
	// risk fraction the reduced size is $450.
	if sizing.RiskAmount > 10+1e-6 {
		t.Errorf("RiskAmount = %.4f, want <= 10", sizing.RiskAmount)
	}
	if outcome.Evaluation.Order.SizeUSD != sizing.SizeUSD {
		t.Errorf("order size %.2f != sizing size %.2f", outcome.Evaluation.Order.SizeUSD, sizing.SizeUSD)
	}
}

func TestValidateCheckOrderShortCircuits(t *testing.T) {
	rig := newTestRig(t)
	rig.seedUser(t, "u1", 10000)

	ctx := context.Background()
	if err := rig.engine.Pause(ctx, "u1", "drawdown", "system"); err != nil {
		t.Fatal(err)
	}

	// Fails every later check too; paused must win.
	sig := &models.Signal{
		Symbol:      "BTC-USD",
		Side:        models.SideLong,
		EntryPrice:  45000,
		StopPrice:   45000,
		TargetPrice: 45000,
		Confidence:  0,
		GeneratedAt: time.Now(),
	}

	outcome, err := rig.engine.EvaluateSignal(ctx, "u1", sig)
	if err != nil {
		t.Fatalf("EvaluateSignal: %v", err)
	}
	if outcome.Evaluation.Reason != models.RejectPaused {
		t.Errorf("Reason = %s, want %s", outcome.Evaluation.Reason, models.RejectPaused)
	}
}
