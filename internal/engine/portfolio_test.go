package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"autotrade-engine/internal/models"
	"autotrade-engine/internal/store"
)

func seedPosition(t *testing.T, ds store.DataStore, userID, symbol string, entry, stop, units float64) *models.Position {
	t.Helper()
	pos := &models.Position{
		ID:             uuid.NewString(),
		UserID:         userID,
		Symbol:         symbol,
		Side:           models.SideLong,
		EntryPrice:     entry,
		OriginalStop:   stop,
		CurrentStop:    stop,
		OriginalUnits:  units,
		RemainingUnits: units,
		OriginalUSD:    entry * units,
		PeakPrice:      entry,
		Status:         models.PositionOpen,
		OpenedAt:       time.Now(),
	}
	if err := ds.SavePosition(context.Background(), pos); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}
	return pos
}

func TestSnapshotComputesHeatAndExposure(t *testing.T) {
	ds := store.NewMemoryStore()
	ctx := context.Background()
	if err := ds.SaveEquity(ctx, "u1", 10000); err != nil {
		t.Fatal(err)
	}

	// $2250 notional risking $50, and $1500 notional risking $50.
	seedPosition(t, ds, "u1", "BTC-USD", 45000, 44000, 0.05)
	seedPosition(t, ds, "u1", "ETH-USD", 3000, 2900, 0.5)

	pm := NewPortfolioMonitor(ds, nil)
	snap, err := pm.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if snap.OpenPositions != 2 {
		t.Errorf("OpenPositions = %d, want 2", snap.OpenPositions)
	}
	if math.Abs(snap.TotalNotionalUSD-3750) > 1e-9 {
		t.Errorf("TotalNotionalUSD = %.2f, want 3750", snap.TotalNotionalUSD)
	}
	// Heat = (50 + 50) / 10000 = 1%.
	if math.Abs(snap.PortfolioHeat-1.0) > 1e-9 {
		t.Errorf("PortfolioHeat = %.4f, want 1.0", snap.PortfolioHeat)
	}
	if math.Abs(snap.ExposureBySymbol["BTC-USD"]-2250) > 1e-9 {
		t.Errorf("BTC exposure = %.2f, want 2250", snap.ExposureBySymbol["BTC-USD"])
	}
}

func TestWouldExceedChecks(t *testing.T) {
	ds := store.NewMemoryStore()
	ctx := context.Background()
	if err := ds.SaveEquity(ctx, "u1", 10000); err != nil {
		t.Fatal(err)
	}
	seedPosition(t, ds, "u1", "BTC-USD", 45000, 44000, 0.05)

	groups := map[string]string{"BTC-USD": "crypto-major", "ETH-USD": "crypto-major", "SOL-USD": "crypto-major"}
	pm := NewPortfolioMonitor(ds, groups)
	settings := models.DefaultRiskSettings("u1")

	snap, err := pm.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name     string
		mutate   func(*models.RiskSettings)
		cand     CandidateOrder
		want     models.RejectionReason
		exceeded bool
	}{
		{
			name:     "fits comfortably",
			cand:     CandidateOrder{Symbol: "ETH-USD", SizeUSD: 1000, RiskAmount: 30},
			exceeded: false,
		},
		{
			name:     "heat overflow",
			cand:     CandidateOrder{Symbol: "ETH-USD", SizeUSD: 1000, RiskAmount: 5100},
			want:     models.RejectHeat,
			exceeded: true,
		},
		{
			name:     "position count",
			mutate:   func(s *models.RiskSettings) { s.MaxOpenPositions = 1 },
			cand:     CandidateOrder{Symbol: "ETH-USD", SizeUSD: 1000, RiskAmount: 30},
			want:     models.RejectPositionLimit,
			exceeded: true,
		},
		{
			name: "leverage ceiling",
			mutate: func(s *models.RiskSettings) {
				s.MaxLeverage = 1
				s.MaxSingleAssetExposurePercent = 500
				s.MaxPortfolioHeat = 500
			},
			cand:     CandidateOrder{Symbol: "ETH-USD", SizeUSD: 9000, RiskAmount: 30},
			want:     models.RejectLeverage,
			exceeded: true,
		},
		{
			name:     "single asset concentration",
			cand:     CandidateOrder{Symbol: "ETH-USD", SizeUSD: 2100, RiskAmount: 30},
			want:     models.RejectConcentration,
			exceeded: true,
		},
		{
			name:     "pyramiding disabled",
			cand:     CandidateOrder{Symbol: "BTC-USD", SizeUSD: 100, RiskAmount: 10},
			want:     models.RejectConcentration,
			exceeded: true,
		},
		{
			name:     "correlated group full",
			mutate:   func(s *models.RiskSettings) { s.MaxCorrelatedPositions = 1 },
			cand:     CandidateOrder{Symbol: "SOL-USD", SizeUSD: 1000, RiskAmount: 30},
			want:     models.RejectConcentration,
			exceeded: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := *settings
			if tc.mutate != nil {
				tc.mutate(&s)
			}
			reason, exceeded := pm.WouldExceed(snap, &s, tc.cand)
			if exceeded != tc.exceeded {
				t.Fatalf("exceeded = %v, want %v (reason %s)", exceeded, tc.exceeded, reason)
			}
			if exceeded && reason != tc.want {
				t.Errorf("reason = %s, want %s", reason, tc.want)
			}
		})
	}
}

func TestMaxAdditionalSizeRespectsTightestLimit(t *testing.T) {
	ds := store.NewMemoryStore()
	ctx := context.Background()
	if err := ds.SaveEquity(ctx, "u1", 10000); err != nil {
		t.Fatal(err)
	}
	seedPosition(t, ds, "u1", "BTC-USD", 45000, 44000, 0.05)

	pm := NewPortfolioMonitor(ds, nil)
	settings := models.DefaultRiskSettings("u1")

	snap, err := pm.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}

	riskFraction := 100.0 / 3000
	room := pm.MaxAdditionalSize(snap, settings, "ETH-USD", riskFraction)

	// Heat room: (50% - 0.5%) of $10k = $4950 risk / (1/30) = $148500.
	// Leverage room: 10 * 10000 - 2250 = $97750.
	// Asset room: 20% of $10k = $2000. Tightest wins.
	if math.Abs(room-2000) > 1e-3 {
		t.Errorf("room = %.2f, want ~2000", room)
	}

	if pm.MaxAdditionalSize(snap, settings, "ETH-USD", 0) != 0 {
		t.Error("zero risk fraction must yield zero room")
	}
}
