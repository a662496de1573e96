// Package engine implements signal evaluation, risk control, trade
// execution and position management.
package engine

import (
	"autotrade-engine/internal/models"
)

// kellyCap bounds the Kelly fraction; full Kelly is too aggressive for
// a noisy confidence estimate.
const kellyCap = 0.25

// ComputeSize sizes a position for a signal using the user's configured
// method, then applies the hard per-position limits. The result is
// deterministic in (signal, settings, equity) and has no side effects.
func ComputeSize(signal *models.Signal, settings *models.RiskSettings, equity float64) *models.SizingResult {
	stopDistance := signal.StopDistance()
	if signal.EntryPrice <= 0 || stopDistance <= 0 {
		return &models.SizingResult{Approved: false, Reason: models.RejectZeroEdge}
	}
	riskFraction := stopDistance / signal.EntryPrice

	var sizeUSD float64
	var notes []string

	switch settings.SizingMethod {
	case models.SizingFixedAmount:
		sizeUSD = settings.MaxPositionSizeUSD
		if cap := equity * settings.MaxPositionSizePercent / 100; cap < sizeUSD {
			sizeUSD = cap
		}

	case models.SizingFixedFractional:
		sizeUSD = equity * settings.MaxPositionSizePercent / 100

	case models.SizingKelly:
		payoff := signal.PayoffRatio()
		if payoff <= 0 {
			return &models.SizingResult{Approved: false, Reason: models.RejectZeroEdge}
		}
		winProb := signal.Confidence
		lossProb := 1 - winProb
		fraction := (winProb*payoff - lossProb) / payoff
		if fraction <= 0 {
			return &models.SizingResult{Approved: false, Reason: models.RejectZeroEdge}
		}
		if fraction > kellyCap {
			fraction = kellyCap
			notes = append(notes, "kelly_capped")
		}
		sizeUSD = equity * fraction

	case models.SizingRiskParity:
		// Inverse-volatility sizing: wider stops get smaller positions
		// so every trade risks the same fraction of equity.
		sizeUSD = (equity * settings.TargetRiskPercent / 100) / riskFraction

	default:
		sizeUSD = equity * settings.MaxPositionSizePercent / 100
	}

	// Hard per-position limits apply to every method.
	capped := false
	if settings.MaxPositionSizeUSD > 0 && sizeUSD > settings.MaxPositionSizeUSD {
		sizeUSD = settings.MaxPositionSizeUSD
		capped = true
	}
	if pctCap := equity * settings.MaxPositionSizePercent / 100; sizeUSD > pctCap {
		sizeUSD = pctCap
		capped = true
	}
	if capped {
		notes = append(notes, "size_capped")
	}

	if sizeUSD <= 0 {
		return &models.SizingResult{Approved: false, Reason: models.RejectZeroEdge, Notes: notes}
	}

	return &models.SizingResult{
		Approved:   true,
		SizeUSD:    sizeUSD,
		SizeUnits:  sizeUSD / signal.EntryPrice,
		RiskAmount: sizeUSD * riskFraction,
		Notes:      notes,
	}
}
