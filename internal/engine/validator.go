package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"autotrade-engine/internal/errors"
	"autotrade-engine/internal/logging"
	"autotrade-engine/internal/models"
	"autotrade-engine/internal/monitoring"
)

// Validator runs the ordered pre-trade check sequence. Checks
// short-circuit: the first violation decides the rejection reason, so
// a paused user always sees "paused" even if the signal would also fail
// on confidence.
type Validator struct {
	breaker   *Breaker
	portfolio *PortfolioMonitor
	logger    zerolog.Logger
}

// NewValidator creates a pre-trade validator.
func NewValidator(breaker *Breaker, portfolio *PortfolioMonitor, logger zerolog.Logger) *Validator {
	return &Validator{breaker: breaker, portfolio: portfolio, logger: logger}
}

// Validate runs the full check sequence for a signal and, when
// approved, returns an order sized within all limits. When a sizing
// result violates a divisible limit (heat, leverage, single-asset
// exposure), one size-reduction pass shrinks the order to the remaining
// headroom; count-based limits are never reducible.
func (v *Validator) Validate(ctx context.Context, signal *models.Signal, settings *models.RiskSettings, equity float64) (*models.Evaluation, error) {
	userID := settings.UserID

	allowed, err := v.breaker.TradingAllowed(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return v.reject(userID, signal, models.RejectPaused), nil
	}

	if signal.Confidence < settings.MinSignalConfidence {
		return v.reject(userID, signal, models.RejectLowConfidence), nil
	}

	if signal.RiskRewardRatio() < settings.MinRiskRewardRatio {
		return v.reject(userID, signal, models.RejectPoorRR), nil
	}

	sizing := ComputeSize(signal, settings, equity)
	if !sizing.Approved {
		ev := v.reject(userID, signal, sizing.Reason)
		ev.Sizing = sizing
		return ev, nil
	}

	snap, err := v.portfolio.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	cand := CandidateOrder{
		Symbol:     signal.Symbol,
		SizeUSD:    sizing.SizeUSD,
		RiskAmount: sizing.RiskAmount,
	}
	reason, exceeded := v.portfolio.WouldExceed(snap, settings, cand)
	if exceeded {
		if !reducible(reason) {
			ev := v.reject(userID, signal, reason)
			ev.Sizing = sizing
			return ev, nil
		}

		riskFraction := signal.StopDistance() / signal.EntryPrice
		room := v.portfolio.MaxAdditionalSize(snap, settings, signal.Symbol, riskFraction)
		if room <= 0 {
			ev := v.reject(userID, signal, reason)
			ev.Sizing = sizing
			return ev, nil
		}

		reduced := *sizing
		reduced.SizeUSD = room
		reduced.SizeUnits = room / signal.EntryPrice
		reduced.RiskAmount = room * riskFraction
		reduced.Notes = append(append([]string{}, sizing.Notes...), "size_reduced")

		cand.SizeUSD = reduced.SizeUSD
		cand.RiskAmount = reduced.RiskAmount
		if rereason, still := v.portfolio.WouldExceed(snap, settings, cand); still {
			ev := v.reject(userID, signal, rereason)
			ev.Sizing = sizing
			return ev, nil
		}
		sizing = &reduced
	}

	order := &models.Order{
		ID:          uuid.NewString(),
		UserID:      userID,
		Symbol:      signal.Symbol,
		Side:        signal.Side,
		SizeUSD:     sizing.SizeUSD,
		SizeUnits:   sizing.SizeUnits,
		RequestedPx: signal.EntryPrice,
		StopPrice:   signal.StopPrice,
		TargetPrice: signal.TargetPrice,
		Confidence:  signal.Confidence,
		Urgency:     signal.Urgency,
		CreatedAt:   time.Now(),
	}

	monitoring.RecordEvaluation(userID, "approved")
	return &models.Evaluation{Approved: true, Order: order, Sizing: sizing}, nil
}

// validateSignal rejects malformed signal input before any state is
// touched. These are caller errors, not risk rejections, so they
// surface as errors rather than evaluations.
func validateSignal(signal *models.Signal) error {
	switch {
	case signal == nil:
		return errors.NewValidationError("signal", nil, "signal is required")
	case signal.Symbol == "":
		return errors.NewValidationError("symbol", signal.Symbol, "symbol is required")
	case signal.Side != models.SideLong && signal.Side != models.SideShort:
		return errors.NewValidationError("side", signal.Side, "side must be LONG or SHORT")
	case signal.EntryPrice <= 0:
		return errors.NewValidationError("entry_price", signal.EntryPrice, "entry price must be positive")
	case signal.StopPrice <= 0:
		return errors.NewValidationError("stop_price", signal.StopPrice, "stop price must be positive")
	case signal.StopDistance() == 0:
		return errors.NewValidationError("stop_price", signal.StopPrice, "stop must differ from entry")
	case signal.Confidence < 0 || signal.Confidence > 1:
		return errors.NewValidationError("confidence", signal.Confidence, "confidence must be in [0, 1]")
	}
	return nil
}

// reducible reports whether a violation can be resolved by shrinking
// the order. Count-based limits cannot.
func reducible(reason models.RejectionReason) bool {
	switch reason {
	case models.RejectHeat, models.RejectLeverage, models.RejectConcentration:
		return true
	}
	return false
}

func (v *Validator) reject(userID string, signal *models.Signal, reason models.RejectionReason) *models.Evaluation {
	logging.LogRejection(v.logger, userID, signal.Symbol, string(reason))
	monitoring.RecordEvaluation(userID, "rejected")
	monitoring.RecordRejection(userID, string(reason))
	return &models.Evaluation{Approved: false, Reason: reason}
}
