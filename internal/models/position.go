package models

import "time"

// PositionStatus represents the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen         PositionStatus = "OPEN"
	PositionClosing      PositionStatus = "CLOSING"
	PositionClosed       PositionStatus = "CLOSED"
	PositionManualReview PositionStatus = "MANUAL_REVIEW"
)

// CloseReason records why a position was (partially) closed.
type CloseReason string

const (
	CloseStopHit    CloseReason = "stop_hit"
	CloseScaleOut   CloseReason = "scale_out"
	CloseTimeExit   CloseReason = "time_exit"
	CloseManual     CloseReason = "manual"
	CloseKillSwitch CloseReason = "kill_switch"
)

// ScaleOutLeg is one stage of a staged exit: close Fraction of the
// remaining size once price has moved RMultiple times the original
// entry-to-stop distance in the position's favor. Each leg is consumed
// at most once.
type ScaleOutLeg struct {
	RMultiple float64
	Fraction  float64
	Consumed  bool
}

// Position represents one open market exposure. It is created by the
// trade executor on fill and exclusively owned by its position monitor
// until archived on full close.
type Position struct {
	ID     string
	UserID string
	Symbol string
	Side   Side

	EntryPrice   float64
	OriginalStop float64
	CurrentStop  float64

	OriginalUnits  float64
	RemainingUnits float64
	OriginalUSD    float64

	ScaleOut []ScaleOutLeg

	// Trailing stop bookkeeping
	TrailingActive bool
	PeakPrice      float64 // most favorable price seen since entry

	HealthScore float64 // 0..100, monitoring only

	Status      PositionStatus
	CloseReason CloseReason
	RealizedPnL float64

	OpenedAt time.Time
	ClosedAt time.Time
}

// RValue is the original entry-to-stop distance, the unit of favorable
// movement used by the scale-out schedule.
func (p *Position) RValue() float64 {
	d := p.EntryPrice - p.OriginalStop
	if d < 0 {
		d = -d
	}
	return d
}

// NotionalUSD returns the current notional exposure at the given price.
func (p *Position) NotionalUSD(price float64) float64 {
	return p.RemainingUnits * price
}

// RiskAtStopUSD returns the dollar loss if the current stop is hit.
func (p *Position) RiskAtStopUSD() float64 {
	d := p.EntryPrice - p.CurrentStop
	if d < 0 {
		d = -d
	}
	return d * p.RemainingUnits
}

// FavorableMove returns the signed price move in the position's favor.
func (p *Position) FavorableMove(price float64) float64 {
	if p.Side == SideLong {
		return price - p.EntryPrice
	}
	return p.EntryPrice - price
}

// UnrealizedPnL returns unrealized P&L on the remaining size.
func (p *Position) UnrealizedPnL(price float64) float64 {
	return p.FavorableMove(price) * p.RemainingUnits
}

// ConsumedFraction sums the fractions of all consumed scale-out legs.
// Invariant: never exceeds 1.0.
func (p *Position) ConsumedFraction() float64 {
	var sum float64
	for _, leg := range p.ScaleOut {
		if leg.Consumed {
			sum += leg.Fraction
		}
	}
	return sum
}

// PortfolioState is the engine's derived view of a user's portfolio:
// equity plus the set of open positions. It is read by the portfolio
// risk monitor and mutated only on fill and on (partial) close.
type PortfolioState struct {
	UserID    string
	Equity    float64
	Positions []*Position
	AsOf      time.Time
}
