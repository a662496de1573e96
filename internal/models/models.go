// Package models provides domain models for the risk and execution engine.
package models

import (
	"time"
)

// Side represents the direction of a position or order.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the closing side for this side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Signal represents a trading signal produced by the signal source.
type Signal struct {
	Symbol      string
	Side        Side
	EntryPrice  float64
	StopPrice   float64
	TargetPrice float64
	Confidence  float64 // 0..1
	Urgency     float64 // 0..1, drives market vs limit order choice
	GeneratedAt time.Time
}

// StopDistance returns the absolute entry-to-stop distance.
func (s *Signal) StopDistance() float64 {
	d := s.EntryPrice - s.StopPrice
	if d < 0 {
		d = -d
	}
	return d
}

// TargetDistance returns the absolute entry-to-target distance.
func (s *Signal) TargetDistance() float64 {
	d := s.TargetPrice - s.EntryPrice
	if d < 0 {
		d = -d
	}
	return d
}

// RiskRewardRatio returns (target-entry)/(entry-stop), or 0 when undefined.
func (s *Signal) RiskRewardRatio() float64 {
	risk := s.StopDistance()
	if risk <= 0 {
		return 0
	}
	return s.TargetDistance() / risk
}

// PayoffRatio is the ratio used by Kelly sizing; identical to the
// risk-reward ratio but named for its role in the sizing formula.
func (s *Signal) PayoffRatio() float64 {
	return s.RiskRewardRatio()
}

// Order represents a sized, approved order ready for execution.
type Order struct {
	ID          string
	UserID      string
	Symbol      string
	Side        Side
	Type        OrderType
	SizeUSD     float64
	SizeUnits   float64
	RequestedPx float64
	LimitPx     float64 // 0 for market orders
	StopPrice   float64
	TargetPrice float64
	Confidence  float64
	Urgency     float64
	ReduceOnly  bool // close path; exempt from circuit breaker pause
	CreatedAt   time.Time
}

// RejectionReason is the closed enumeration of pre-trade rejection reasons.
type RejectionReason string

const (
	RejectPaused        RejectionReason = "paused"
	RejectLowConfidence RejectionReason = "low_confidence"
	RejectPoorRR        RejectionReason = "poor_risk_reward"
	RejectZeroEdge      RejectionReason = "zero_edge"
	RejectHeat          RejectionReason = "heat_exceeded"
	RejectPositionLimit RejectionReason = "position_limit"
	RejectLeverage      RejectionReason = "leverage_exceeded"
	RejectConcentration RejectionReason = "concentration_exceeded"
)

// Evaluation is the outcome of evaluating a signal for a user.
type Evaluation struct {
	Approved bool
	Reason   RejectionReason // set when Approved is false
	Order    *Order          // set when Approved is true
	Sizing   *SizingResult
}

// SizingMethod selects the position sizing algorithm.
type SizingMethod string

const (
	SizingFixedAmount     SizingMethod = "fixed_amount"
	SizingFixedFractional SizingMethod = "fixed_fractional"
	SizingKelly           SizingMethod = "kelly"
	SizingRiskParity      SizingMethod = "risk_parity"
)

// SizingResult is the output of the position sizing engine. Transient,
// never persisted.
type SizingResult struct {
	Approved   bool
	SizeUSD    float64
	SizeUnits  float64
	RiskAmount float64 // USD lost if the stop is hit
	Reason     RejectionReason
	Notes      []string // e.g. "size_capped"
}

// Capped reports whether the final size was reduced by a hard limit.
func (r *SizingResult) Capped() bool {
	for _, n := range r.Notes {
		if n == "size_capped" {
			return true
		}
	}
	return false
}
