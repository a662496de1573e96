package models

import "time"

// RiskSettings holds a user's risk configuration. The engine treats a
// loaded RiskSettings as an immutable snapshot for the duration of one
// evaluation; updates come from the user through the persistence layer.
type RiskSettings struct {
	UserID string

	// Position sizing
	SizingMethod           SizingMethod
	MaxPositionSizeUSD     float64
	MaxPositionSizePercent float64 // % of equity
	TargetRiskPercent      float64 // risk parity: % of equity risked per trade

	// Portfolio limits
	MaxPortfolioHeat float64 // %
	MaxOpenPositions int
	MaxLeverage      float64

	// Loss limits
	MaxDailyLossUSD       float64
	MaxDailyLossPercent   float64
	MaxWeeklyLossPercent  float64
	MaxMonthlyLossPercent float64

	// Risk-reward
	MinRiskRewardRatio float64

	// Diversification
	MaxCorrelatedPositions        int
	MaxSingleAssetExposurePercent float64

	// Circuit breaker
	MaxConsecutiveLosses int

	// Auto-trading features
	EnableTrailingStop  bool
	TrailingStopPercent float64
	EnableScaleOut      bool
	EnablePyramiding    bool
	MinSignalConfidence float64
	MaxHoldingDuration  time.Duration

	// Calendar boundaries for loss buckets are computed in this location.
	Timezone string

	UpdatedAt time.Time
}

// DefaultRiskSettings returns conservative defaults for a new user.
func DefaultRiskSettings(userID string) *RiskSettings {
	return &RiskSettings{
		UserID:                        userID,
		SizingMethod:                  SizingFixedFractional,
		MaxPositionSizeUSD:            10000,
		MaxPositionSizePercent:        10,
		TargetRiskPercent:             1,
		MaxPortfolioHeat:              50,
		MaxOpenPositions:              5,
		MaxLeverage:                   10,
		MaxDailyLossUSD:               500,
		MaxDailyLossPercent:           5,
		MaxWeeklyLossPercent:          10,
		MaxMonthlyLossPercent:         20,
		MinRiskRewardRatio:            1.5,
		MaxCorrelatedPositions:        2,
		MaxSingleAssetExposurePercent: 20,
		MaxConsecutiveLosses:          3,
		EnableTrailingStop:            true,
		TrailingStopPercent:           1.5,
		EnableScaleOut:                true,
		EnablePyramiding:              false,
		MinSignalConfidence:           0.7,
		MaxHoldingDuration:            72 * time.Hour,
		Timezone:                      "UTC",
	}
}

// Location resolves the configured timezone, falling back to UTC.
func (s *RiskSettings) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
