package engine

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"autotrade-engine/internal/config"
	"autotrade-engine/internal/models"
)

// Property: across any price path, the trailing stop of a long position
// never moves down and the stop of a short position never moves up.
func TestProperty_TrailingStopNeverRegresses(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	mgr := &MonitorManager{cfg: config.Default().Monitor}

	pricePathGen := gen.SliceOfN(30, gen.Float64Range(50, 200))

	properties.Property("long stop is monotonically non-decreasing", prop.ForAll(
		func(prices []float64) bool {
			settings := models.DefaultRiskSettings("u1")
			pos := &models.Position{
				Side:         models.SideLong,
				EntryPrice:   100,
				OriginalStop: 95,
				CurrentStop:  95,
				PeakPrice:    100,
			}
			prev := pos.CurrentStop
			for _, price := range prices {
				mgr.updatePeak(pos, price)
				mgr.updateTrailingStop(pos, settings, price)
				if pos.CurrentStop < prev {
					return false
				}
				prev = pos.CurrentStop
			}
			return true
		},
		pricePathGen,
	))

	properties.Property("short stop is monotonically non-increasing", prop.ForAll(
		func(prices []float64) bool {
			settings := models.DefaultRiskSettings("u1")
			pos := &models.Position{
				Side:         models.SideShort,
				EntryPrice:   100,
				OriginalStop: 105,
				CurrentStop:  105,
				PeakPrice:    100,
			}
			prev := pos.CurrentStop
			for _, price := range prices {
				mgr.updatePeak(pos, price)
				mgr.updateTrailingStop(pos, settings, price)
				if pos.CurrentStop > prev {
					return false
				}
				prev = pos.CurrentStop
			}
			return true
		},
		pricePathGen,
	))

	properties.TestingRun(t)
}

// Property: consumed scale-out fractions never sum above 1.0 no matter
// how far or how fast price runs.
func TestProperty_ScaleOutFractionsBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("consumed fraction <= 1.0", prop.ForAll(
		func(fracs []float64) bool {
			var legs []models.ScaleOutLeg
			var total float64
			for i, f := range fracs {
				// Normalize so the schedule itself is valid.
				frac := f / float64(len(fracs))
				total += frac
				if total > 1 {
					break
				}
				legs = append(legs, models.ScaleOutLeg{
					RMultiple: float64(i + 1),
					Fraction:  frac,
					Consumed:  true,
				})
			}
			pos := &models.Position{ScaleOut: legs}
			return pos.ConsumedFraction() <= 1.0+1e-9
		},
		gen.SliceOfN(5, gen.Float64Range(0.01, 1)),
	))

	properties.TestingRun(t)
}
