// Package venue provides the exchange client contract consumed by the
// execution engine, together with a paper implementation for simulation
// and tests. The live venue client is an external collaborator wired in
// at process start.
package venue

import (
	"context"
	"time"

	"autotrade-engine/internal/models"
)

// OrderRequest is a request to open exposure at the venue.
type OrderRequest struct {
	Symbol  string
	Side    models.Side
	Type    models.OrderType
	Units   float64
	LimitPx float64 // ignored for market orders
}

// Fill is the venue's response to a successfully placed order.
type Fill struct {
	VenueOrderID  string
	ExecutedPrice float64
	FilledUnits   float64
	Fees          float64
}

// MarketData is a point-in-time market snapshot for one symbol.
type MarketData struct {
	Symbol    string
	Price     float64
	Bid       float64
	Ask       float64
	Timestamp time.Time
}

// SpreadPercent returns the bid/ask spread as a percentage of mid price.
func (m *MarketData) SpreadPercent() float64 {
	mid := (m.Bid + m.Ask) / 2
	if mid <= 0 {
		return 0
	}
	return (m.Ask - m.Bid) / mid * 100
}

// Client is the venue contract. Errors are classified via the internal
// errors package: transient failures (timeouts, rate limits) are
// retryable, rejections are fatal.
type Client interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*Fill, error)
	ClosePosition(ctx context.Context, symbol string, side models.Side, units float64) (*Fill, error)
	MarketData(ctx context.Context, symbol string) (*MarketData, error)
}
