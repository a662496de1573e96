package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"autotrade-engine/internal/errors"
	"autotrade-engine/internal/models"
)

// PaperClient implements Client against an in-memory order book
// simulation. Prices are seeded via SetPrice; fills apply a configurable
// slippage. Failure injection supports executor retry tests and paper
// trading against recorded data.
type PaperClient struct {
	mu sync.Mutex

	prices      map[string]float64
	spreadPct   float64
	slippagePct float64

	// Failure injection: each queued error is returned by one
	// subsequent PlaceOrder/ClosePosition call before fills resume.
	pendingErrs []error

	orderCounter int
}

// NewPaperClient creates a new simulated venue client.
func NewPaperClient() *PaperClient {
	return &PaperClient{
		prices:    make(map[string]float64),
		spreadPct: 0.02,
	}
}

// SetPrice seeds or moves the simulated price for a symbol.
func (p *PaperClient) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// SetSpread sets the simulated bid/ask spread in percent.
func (p *PaperClient) SetSpread(pct float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spreadPct = pct
}

// SetSlippage sets the simulated fill slippage in percent.
func (p *PaperClient) SetSlippage(pct float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slippagePct = pct
}

// FailNext queues errors to be returned by upcoming order calls.
func (p *PaperClient) FailNext(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingErrs = append(p.pendingErrs, errs...)
}

func (p *PaperClient) takePendingErr() error {
	if len(p.pendingErrs) == 0 {
		return nil
	}
	err := p.pendingErrs[0]
	p.pendingErrs = p.pendingErrs[1:]
	return err
}

// PlaceOrder simulates an order fill at the current price with slippage.
func (p *PaperClient) PlaceOrder(ctx context.Context, req OrderRequest) (*Fill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takePendingErr(); err != nil {
		return nil, err
	}

	price, ok := p.prices[req.Symbol]
	if !ok {
		return nil, errors.NewVenueRejection("UNKNOWN_SYMBOL", fmt.Sprintf("no market for %s", req.Symbol))
	}
	if req.Units <= 0 {
		return nil, errors.NewVenueRejection("INVALID_SIZE", "order size must be positive")
	}

	executed := p.applySlippage(price, req.Side)
	if req.Type == models.OrderTypeLimit && req.LimitPx > 0 {
		// A limit order never fills worse than its limit price.
		if req.Side == models.SideLong && executed > req.LimitPx {
			executed = req.LimitPx
		}
		if req.Side == models.SideShort && executed < req.LimitPx {
			executed = req.LimitPx
		}
	}

	p.orderCounter++
	return &Fill{
		VenueOrderID:  fmt.Sprintf("PAPER-%06d", p.orderCounter),
		ExecutedPrice: executed,
		FilledUnits:   req.Units,
		Fees:          executed * req.Units * 0.0005,
	}, nil
}

// ClosePosition simulates closing exposure at the current price.
func (p *PaperClient) ClosePosition(ctx context.Context, symbol string, side models.Side, units float64) (*Fill, error) {
	return p.PlaceOrder(ctx, OrderRequest{
		Symbol: symbol,
		Side:   side.Opposite(),
		Type:   models.OrderTypeMarket,
		Units:  units,
	})
}

// MarketData returns the current simulated market snapshot.
func (p *PaperClient) MarketData(ctx context.Context, symbol string) (*MarketData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[symbol]
	if !ok {
		return nil, errors.NewVenueRejection("UNKNOWN_SYMBOL", fmt.Sprintf("no market for %s", symbol))
	}

	half := price * p.spreadPct / 200
	return &MarketData{
		Symbol:    symbol,
		Price:     price,
		Bid:       price - half,
		Ask:       price + half,
		Timestamp: time.Now(),
	}, nil
}

// applySlippage moves the fill price against the taker.
func (p *PaperClient) applySlippage(price float64, side models.Side) float64 {
	if side == models.SideLong {
		return price * (1 + p.slippagePct/100)
	}
	return price * (1 - p.slippagePct/100)
}
