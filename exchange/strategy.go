package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rustyeddy/papertrade/broker"
	"github.com/rustyeddy/papertrade/market"
)

// Mode names a matching strategy.
type Mode string

const (
	ModeRealtime   Mode = "realtime"
	ModeSimulation Mode = "simulation"
	ModeBacktest   Mode = "backtest"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeRealtime, ModeSimulation, ModeBacktest:
		return m, nil
	}
	return "", fmt.Errorf("unknown matching mode %q", s)
}

// Strategy decides whether a resting order fills now and at what price.
type Strategy interface {
	Mode() Mode
	// Price returns the fill price of o, or ok=false when o does not match
	// this cycle. An error means the quote source failed.
	Price(ctx context.Context, o broker.Order, quotes market.Provider) (price float64, ok bool, err error)
	// Inline reports whether orders are matched as they arrive instead of by
	// the polling loop.
	Inline() bool
}

// NewStrategy returns the strategy for m.
func NewStrategy(m Mode) (Strategy, error) {
	switch m {
	case ModeRealtime:
		return Realtime{}, nil
	case ModeSimulation:
		return Simulation{}, nil
	case ModeBacktest:
		return Backtest{}, nil
	}
	return nil, fmt.Errorf("unknown matching mode %q", m)
}

// Realtime fills against the live quote. Market orders take the opposite
// side; a limit buy fills when its price reaches the ask and a limit sell
// when it reaches the bid. A zero side blocks the fill.
type Realtime struct{}

func (Realtime) Mode() Mode   { return ModeRealtime }
func (Realtime) Inline() bool { return false }

func (Realtime) Price(ctx context.Context, o broker.Order, quotes market.Provider) (float64, bool, error) {
	q, ok, err := quote(ctx, o, quotes)
	if !ok || err != nil {
		return 0, false, err
	}

	switch o.OrderType {
	case broker.OrderBuy:
		if q.Ask <= 0 {
			return 0, false, nil
		}
		if o.PriceType == broker.PriceMarket || o.OrderPrice >= q.Ask {
			return q.Ask, true, nil
		}
	case broker.OrderSell:
		if q.Bid <= 0 {
			return 0, false, nil
		}
		if o.PriceType == broker.PriceMarket || o.OrderPrice <= q.Bid {
			return q.Bid, true, nil
		}
	}
	return 0, false, nil
}

// Simulation fills every order at its own price in arrival order. Market
// orders have no price of their own and take the opposite quote side.
type Simulation struct{}

func (Simulation) Mode() Mode   { return ModeSimulation }
func (Simulation) Inline() bool { return false }

func (Simulation) Price(ctx context.Context, o broker.Order, quotes market.Provider) (float64, bool, error) {
	return atOrderPrice(ctx, o, quotes)
}

// Backtest fills like Simulation but as each order arrives, with no
// trading-hours gate.
type Backtest struct{}

func (Backtest) Mode() Mode   { return ModeBacktest }
func (Backtest) Inline() bool { return true }

func (Backtest) Price(ctx context.Context, o broker.Order, quotes market.Provider) (float64, bool, error) {
	return atOrderPrice(ctx, o, quotes)
}

func atOrderPrice(ctx context.Context, o broker.Order, quotes market.Provider) (float64, bool, error) {
	if o.PriceType != broker.PriceMarket {
		return o.OrderPrice, true, nil
	}
	q, ok, err := quote(ctx, o, quotes)
	if !ok || err != nil {
		return 0, false, err
	}
	px := q.Ask
	if o.OrderType == broker.OrderSell {
		px = q.Bid
	}
	return px, px > 0, nil
}

// quote returns ok=false without error when the symbol has no quote or the
// quote carries a NaN or infinite price.
func quote(ctx context.Context, o broker.Order, quotes market.Provider) (market.Quote, bool, error) {
	if quotes == nil {
		return market.Quote{}, false, nil
	}
	q, err := quotes.Quote(ctx, o.Symbol())
	if errors.Is(err, market.ErrNoQuote) {
		return market.Quote{}, false, nil
	}
	if err != nil {
		return market.Quote{}, false, fmt.Errorf("quote %s: %w", o.Symbol(), err)
	}
	if !q.Finite() {
		return market.Quote{}, false, nil
	}
	return q, true, nil
}
