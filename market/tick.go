package market

import (
	"context"
	"errors"
	"math"
	"time"
)

var (
	ErrNoQuote      = errors.New("quote not found")
	ErrNotConnected = errors.New("quote provider not connected")
)

// Quote is the top of book for one symbol. A zero Bid or Ask means that
// side is unavailable (limit up/down or halted).
type Quote struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Last   float64   `json:"last"`
	Time   time.Time `json:"time"`
}

func (q Quote) Mid() float64 {
	if q.Bid == 0 || q.Ask == 0 {
		return q.Last
	}
	return (q.Bid + q.Ask) / 2
}

// Finite reports whether every price of the quote is a real number.
func (q Quote) Finite() bool {
	return finite(q.Bid) && finite(q.Ask) && finite(q.Last)
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

// Close is the settlement price of the quote: last trade, else mid.
func (q Quote) Close() float64 {
	if q.Last > 0 {
		return q.Last
	}
	return q.Mid()
}

// Tick is one intraday trade print.
type Tick struct {
	Time   time.Time `json:"time"`
	Price  float64   `json:"price"`
	Volume int64     `json:"volume"`
}

// Provider is the market data gateway. Connect must succeed before Quote or
// Ticks are called.
type Provider interface {
	Connect(ctx context.Context) error
	Close() error
	// Quote returns ErrNoQuote when the symbol has no quote.
	Quote(ctx context.Context, symbol string) (Quote, error)
	// Ticks returns the prints of symbol on the trading day containing day.
	Ticks(ctx context.Context, symbol string, day time.Time) ([]Tick, error)
}
