// Package exchange matches resting orders. It owns the order book and the
// session state machine; fills, rejections and the end of day are handed to
// a Handler, which applies them to the ledger.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/rustyeddy/papertrade/broker"
	"github.com/rustyeddy/papertrade/market"
)

// Rejection reasons recorded on orders refused by the exchange.
const (
	ReasonUnsupportedExchange = "unsupported exchange"
	ReasonMarketClosed        = "market closed, order rejected automatically"
)

// Handler applies matching outcomes. An error from any method stops the
// matching loop.
type Handler interface {
	// OnDeal receives a full fill: TradePrice, Traded and TradeType are set.
	OnDeal(ctx context.Context, fill broker.Order) error
	OnReject(ctx context.Context, o broker.Order, reason string) error
	// OnNotTraded is called once, the first time an order fails to match.
	OnNotTraded(ctx context.Context, o broker.Order) error
	// OnClose runs end-of-day processing for date after the book is empty.
	OnClose(ctx context.Context, date string) error
}

type Config struct {
	Strategy Strategy
	// Period is the polling interval of Run.
	Period time.Duration
	Hours  market.Hours
	// EnforceHours gates matching to the trading windows and closes the
	// session at Hours.CloseAt. Backtests are never gated.
	EnforceHours bool
	// Exchanges lists the accepted exchange codes. Empty accepts all.
	Exchanges []string
	TradeType broker.TradeType
	Clock     func() time.Time
	// OnState observes every session transition.
	OnState func(State)
}

type Exchange struct {
	cfg    Config
	quotes market.Provider
	h      Handler
	log    *slog.Logger
	book   *Book
	sess   *session

	// gate orders admission against Close and Exclusive. Admissions share
	// it; Close and Exclusive hold it alone, so they never see an order
	// that has its reservation but is not yet in the book.
	gate sync.RWMutex
}

func New(cfg Config, quotes market.Provider, h Handler, log *slog.Logger) *Exchange {
	if cfg.Strategy == nil {
		cfg.Strategy = Realtime{}
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.TradeType == "" {
		cfg.TradeType = broker.T1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Exchange{
		cfg:    cfg,
		quotes: quotes,
		h:      h,
		log:    log,
		book:   NewBook(),
		sess:   &session{hook: cfg.OnState},
	}
}

func (x *Exchange) Book() *Book             { return x.book }
func (x *Exchange) State() State            { return x.sess.get() }
func (x *Exchange) Mode() Mode              { return x.cfg.Strategy.Mode() }
func (x *Exchange) Date() string            { return x.sess.day() }
func (x *Exchange) Accepting() bool         { return x.sess.accepting() }
func (x *Exchange) Hours() market.Hours     { return x.cfg.Hours }
func (x *Exchange) Clock() func() time.Time { return x.cfg.Clock }

// Open starts a trading day. A liquidated session is first closed.
func (x *Exchange) Open(date string) error {
	if x.sess.get() == StateLiquidated {
		if err := x.sess.to(StateClosed); err != nil {
			return err
		}
	}
	if err := x.sess.to(StateOpen); err != nil {
		return err
	}
	x.sess.setDate(date)
	x.log.Info("session open", "date", date, "mode", x.Mode())
	return nil
}

// Submit places an accepted order in the book. Inline strategies match it
// before Submit returns.
func (x *Exchange) Submit(ctx context.Context, o broker.Order) error {
	return x.Admit(ctx, o, nil)
}

// ErrNotBooked wraps a failure to place an order whose reserve step
// already succeeded. The caller must release the reservation.
var ErrNotBooked = errors.New("reserved order not booked")

// Admit checks the session, runs reserve and books o without letting Close
// or Exclusive run in between. When reserve fails nothing is booked and its
// error is returned as is.
func (x *Exchange) Admit(ctx context.Context, o broker.Order, reserve func() error) error {
	x.gate.RLock()
	defer x.gate.RUnlock()

	if !x.sess.accepting() {
		return fmt.Errorf("%w: session %s", broker.ErrMarketClosed, x.sess.get())
	}
	if reserve != nil {
		if err := reserve(); err != nil {
			return err
		}
	}
	if err := x.book.Add(o); err != nil {
		return fmt.Errorf("%w: %w", ErrNotBooked, err)
	}
	if x.cfg.Strategy.Inline() {
		return x.matchOne(ctx, o)
	}
	return nil
}

// Exclusive runs fn with admission stopped.
func (x *Exchange) Exclusive(fn func() error) error {
	x.gate.Lock()
	defer x.gate.Unlock()
	return fn()
}

// Restore puts recovered orders back in the book without matching them.
func (x *Exchange) Restore(orders []broker.Order) error {
	var errs []error
	for _, o := range orders {
		if err := x.book.Add(o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Cancel removes id from the book and returns the order. It fails with
// ErrOrderNotFound when the order already left the book.
func (x *Exchange) Cancel(id string) (broker.Order, error) {
	o, ok := x.book.Take(id)
	if !ok {
		return broker.Order{}, fmt.Errorf("%w: %s is not resting", broker.ErrOrderNotFound, id)
	}
	return o, nil
}

// Match runs one pass over the book in arrival order.
func (x *Exchange) Match(ctx context.Context) error {
	if x.sess.get() == StateOpen {
		if err := x.sess.to(StateMatching); err != nil {
			return err
		}
	}
	for _, o := range x.book.Orders() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := x.matchOne(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

func (x *Exchange) matchOne(ctx context.Context, o broker.Order) error {
	if !x.accepts(o.Exchange) {
		if _, ok := x.book.Take(o.OrderID); !ok {
			return nil
		}
		return x.h.OnReject(ctx, o, ReasonUnsupportedExchange)
	}

	px, ok, err := x.cfg.Strategy.Price(ctx, o, x.quotes)
	if err != nil {
		x.log.Warn("quote unavailable", "order_id", o.OrderID, "symbol", o.Symbol(), "err", err)
		ok = false
	}
	if ok && (math.IsNaN(px) || math.IsInf(px, 0) || px <= 0) {
		x.log.Warn("unusable trade price", "order_id", o.OrderID, "symbol", o.Symbol(), "price", px)
		ok = false
	}
	if !ok {
		if o.Status == broker.StatusSubmitting && x.book.SetStatus(o.OrderID, broker.StatusNotTraded) {
			o.Status = broker.StatusNotTraded
			return x.h.OnNotTraded(ctx, o)
		}
		return nil
	}

	if _, ok := x.book.Take(o.OrderID); !ok {
		// cancelled while we were pricing it
		return nil
	}
	o.TradePrice = px
	o.Traded = o.Volume
	o.TradeType = x.cfg.TradeType
	return x.h.OnDeal(ctx, o)
}

func (x *Exchange) accepts(exchange string) bool {
	return len(x.cfg.Exchanges) == 0 || slices.Contains(x.cfg.Exchanges, exchange)
}

// Close ends the trading day: every resting order is rejected, then the
// handler runs end-of-day processing and the session is liquidated.
func (x *Exchange) Close(ctx context.Context, date string) error {
	x.gate.Lock()
	defer x.gate.Unlock()

	if err := x.sess.to(StateClosing); err != nil {
		return err
	}
	x.log.Info("session closing", "date", date, "resting", x.book.Len())

	for _, o := range x.book.Drain() {
		if err := x.h.OnReject(ctx, o, ReasonMarketClosed); err != nil {
			return err
		}
	}
	if err := x.h.OnClose(ctx, date); err != nil {
		return err
	}
	if err := x.sess.to(StateLiquidated); err != nil {
		return err
	}
	x.log.Info("session liquidated", "date", date)
	return nil
}

// Run polls the book every Period until ctx is done or a handler fails.
func (x *Exchange) Run(ctx context.Context) error {
	t := time.NewTicker(x.cfg.Period)
	defer t.Stop()

	for {
		if err := x.Tick(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Tick is one iteration of Run. With the hours gate on, the time check
// itself opens a new day, matches inside the windows and closes the day
// once the close boundary has passed.
func (x *Exchange) Tick(ctx context.Context) error {
	gated := x.cfg.EnforceHours && x.Mode() != ModeBacktest
	if !gated {
		if x.sess.get() == StateClosed {
			if err := x.Open(x.cfg.Hours.Date(x.cfg.Clock())); err != nil {
				return err
			}
		}
		if x.sess.accepting() {
			return x.Match(ctx)
		}
		return nil
	}

	now := x.cfg.Clock()
	date := x.cfg.Hours.Date(now)
	phase := x.cfg.Hours.Phase(now)
	if !x.cfg.Hours.Weekday(now) {
		return nil
	}

	st := x.sess.get()
	newDay := st == StateClosed || (st == StateLiquidated && x.sess.day() != date)
	if newDay && phase != market.PhaseClosed {
		if err := x.Open(date); err != nil {
			return err
		}
		st = x.sess.get()
	}

	switch phase {
	case market.PhaseOpen:
		if st == StateOpen || st == StateMatching {
			return x.Match(ctx)
		}
	case market.PhaseClosed:
		if st == StateOpen || st == StateMatching {
			return x.Close(ctx, x.sess.day())
		}
	}
	return nil
}
