package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/papertrade/broker"
	"github.com/rustyeddy/papertrade/exchange"
	"github.com/rustyeddy/papertrade/ledger"
	"github.com/rustyeddy/papertrade/market"
	"github.com/rustyeddy/papertrade/metrics"
)

// ReasonLiquidated is recorded on resting orders rejected by a manual
// liquidation.
const ReasonLiquidated = ledger.ReasonLiquidated

// Liquidate settles one account for date at the given prices, keyed by
// pt_symbol. The account's resting orders are rejected first, since the
// settlement releases every reservation. It returns the day's record and
// the symbols that had no price.
func (e *Engine) Liquidate(ctx context.Context, token, date string, prices map[string]float64) (broker.AccountRecord, []string, error) {
	if err := e.Err(); err != nil {
		return broker.AccountRecord{}, nil, err
	}
	l, ok := e.ledger(token)
	if !ok {
		return broker.AccountRecord{}, nil, fmt.Errorf("liquidate: %w: %s", broker.ErrAccountNotFound, token)
	}

	var (
		rec   broker.AccountRecord
		stale []string
	)
	err := e.x.Exclusive(func() error {
		for _, o := range l.Orders() {
			if !o.Status.Resting() {
				continue
			}
			if _, taken := e.x.Book().Take(o.OrderID); !taken {
				continue
			}
			if _, err := l.Refuse(ctx, o.OrderID, ReasonLiquidated); err != nil {
				return e.check(err)
			}
			metrics.RejectionsTotal.WithLabelValues("liquidated").Inc()
		}
		e.updateDepth()

		var err error
		rec, stale, err = e.liquidate(ctx, l, date, prices)
		return err
	})
	return rec, stale, err
}

func (e *Engine) liquidate(ctx context.Context, l *ledger.Ledger, date string, prices map[string]float64) (broker.AccountRecord, []string, error) {
	rec, stale, err := l.Liquidate(ctx, date, prices)
	if err != nil {
		return rec, stale, e.check(err)
	}
	metrics.LiquidationsTotal.Inc()
	if len(stale) > 0 {
		e.log.Warn("liquidation without price", "account", rec.AccountID, "date", date, "symbols", stale)
	}
	e.log.Info("account liquidated", "account", rec.AccountID, "date", date,
		"assets", rec.Assets, "available", rec.Available, "market_value", rec.MarketValue)

	if e.opts.Persistence == Manual {
		if err := e.journal.Flush(ctx, l.Snapshot()); err != nil {
			return rec, stale, e.halt(err)
		}
	}
	return rec, stale, nil
}

// CloseDay ends the session for date: resting orders are rejected and
// every loaded account is liquidated at the provider's quotes. Backtests
// call it at each day boundary; the hours gate calls it through the
// exchange.
func (e *Engine) CloseDay(ctx context.Context, date string) error {
	if err := e.Err(); err != nil {
		return err
	}
	if err := e.x.Close(ctx, date); err != nil {
		if ferr := e.Err(); ferr != nil {
			return ferr
		}
		return err
	}
	return nil
}

// NextDay opens the session for date after a close.
func (e *Engine) NextDay(date string) error {
	return e.x.Open(date)
}

// settlementPrices quotes every symbol held by l. Symbols without a quote
// are left out and end up reported as stale.
func (e *Engine) settlementPrices(ctx context.Context, l *ledger.Ledger) map[string]float64 {
	prices := make(map[string]float64)
	if e.quotes == nil {
		return prices
	}
	for _, p := range l.Positions() {
		q, err := e.quotes.Quote(ctx, p.Symbol())
		if err != nil {
			if !errors.Is(err, market.ErrNoQuote) {
				e.log.Warn("settlement quote failed", "symbol", p.Symbol(), "err", err)
			}
			continue
		}
		if px := q.Close(); px > 0 {
			prices[p.Symbol()] = px
		}
	}
	return prices
}

// Flush writes the account's full state to the store.
func (e *Engine) Flush(ctx context.Context, token string) error {
	l, ok := e.ledger(token)
	if !ok {
		return fmt.Errorf("flush: %w: %s", broker.ErrAccountNotFound, token)
	}
	if err := e.journal.Flush(ctx, l.Snapshot()); err != nil {
		return e.halt(err)
	}
	return nil
}

func (e *Engine) FlushAll(ctx context.Context) error {
	var errs []error
	for _, l := range e.ledgers() {
		if err := e.journal.Flush(ctx, l.Snapshot()); err != nil {
			errs = append(errs, e.halt(err))
		}
	}
	return errors.Join(errs...)
}

// hooks applies matching outcomes to the ledgers.
type hooks struct{ e *Engine }

var _ exchange.Handler = hooks{}

func (h hooks) OnDeal(ctx context.Context, fill broker.Order) error {
	e := h.e
	l, ok := e.ledger(fill.AccountID)
	if !ok {
		e.log.Warn("fill for unloaded account dropped", "account", fill.AccountID, "order_id", fill.OrderID)
		return nil
	}

	o, err := l.Deal(ctx, fill)
	if err != nil {
		if errors.Is(err, ledger.ErrPublish) {
			return e.check(err)
		}
		e.log.Warn("fill refused", "account", fill.AccountID, "order_id", fill.OrderID, "err", err)
		if errors.Is(err, ledger.ErrOrderTerminal) {
			return nil
		}
		if _, rerr := l.Refuse(ctx, fill.OrderID, broker.Reason(err)); rerr != nil {
			return e.check(rerr)
		}
		metrics.RejectionsTotal.WithLabelValues("fill").Inc()
		e.updateDepth()
		return nil
	}

	metrics.FillsTotal.WithLabelValues(string(o.OrderType)).Inc()
	e.updateDepth()
	e.log.Info("order filled", "account", o.AccountID, "order_id", o.OrderID, "symbol", o.Symbol(),
		"type", o.OrderType, "price", o.TradePrice, "volume", o.Traded)
	return nil
}

func (h hooks) OnReject(ctx context.Context, o broker.Order, reason string) error {
	e := h.e
	l, ok := e.ledger(o.AccountID)
	if !ok {
		return nil
	}
	if _, err := l.Refuse(ctx, o.OrderID, reason); err != nil {
		if errors.Is(err, ledger.ErrOrderTerminal) {
			return nil
		}
		return e.check(err)
	}
	metrics.RejectionsTotal.WithLabelValues(reason).Inc()
	e.updateDepth()
	e.log.Info("order rejected", "account", o.AccountID, "order_id", o.OrderID, "symbol", o.Symbol(), "reason", reason)
	return nil
}

func (h hooks) OnNotTraded(ctx context.Context, o broker.Order) error {
	l, ok := h.e.ledger(o.AccountID)
	if !ok {
		return nil
	}
	_, err := l.MarkNotTraded(ctx, o.OrderID)
	return h.e.check(err)
}

func (h hooks) OnClose(ctx context.Context, date string) error {
	e := h.e
	var errs []error
	for _, l := range e.ledgers() {
		if _, _, err := e.liquidate(ctx, l, date, e.settlementPrices(ctx, l)); err != nil {
			if ferr := e.Err(); ferr != nil {
				return ferr
			}
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		e.log.Error("end of day incomplete", "date", date, "err", err)
	}
	return nil
}
