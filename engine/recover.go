package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/papertrade/broker"
	"github.com/rustyeddy/papertrade/exchange"
	"github.com/rustyeddy/papertrade/journal"
	"github.com/rustyeddy/papertrade/ledger"
)

// recoverAll loads every stored account. An account that fails to load is
// logged and skipped; only a store that cannot list accounts is an error.
func (e *Engine) recoverAll(ctx context.Context) error {
	tokens, err := e.journal.Tokens(ctx)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	for _, tok := range tokens {
		if _, ok := e.ledger(tok); ok {
			continue
		}
		if err := e.load(ctx, tok); err != nil {
			e.log.Warn("recover: skipping account", "account", tok, "err", err)
		}
	}
	e.log.Info("recovered accounts", "count", len(e.ledgers()), "resting", e.x.Book().Len())
	return nil
}

func (e *Engine) loadMode() journal.LoadMode {
	if e.opts.Mode == exchange.ModeBacktest {
		return journal.LoadBacktest
	}
	return journal.LoadTrading
}

// load rebuilds one ledger from the store and puts its resting orders back
// in the book. Live orders left over from an earlier day are rejected as
// the close would have, which returns their reservations.
func (e *Engine) load(ctx context.Context, token string) error {
	res, err := e.journal.Load(ctx, token, e.loadMode(), e.today())
	if err != nil {
		return err
	}
	for _, skipped := range res.Skipped {
		e.log.Warn("recover: skipping record", "account", token, "err", skipped)
	}

	l := ledger.New(res.State.Account, e.opts.Point, e.bus)
	l.Restore(res.State)

	e.mu.Lock()
	if _, dup := e.accounts[token]; dup {
		e.mu.Unlock()
		return nil
	}
	e.accounts[token] = l
	e.mu.Unlock()

	for _, o := range res.Stale {
		if _, err := l.Refuse(ctx, o.OrderID, exchange.ReasonMarketClosed); err != nil {
			if err := e.check(err); errors.Is(err, ErrPersistence) {
				return err
			}
			e.log.Warn("recover: cannot end stale order", "account", token, "order_id", o.OrderID, "err", err)
			continue
		}
		e.log.Info("recover: stale order rejected", "account", token, "order_id", o.OrderID, "order_date", o.OrderDate)
	}

	for _, o := range res.Resting {
		if o.AccountID != token {
			e.log.Warn("recover: order belongs to another account", "account", token, "order_id", o.OrderID)
			continue
		}
		if err := e.x.Restore([]broker.Order{o}); err != nil {
			e.log.Warn("recover: skipping order", "account", token, "order_id", o.OrderID, "err", err)
		}
	}
	e.updateDepth()
	e.log.Info("account loaded", "account", token, "resting", len(res.Resting))
	return nil
}
