package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/papertrade/broker"
	"github.com/rustyeddy/papertrade/exchange"
	"github.com/rustyeddy/papertrade/metrics"
	"github.com/rustyeddy/papertrade/pkg/id"
)

// SubmitOrder validates and verifies req and, for buys and sells, reserves
// the cash or shares and books the order. The returned order carries its
// assigned id and current status; a backtest may already have filled it.
//
// A refused order is returned with status rejected and its reason, along
// with a *broker.Rejection. Refused orders are not recorded. Cancel and
// liquidation requests are routed to CancelOrder and Liquidate.
func (e *Engine) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.Order, error) {
	if err := e.Err(); err != nil {
		return broker.Order{}, err
	}

	o, err := broker.NewOrder(req, e.opts.Clock())
	if err != nil {
		metrics.RejectionsTotal.WithLabelValues("invalid").Inc()
		return broker.Order{}, err
	}

	switch o.OrderType {
	case broker.OrderCancel:
		c, err := e.cancel(ctx, o.AccountID, o.OrderID)
		if err != nil {
			return broker.Order{}, err
		}
		return c, nil
	case broker.OrderLiquidation:
		if _, _, err := e.Liquidate(ctx, o.AccountID, o.OrderDate, req.Prices); err != nil {
			return broker.Order{}, err
		}
		o.Status = broker.StatusAllTraded
		return o, nil
	}

	if !e.x.Accepting() {
		return e.refuse(o, broker.Reject(broker.ErrMarketClosed, "market closed"))
	}
	l, ok := e.ledger(o.AccountID)
	if !ok {
		return e.refuse(o, broker.Reject(broker.ErrAccountNotFound, "account %s not found", o.AccountID))
	}

	o.OrderID = id.At(e.opts.Clock())
	reserved := false
	err = e.x.Admit(ctx, o, func() error {
		if err := l.Reserve(ctx, o); err != nil {
			return err
		}
		reserved = true
		metrics.OrdersTotal.WithLabelValues(string(o.OrderType)).Inc()
		e.log.Info("order accepted", "account", o.AccountID, "order_id", o.OrderID,
			"symbol", o.Symbol(), "type", o.OrderType, "price", o.OrderPrice, "volume", o.Volume)
		return nil
	})
	if err != nil {
		var rej *broker.Rejection
		switch {
		case errors.As(err, &rej):
			return e.refuse(o, rej)
		case !reserved && errors.Is(err, broker.ErrMarketClosed):
			return e.refuse(o, broker.Reject(broker.ErrMarketClosed, "market closed"))
		case errors.Is(err, exchange.ErrNotBooked):
			if _, rerr := l.Refuse(ctx, o.OrderID, broker.Reason(err)); rerr != nil {
				return broker.Order{}, e.check(rerr)
			}
			return broker.Order{}, err
		}
		if ferr := e.Err(); ferr != nil {
			return broker.Order{}, ferr
		}
		return broker.Order{}, e.check(err)
	}
	e.updateDepth()

	got, _ := l.Order(o.OrderID)
	return got, e.Err()
}

func (e *Engine) refuse(o broker.Order, rej *broker.Rejection) (broker.Order, error) {
	o.Status = broker.StatusRejected
	o.ErrorMsg = broker.Reason(rej)
	metrics.RejectionsTotal.WithLabelValues(rej.Err.Error()).Inc()
	e.log.Info("order rejected", "account", o.AccountID, "symbol", o.Symbol(), "reason", o.ErrorMsg)
	return o, rej
}

// CancelOrder cancels a resting order of token. It fails with
// broker.ErrOrderNotFound when the order is not resting, including when a
// match took it first.
func (e *Engine) CancelOrder(ctx context.Context, token, orderID string) error {
	_, err := e.cancel(ctx, token, orderID)
	return err
}

func (e *Engine) cancel(ctx context.Context, token, orderID string) (broker.Order, error) {
	if err := e.Err(); err != nil {
		return broker.Order{}, err
	}
	l, ok := e.ledger(token)
	if !ok {
		return broker.Order{}, fmt.Errorf("cancel: %w: %s", broker.ErrAccountNotFound, token)
	}
	if _, ok := l.Order(orderID); !ok {
		return broker.Order{}, fmt.Errorf("cancel: %w: %s", broker.ErrOrderNotFound, orderID)
	}

	if _, err := e.x.Cancel(orderID); err != nil {
		return broker.Order{}, fmt.Errorf("cancel: %w", err)
	}
	o, err := l.Cancel(ctx, orderID)
	if err != nil {
		return broker.Order{}, e.check(err)
	}
	e.updateDepth()
	metrics.CancelsTotal.Inc()
	e.log.Info("order cancelled", "account", token, "order_id", orderID, "symbol", o.Symbol())
	return o, nil
}

// OrderStatus returns the order from the live blotter, or from the store
// when the account is not loaded.
func (e *Engine) OrderStatus(ctx context.Context, token, orderID string) (broker.Order, error) {
	if l, ok := e.ledger(token); ok {
		o, ok := l.Order(orderID)
		if !ok {
			return broker.Order{}, fmt.Errorf("%w: %s", broker.ErrOrderNotFound, orderID)
		}
		return o, nil
	}
	return e.journal.Order(ctx, token, orderID)
}
