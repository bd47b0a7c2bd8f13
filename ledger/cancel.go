package ledger

import (
	"context"
	"fmt"

	"github.com/rustyeddy/papertrade/broker"
	"github.com/rustyeddy/papertrade/event"
)

// Cancel ends a resting order at the client's request and returns its
// unfilled reservation.
func (l *Ledger) Cancel(ctx context.Context, orderID string) (broker.Order, error) {
	return l.finish(ctx, orderID, broker.StatusCancelled, "")
}

// Refuse rejects a resting order with reason and returns its unfilled
// reservation exactly as Cancel does.
func (l *Ledger) Refuse(ctx context.Context, orderID, reason string) (broker.Order, error) {
	return l.finish(ctx, orderID, broker.StatusRejected, reason)
}

// MarkNotTraded moves a submitted order that did not match on its first
// pass to not-traded. Any other state is left alone.
func (l *Ledger) MarkNotTraded(ctx context.Context, orderID string) (broker.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[orderID]
	if !ok {
		return broker.Order{}, fmt.Errorf("status %s: %w", orderID, broker.ErrOrderNotFound)
	}
	if o.Status != broker.StatusSubmitting {
		return *o, nil
	}
	o.Status = broker.StatusNotTraded
	return *o, l.publish(ctx, []event.Event{event.OrderStatusChanged{
		AccountID: o.AccountID,
		OrderID:   o.OrderID,
		Status:    o.Status,
	}})
}

func (l *Ledger) finish(ctx context.Context, orderID string, status broker.OrderStatus, reason string) (broker.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[orderID]
	if !ok {
		return broker.Order{}, fmt.Errorf("%s %s: %w", status, orderID, broker.ErrOrderNotFound)
	}
	if o.Status.Terminal() {
		return *o, fmt.Errorf("%s %s: %w (%s)", status, orderID, ErrOrderTerminal, o.Status)
	}

	evs := l.releaseLocked(o)
	o.Status = status
	o.ErrorMsg = reason
	evs = append(evs, event.OrderStatusChanged{
		AccountID: o.AccountID,
		OrderID:   o.OrderID,
		Status:    o.Status,
		ErrorMsg:  o.ErrorMsg,
	})
	return *o, l.publish(ctx, evs)
}

// releaseLocked gives back what Reserve froze for the unfilled part of o.
func (l *Ledger) releaseLocked(o *broker.Order) []event.Event {
	remaining := o.Remaining()
	if remaining <= 0 {
		return nil
	}

	switch o.OrderType {
	case broker.OrderBuy:
		l.acct.Available = l.round(l.acct.Available + l.reserveFor(o, remaining))
		return []event.Event{event.AccountAvailableUpdated{
			AccountID: l.acct.AccountID,
			Available: l.acct.Available,
		}}

	case broker.OrderSell:
		p, ok := l.positions[o.Symbol()]
		if !ok {
			return nil
		}
		p.Available += remaining
		if p.Available > p.Volume {
			p.Available = p.Volume
		}
		return []event.Event{event.PositionAvailableUpdated{
			AccountID: p.AccountID,
			Code:      p.Code,
			Exchange:  p.Exchange,
			Available: p.Available,
		}}
	}
	return nil
}
