package ledger

import (
	"context"
	"fmt"

	"github.com/rustyeddy/papertrade/broker"
	"github.com/rustyeddy/papertrade/event"
)

// Reserve checks that the account can cover o and freezes the cash (buy) or
// shares (sell) it needs. The check and the freeze happen under one lock.
// On success the order joins the blotter and an OrderInserted event is
// published. A failed check returns a *broker.Rejection and changes nothing.
//
// o must already carry its order id.
func (l *Ledger) Reserve(ctx context.Context, o broker.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if o.OrderID == "" {
		return fmt.Errorf("reserve: %w: empty order id", broker.ErrInvalidOrder)
	}
	if !broker.Finite(o.OrderPrice) || o.OrderPrice < 0 {
		return fmt.Errorf("reserve: %w: order price %v", broker.ErrInvalidOrder, o.OrderPrice)
	}
	if _, dup := l.orders[o.OrderID]; dup {
		return fmt.Errorf("reserve: %w: %s", ErrDuplicateID, o.OrderID)
	}

	var evs []event.Event
	switch o.OrderType {
	case broker.OrderBuy:
		need := l.reserveFor(&o, o.Volume)
		if need > l.acct.Available {
			return broker.Reject(broker.ErrInsufficientFunds,
				"insufficient available funds: need %.2f, available %.2f", need, l.acct.Available)
		}
		l.acct.Available = l.round(l.acct.Available - need)
		evs = append(evs, event.AccountAvailableUpdated{
			AccountID: l.acct.AccountID,
			Available: l.acct.Available,
		})

	case broker.OrderSell:
		p, ok := l.positions[o.Symbol()]
		if !ok {
			return broker.Reject(broker.ErrNoPosition, "no position in %s", o.Symbol())
		}
		if o.Volume > p.Available {
			return broker.Reject(broker.ErrInsufficientShares,
				"insufficient available shares in %s: need %d, available %d", o.Symbol(), o.Volume, p.Available)
		}
		p.Available -= o.Volume
		evs = append(evs, event.PositionAvailableUpdated{
			AccountID: p.AccountID,
			Code:      p.Code,
			Exchange:  p.Exchange,
			Available: p.Available,
		})

	default:
		return fmt.Errorf("reserve: %w: order type %q does not reserve", broker.ErrInvalidOrder, o.OrderType)
	}

	o.Status = broker.StatusSubmitting
	o.Traded = 0
	l.orders[o.OrderID] = &o
	l.seq = append(l.seq, o.OrderID)
	evs = append(evs, event.OrderInserted{Order: o})

	return l.publish(ctx, evs)
}
