package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/rustyeddy/papertrade/broker"
	"github.com/rustyeddy/papertrade/event"
)

// ReasonLiquidated is recorded on live orders rejected by a liquidation.
const ReasonLiquidated = "account liquidated, order rejected automatically"

// Mark revalues the holding in symbol at price. The change in value moves
// market value and assets; available cash is untouched. A missing holding,
// a non-positive price or a NaN or infinite one is a no-op.
func (l *Ledger) Mark(ctx context.Context, symbol string, price float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.publish(ctx, l.markLocked(symbol, price))
}

// Liquidate runs the end-of-day pass for checkDate (YYYYMMDD). Each holding
// with a price in prices is marked, then every holding is fully unfrozen,
// then all reserved cash is released. The resulting AccountRecord replaces
// any earlier one for the same date, so running twice is harmless.
//
// Orders still live in the blotter are rejected with ReasonLiquidated first,
// so no reservation outlives the reset of available cash. Holdings without
// a usable price keep their last mark; Liquidate returns their symbols so
// the caller can report them.
func (l *Ledger) Liquidate(ctx context.Context, checkDate string, prices map[string]float64) (broker.AccountRecord, []string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if checkDate == "" {
		return broker.AccountRecord{}, nil, fmt.Errorf("liquidate: %w: empty check date", broker.ErrInvalidOrder)
	}

	symbols := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var (
		evs   []event.Event
		stale []string
	)
	for _, id := range l.seq {
		o := l.orders[id]
		if o.Status.Terminal() {
			continue
		}
		evs = append(evs, l.releaseLocked(o)...)
		o.Status = broker.StatusRejected
		o.ErrorMsg = ReasonLiquidated
		evs = append(evs, event.OrderStatusChanged{
			AccountID: o.AccountID,
			OrderID:   o.OrderID,
			Status:    o.Status,
			ErrorMsg:  o.ErrorMsg,
		})
	}

	for _, sym := range symbols {
		if px, ok := prices[sym]; ok && usable(px) {
			evs = append(evs, l.markLocked(sym, px)...)
		} else {
			stale = append(stale, sym)
		}
		evs = append(evs, l.unfreezeLocked(sym)...)
	}

	l.acct.Available = l.round(l.acct.Assets - l.acct.MarketValue)
	evs = append(evs, event.AccountAvailableUpdated{
		AccountID: l.acct.AccountID,
		Available: l.acct.Available,
	})

	rec := broker.AccountRecord{
		AccountID:   l.acct.AccountID,
		CheckDate:   checkDate,
		Assets:      l.acct.Assets,
		Available:   l.acct.Available,
		MarketValue: l.acct.MarketValue,
	}
	l.daily[checkDate] = rec
	evs = append(evs, event.AccountRecordInserted{Record: rec})

	return rec, stale, l.publish(ctx, evs)
}

func (l *Ledger) markLocked(symbol string, price float64) []event.Event {
	p, ok := l.positions[symbol]
	if !ok || !usable(price) {
		return nil
	}

	diff := l.round((price - p.NowPrice) * float64(p.Volume))
	p.Profit = l.round(p.Profit + diff)
	p.NowPrice = price
	l.acct.Assets = l.round(l.acct.Assets + diff)
	l.acct.MarketValue = l.round(l.acct.MarketValue + diff)

	return []event.Event{
		event.PositionPriceUpdated{
			AccountID: p.AccountID,
			Code:      p.Code,
			Exchange:  p.Exchange,
			NowPrice:  p.NowPrice,
			Profit:    p.Profit,
		},
		event.AccountAssetsUpdated{
			AccountID:   l.acct.AccountID,
			MarketValue: l.acct.MarketValue,
			Assets:      l.acct.Assets,
		},
	}
}

// unfreezeLocked settles the holding in symbol: a non-empty holding becomes
// fully available, an empty one is removed and its record closed.
func (l *Ledger) unfreezeLocked(symbol string) []event.Event {
	p, ok := l.positions[symbol]
	if !ok {
		return nil
	}

	if p.Volume > 0 {
		p.Available = p.Volume
		return []event.Event{event.PositionAvailableUpdated{
			AccountID: p.AccountID,
			Code:      p.Code,
			Exchange:  p.Exchange,
			Available: p.Available,
		}}
	}

	delete(l.positions, symbol)
	evs := []event.Event{event.PositionDeleted{
		AccountID: p.AccountID,
		Code:      p.Code,
		Exchange:  p.Exchange,
	}}
	if i, ok := l.open[symbol]; ok {
		l.records[i].IsClear = 1
		delete(l.open, symbol)
		evs = append(evs, event.PosRecordCleared{
			AccountID: p.AccountID,
			Code:      p.Code,
			Exchange:  p.Exchange,
		})
	}
	return evs
}

func usable(price float64) bool {
	return broker.Finite(price) && price > 0
}
