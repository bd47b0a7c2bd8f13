package ledger

import (
	"context"
	"fmt"

	"github.com/rustyeddy/papertrade/broker"
	"github.com/rustyeddy/papertrade/event"
)

// Deal applies a fill. fill is the blotter order with TradePrice, Traded,
// TradeType and Status set by the matcher. Fills are all-or-nothing, so
// fill.Traded must equal fill.Volume.
//
// A buy whose actual cost exceeds the cash still free plus the amount
// reserved for it returns broker.ErrFillExceedsReserve without changing
// anything; the caller refuses the order instead.
func (l *Ledger) Deal(ctx context.Context, fill broker.Order) (broker.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[fill.OrderID]
	if !ok {
		return broker.Order{}, fmt.Errorf("deal %s: %w", fill.OrderID, broker.ErrOrderNotFound)
	}
	if o.Status.Terminal() {
		return *o, fmt.Errorf("deal %s: %w (%s)", o.OrderID, ErrOrderTerminal, o.Status)
	}
	if fill.Traded != o.Volume {
		return *o, fmt.Errorf("deal %s: %w: traded %d of %d", o.OrderID, ErrPartialFill, fill.Traded, o.Volume)
	}
	if !broker.Finite(fill.TradePrice) || fill.TradePrice <= 0 {
		return *o, fmt.Errorf("deal %s: trade price must be positive, got %v", o.OrderID, fill.TradePrice)
	}

	var (
		evs []event.Event
		err error
	)
	switch o.OrderType {
	case broker.OrderBuy:
		evs, err = l.buyLocked(o, fill)
	case broker.OrderSell:
		evs, err = l.sellLocked(o, fill)
	default:
		err = fmt.Errorf("deal %s: %w: order type %q", o.OrderID, broker.ErrInvalidOrder, o.OrderType)
	}
	if err != nil {
		return *o, err
	}

	o.TradePrice = fill.TradePrice
	o.TradeType = fill.TradeType
	o.Traded = fill.Traded
	o.Status = broker.StatusAllTraded
	o.ErrorMsg = ""
	evs = append(evs,
		event.AccountUpdated{
			AccountID:   l.acct.AccountID,
			Available:   l.acct.Available,
			MarketValue: l.acct.MarketValue,
			Assets:      l.acct.Assets,
		},
		event.OrderUpdated{Order: *o},
	)

	return *o, l.publish(ctx, evs)
}

func (l *Ledger) buyLocked(o *broker.Order, fill broker.Order) ([]event.Event, error) {
	tp := fill.TradePrice
	oldMV := l.acct.MarketValue
	frozenAll := l.acct.Assets - l.acct.Available - oldMV
	frozen := l.reserveFor(o, o.Volume)
	pay := l.round(float64(fill.Traded) * tp * (1 + l.acct.Cost))

	if pay > l.round(l.acct.Available+frozen) {
		return nil, broker.Reject(broker.ErrFillExceedsReserve,
			"fill cost %.2f exceeds reserved %.2f plus available %.2f", pay, frozen, l.acct.Available)
	}

	diff, evs := l.appendPositionLocked(o, fill)

	l.acct.Available = l.round(l.acct.Available + frozen - pay)
	l.acct.MarketValue = l.round(oldMV + diff)
	l.acct.Assets = l.round(l.acct.Available + l.acct.MarketValue + (frozenAll - frozen))
	return evs, nil
}

func (l *Ledger) sellLocked(o *broker.Order, fill broker.Order) ([]event.Event, error) {
	tp := fill.TradePrice
	oldMV := l.acct.MarketValue
	frozen := l.acct.Assets - l.acct.Available - oldMV
	value := l.round(float64(fill.Traded) * tp)
	costAmt := l.round(value * l.acct.Cost)
	taxAmt := l.round(value * l.acct.Tax)

	diff, evs, err := l.reducePositionLocked(o, tp, costAmt, taxAmt)
	if err != nil {
		return nil, err
	}

	l.acct.Available = l.round(l.acct.Available + value - costAmt - taxAmt)
	l.acct.MarketValue = l.round(oldMV + diff)
	l.acct.Assets = l.round(l.acct.Available + l.acct.MarketValue + frozen)
	return evs, nil
}

// appendPositionLocked adds a buy fill to the holding and returns the change
// in the holding's marked value.
func (l *Ledger) appendPositionLocked(o *broker.Order, fill broker.Order) (float64, []event.Event) {
	tp := fill.TradePrice
	traded := fill.Traded
	commission := l.round(float64(o.Volume) * tp * l.acct.Cost)
	sym := o.Symbol()

	old, ok := l.positions[sym]
	if !ok {
		p := &broker.Position{
			Code:      o.Code,
			Exchange:  o.Exchange,
			AccountID: o.AccountID,
			BuyDate:   o.OrderDate,
			Volume:    traded,
			Available: traded,
			BuyPrice:  tp,
			NowPrice:  tp,
			Profit:    l.round(-commission),
		}
		if fill.TradeType == broker.T1 {
			p.Available = 0
		}
		l.positions[sym] = p

		rec := broker.PosRecord{
			Code:         o.Code,
			Exchange:     o.Exchange,
			AccountID:    o.AccountID,
			FirstBuyDate: o.OrderDate,
			MaxVol:       traded,
			BuyPriceMean: tp,
			Profit:       p.Profit,
		}
		l.records = append(l.records, rec)
		l.open[sym] = len(l.records) - 1

		return l.round(float64(traded) * tp), []event.Event{
			event.PositionInserted{Position: *p},
			event.PosRecordInserted{Record: rec},
		}
	}

	volume := old.Volume + traded
	diff := l.round(float64(volume)*tp - float64(old.Volume)*old.NowPrice)
	old.BuyPrice = l.round((float64(old.Volume)*old.BuyPrice + float64(traded)*tp) / float64(volume))
	old.Profit = l.round((tp-old.NowPrice)*float64(old.Volume) + old.Profit - commission)
	if fill.TradeType != broker.T1 {
		old.Available += traded
	}
	old.Volume = volume
	old.NowPrice = tp

	evs := []event.Event{event.PositionUpdated{Position: *old}}
	if i, ok := l.open[sym]; ok {
		rec := &l.records[i]
		if volume > rec.MaxVol {
			rec.MaxVol = volume
		}
		rec.BuyPriceMean = old.BuyPrice
		rec.Profit = old.Profit
		evs = append(evs, event.PosRecordBought{
			AccountID:    rec.AccountID,
			Code:         rec.Code,
			Exchange:     rec.Exchange,
			MaxVol:       rec.MaxVol,
			BuyPriceMean: rec.BuyPriceMean,
			Profit:       rec.Profit,
		})
	}
	return diff, evs
}

// reducePositionLocked removes a sell fill from the holding. A holding sold
// down to zero is settled at once, so no empty position stays live.
func (l *Ledger) reducePositionLocked(o *broker.Order, tp, costAmt, taxAmt float64) (float64, []event.Event, error) {
	sym := o.Symbol()
	old, ok := l.positions[sym]
	if !ok {
		return 0, nil, fmt.Errorf("deal %s: %w in %s", o.OrderID, broker.ErrNoPosition, sym)
	}
	volume := old.Volume - o.Volume
	if volume < 0 {
		return 0, nil, fmt.Errorf("deal %s: sell of %d exceeds holding of %d in %s", o.OrderID, o.Volume, old.Volume, sym)
	}

	diff := l.round(float64(volume)*tp - float64(old.Volume)*old.NowPrice)
	old.Profit = l.round((tp-old.NowPrice)*float64(old.Volume) + old.Profit - costAmt - taxAmt)
	old.Volume = volume
	old.NowPrice = tp
	if old.Available > volume {
		old.Available = volume
	}

	evs := []event.Event{event.PositionUpdated{Position: *old}}
	if i, ok := l.open[sym]; ok {
		rec := &l.records[i]
		if rec.MaxVol > 0 {
			rec.SellPriceMean = l.round(rec.SellPriceMean + float64(o.Volume)/float64(rec.MaxVol)*tp)
		}
		rec.LastSellDate = o.OrderDate
		rec.Profit = old.Profit
		evs = append(evs, event.PosRecordSold{
			AccountID:     rec.AccountID,
			Code:          rec.Code,
			Exchange:      rec.Exchange,
			SellPriceMean: rec.SellPriceMean,
			LastSellDate:  rec.LastSellDate,
			Profit:        rec.Profit,
		})
	}

	if volume == 0 {
		evs = append(evs, l.unfreezeLocked(sym)...)
	}
	return diff, evs, nil
}
