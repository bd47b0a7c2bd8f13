// Package journal persists ledger state into a docstore.Store. It
// subscribes to ledger events and applies each one as a single document
// write, answers read queries for the order and account surfaces, rebuilds
// ledger state on startup and renders exports and reports.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rustyeddy/papertrade/broker"
	"github.com/rustyeddy/papertrade/docstore"
	"github.com/rustyeddy/papertrade/event"
	"github.com/rustyeddy/papertrade/pkg/retry"
)

// Database names. The collection within each is the account token.
const (
	DBAccount   = "pt_account"
	DBPosition  = "pt_position"
	DBTrade     = "pt_trade"
	DBAccRecord = "pt_acc_record"
	DBPosRecord = "pt_pos_record"
)

var databases = []string{DBAccount, DBPosition, DBTrade, DBAccRecord, DBPosRecord}

type Option func(*Journal)

// WithRetry retries each store write up to attempts times.
func WithRetry(attempts int, base time.Duration) Option {
	return func(j *Journal) {
		j.attempts = attempts
		j.backoff = base
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(j *Journal) { j.log = log }
}

type Journal struct {
	store    docstore.Store
	log      *slog.Logger
	attempts int
	backoff  time.Duration
}

func New(store docstore.Store, opts ...Option) *Journal {
	j := &Journal{
		store:    store,
		log:      slog.Default(),
		attempts: 1,
		backoff:  50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *Journal) Store() docstore.Store { return j.store }

// Handle applies ev to the store. It satisfies event.Handler, so a Journal
// subscribed to the bus mirrors every ledger mutation as it happens.
func (j *Journal) Handle(ctx context.Context, ev event.Event) error {
	tok := ev.Token()
	if tok == "" {
		return fmt.Errorf("journal: %s event without account token", ev.Kind())
	}

	err := j.write(ctx, func() error { return j.apply(ctx, tok, ev) })
	if err != nil {
		j.log.Error("journal write failed", "kind", ev.Kind(), "token", tok, "err", err)
		return fmt.Errorf("journal: %s: %w", ev.Kind(), err)
	}
	return nil
}

func (j *Journal) apply(ctx context.Context, tok string, ev event.Event) error {
	s := j.store
	switch e := ev.(type) {
	case event.AccountUpdated:
		return s.UpdateOne(ctx, DBAccount, tok, byAccount(tok), docstore.Document{
			"available":    e.Available,
			"market_value": e.MarketValue,
			"assets":       e.Assets,
		})
	case event.AccountAvailableUpdated:
		return s.UpdateOne(ctx, DBAccount, tok, byAccount(tok), docstore.Document{
			"available": e.Available,
		})
	case event.AccountAssetsUpdated:
		return s.UpdateOne(ctx, DBAccount, tok, byAccount(tok), docstore.Document{
			"market_value": e.MarketValue,
			"assets":       e.Assets,
		})

	case event.PositionInserted:
		return j.replace(ctx, DBPosition, tok, bySymbol(e.Position.Code, e.Position.Exchange), e.Position)
	case event.PositionUpdated:
		return j.replace(ctx, DBPosition, tok, bySymbol(e.Position.Code, e.Position.Exchange), e.Position)
	case event.PositionAvailableUpdated:
		return s.UpdateOne(ctx, DBPosition, tok, bySymbol(e.Code, e.Exchange), docstore.Document{
			"available": e.Available,
		})
	case event.PositionPriceUpdated:
		return s.UpdateOne(ctx, DBPosition, tok, bySymbol(e.Code, e.Exchange), docstore.Document{
			"now_price": e.NowPrice,
			"profit":    e.Profit,
		})
	case event.PositionDeleted:
		_, err := s.DeleteMany(ctx, DBPosition, tok, bySymbol(e.Code, e.Exchange))
		return err

	case event.OrderInserted:
		return j.replace(ctx, DBTrade, tok, byOrder(e.Order.OrderID), e.Order)
	case event.OrderUpdated:
		return j.replace(ctx, DBTrade, tok, byOrder(e.Order.OrderID), e.Order)
	case event.OrderStatusChanged:
		return s.UpdateOne(ctx, DBTrade, tok, byOrder(e.OrderID), docstore.Document{
			"status":    e.Status,
			"error_msg": e.ErrorMsg,
		})

	case event.AccountRecordInserted:
		return j.replace(ctx, DBAccRecord, tok, docstore.Filter{"check_date": e.Record.CheckDate}, e.Record)

	case event.PosRecordInserted:
		f := openRecord(e.Record.Code, e.Record.Exchange)
		f["first_buy_date"] = e.Record.FirstBuyDate
		return j.replace(ctx, DBPosRecord, tok, f, e.Record)
	case event.PosRecordBought:
		return s.UpdateOne(ctx, DBPosRecord, tok, openRecord(e.Code, e.Exchange), docstore.Document{
			"max_vol":        e.MaxVol,
			"buy_price_mean": e.BuyPriceMean,
			"profit":         e.Profit,
		})
	case event.PosRecordSold:
		return s.UpdateOne(ctx, DBPosRecord, tok, openRecord(e.Code, e.Exchange), docstore.Document{
			"sell_price_mean": e.SellPriceMean,
			"last_sell_date":  e.LastSellDate,
			"profit":          e.Profit,
		})
	case event.PosRecordCleared:
		return s.UpdateOne(ctx, DBPosRecord, tok, openRecord(e.Code, e.Exchange), docstore.Document{
			"is_clear": 1,
		})
	}
	return retry.Permanent(fmt.Errorf("unhandled event kind %s", ev.Kind()))
}

func (j *Journal) replace(ctx context.Context, db, tok string, f docstore.Filter, v any) error {
	doc, err := docstore.Encode(v)
	if err != nil {
		return retry.Permanent(err)
	}
	return j.store.ReplaceOne(ctx, db, tok, f, doc, true)
}

// write runs op with the configured retries. A missing document will not
// appear by retrying, so ErrNotFound ends the loop at once.
func (j *Journal) write(ctx context.Context, op func() error) error {
	return retry.Do(ctx, j.attempts, j.backoff, func() error {
		err := op()
		if errors.Is(err, docstore.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
}

func byAccount(tok string) docstore.Filter {
	return docstore.Filter{"account_id": tok}
}

func bySymbol(code, exchange string) docstore.Filter {
	return docstore.Filter{"code": code, "exchange": exchange}
}

func byOrder(id string) docstore.Filter {
	return docstore.Filter{"order_id": id}
}

func openRecord(code, exchange string) docstore.Filter {
	return docstore.Filter{"code": code, "exchange": exchange, "is_clear": 0}
}

// statusStrings converts statuses for an $in filter.
func statusStrings(ss []broker.OrderStatus) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
