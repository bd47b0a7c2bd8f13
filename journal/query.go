package journal

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rustyeddy/papertrade/broker"
	"github.com/rustyeddy/papertrade/docstore"
	"github.com/rustyeddy/papertrade/ledger"
)

var ErrAccountExists = errors.New("account already exists")

// CreateAccount stores a fresh account document.
func (j *Journal) CreateAccount(ctx context.Context, acct broker.Account) error {
	_, err := j.store.FindOne(ctx, DBAccount, acct.AccountID, byAccount(acct.AccountID))
	if err == nil {
		return fmt.Errorf("%w: %s", ErrAccountExists, acct.AccountID)
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return err
	}
	doc, err := docstore.Encode(acct)
	if err != nil {
		return err
	}
	return j.write(ctx, func() error {
		return j.store.InsertOne(ctx, DBAccount, acct.AccountID, doc)
	})
}

func (j *Journal) Account(ctx context.Context, token string) (broker.Account, error) {
	doc, err := j.store.FindOne(ctx, DBAccount, token, byAccount(token))
	if errors.Is(err, docstore.ErrNotFound) {
		return broker.Account{}, fmt.Errorf("%w: %s", broker.ErrAccountNotFound, token)
	}
	if err != nil {
		return broker.Account{}, err
	}
	var acct broker.Account
	if err := docstore.Decode(doc, &acct); err != nil {
		return broker.Account{}, err
	}
	return acct, nil
}

// Tokens lists every account token known to the store, sorted.
func (j *Journal) Tokens(ctx context.Context) ([]string, error) {
	colls, err := j.store.ListCollections(ctx, DBAccount)
	if err != nil {
		return nil, err
	}
	sort.Strings(colls)
	return colls, nil
}

func (j *Journal) Accounts(ctx context.Context) ([]broker.Account, error) {
	tokens, err := j.Tokens(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]broker.Account, 0, len(tokens))
	for _, tok := range tokens {
		acct, err := j.Account(ctx, tok)
		if errors.Is(err, broker.ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, nil
}

// DeleteAccount drops every collection of token.
func (j *Journal) DeleteAccount(ctx context.Context, token string) error {
	var errs []error
	for _, db := range databases {
		if err := j.store.DropCollection(ctx, db, token); err != nil {
			errs = append(errs, fmt.Errorf("drop %s/%s: %w", db, token, err))
		}
	}
	return errors.Join(errs...)
}

func (j *Journal) Positions(ctx context.Context, token string) ([]broker.Position, error) {
	out, bad, err := decodeAll[broker.Position](ctx, j.store, DBPosition, token, docstore.Filter{})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Symbol() < out[b].Symbol() })
	return out, errors.Join(bad...)
}

// OrderQuery narrows Orders. Zero fields match everything.
type OrderQuery struct {
	Date     string
	Code     string
	Exchange string
	Statuses []broker.OrderStatus
}

func (q OrderQuery) filter() docstore.Filter {
	f := docstore.Filter{}
	if q.Date != "" {
		f["order_date"] = q.Date
	}
	if q.Code != "" {
		f["code"] = q.Code
	}
	if q.Exchange != "" {
		f["exchange"] = q.Exchange
	}
	if len(q.Statuses) > 0 {
		f["status"] = map[string]any{"$in": statusStrings(q.Statuses)}
	}
	return f
}

// Orders returns the orders of token matching q in arrival order.
func (j *Journal) Orders(ctx context.Context, token string, q OrderQuery) ([]broker.Order, error) {
	out, bad, err := decodeAll[broker.Order](ctx, j.store, DBTrade, token, q.filter())
	if err != nil {
		return nil, err
	}
	return out, errors.Join(bad...)
}

func (j *Journal) Order(ctx context.Context, token, orderID string) (broker.Order, error) {
	doc, err := j.store.FindOne(ctx, DBTrade, token, byOrder(orderID))
	if errors.Is(err, docstore.ErrNotFound) {
		return broker.Order{}, fmt.Errorf("%w: %s", broker.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return broker.Order{}, err
	}
	var o broker.Order
	return o, docstore.Decode(doc, &o)
}

// AccountRecords returns the daily records with start <= check_date <= end,
// sorted by date. Empty bounds are open.
func (j *Journal) AccountRecords(ctx context.Context, token, start, end string) ([]broker.AccountRecord, error) {
	out, bad, err := decodeAll[broker.AccountRecord](ctx, j.store, DBAccRecord, token, dateRange("check_date", start, end))
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CheckDate < out[b].CheckDate })
	return out, errors.Join(bad...)
}

// PosRecords returns holding histories whose first buy falls within
// [start, end]. openOnly keeps only the uncleared ones.
func (j *Journal) PosRecords(ctx context.Context, token, start, end string, openOnly bool) ([]broker.PosRecord, error) {
	f := dateRange("first_buy_date", start, end)
	if openOnly {
		f["is_clear"] = 0
	}
	out, bad, err := decodeAll[broker.PosRecord](ctx, j.store, DBPosRecord, token, f)
	if err != nil {
		return nil, err
	}
	return out, errors.Join(bad...)
}

func dateRange(field, start, end string) docstore.Filter {
	ops := map[string]any{}
	if start != "" {
		ops["$gte"] = start
	}
	if end != "" {
		ops["$lte"] = end
	}
	if len(ops) == 0 {
		return docstore.Filter{}
	}
	return docstore.Filter{field: ops}
}

// decodeAll reads every match as a T. Documents that do not decode are
// returned in bad; err is set only when the store itself fails.
func decodeAll[T any](ctx context.Context, store docstore.Store, db, token string, f docstore.Filter) (out []T, bad []error, err error) {
	docs, err := store.Find(ctx, db, token, f)
	if err != nil {
		return nil, nil, err
	}
	for _, doc := range docs {
		var v T
		if err := docstore.Decode(doc, &v); err != nil {
			bad = append(bad, fmt.Errorf("%s/%s: %w", db, token, err))
			continue
		}
		out = append(out, v)
	}
	return out, bad, nil
}

// LoadMode selects which orders Load brings back into the book.
type LoadMode int

const (
	// LoadCreate starts from the account document only.
	LoadCreate LoadMode = iota
	// LoadTrading restores today's resting orders.
	LoadTrading
	// LoadBacktest restores resting orders from any date.
	LoadBacktest
)

// LoadResult is the state rebuilt for one account.
type LoadResult struct {
	State   ledger.State
	Resting []broker.Order
	// Stale holds live orders from an earlier trading day. Their session
	// closed without them, so the caller ends them.
	Stale []broker.Order
	// Skipped lists documents that could not be decoded.
	Skipped []error
}

// Load rebuilds the ledger state of token. Malformed documents are skipped
// and reported rather than failing the whole account.
func (j *Journal) Load(ctx context.Context, token string, mode LoadMode, today string) (LoadResult, error) {
	var res LoadResult

	acct, err := j.Account(ctx, token)
	if err != nil {
		return res, err
	}
	res.State.Account = acct
	if mode == LoadCreate {
		return res, nil
	}

	pos, bad, err := decodeAll[broker.Position](ctx, j.store, DBPosition, token, docstore.Filter{})
	if err != nil {
		return res, err
	}
	res.Skipped = append(res.Skipped, bad...)
	sort.Slice(pos, func(a, b int) bool { return pos[a].Symbol() < pos[b].Symbol() })
	res.State.Positions = pos

	orders, bad, err := decodeAll[broker.Order](ctx, j.store, DBTrade, token, docstore.Filter{})
	if err != nil {
		return res, err
	}
	res.Skipped = append(res.Skipped, bad...)
	res.State.Orders = orders
	for _, o := range orders {
		if !o.Status.Resting() {
			continue
		}
		if mode == LoadTrading && o.OrderDate != today {
			res.Stale = append(res.Stale, o)
			continue
		}
		res.Resting = append(res.Resting, o)
	}

	recs, bad, err := decodeAll[broker.AccountRecord](ctx, j.store, DBAccRecord, token, docstore.Filter{})
	if err != nil {
		return res, err
	}
	res.Skipped = append(res.Skipped, bad...)
	sort.Slice(recs, func(a, b int) bool { return recs[a].CheckDate < recs[b].CheckDate })
	res.State.AccountRecords = recs

	prs, bad, err := decodeAll[broker.PosRecord](ctx, j.store, DBPosRecord, token, docstore.Filter{})
	if err != nil {
		return res, err
	}
	res.Skipped = append(res.Skipped, bad...)
	res.State.PosRecords = prs

	for _, e := range res.Skipped {
		j.log.Warn("skipping malformed document", "token", token, "err", e)
	}
	return res, nil
}

// Flush writes a full ledger snapshot. Positions are replaced wholesale;
// orders and records are upserted so history is never dropped.
func (j *Journal) Flush(ctx context.Context, st ledger.State) error {
	tok := st.Account.AccountID
	if tok == "" {
		return errors.New("journal: flush without account token")
	}

	return j.write(ctx, func() error {
		if err := j.replace(ctx, DBAccount, tok, byAccount(tok), st.Account); err != nil {
			return err
		}

		if err := j.store.DropCollection(ctx, DBPosition, tok); err != nil {
			return err
		}
		docs := make([]docstore.Document, 0, len(st.Positions))
		for _, p := range st.Positions {
			doc, err := docstore.Encode(p)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		if len(docs) > 0 {
			if err := j.store.InsertMany(ctx, DBPosition, tok, docs); err != nil {
				return err
			}
		}

		for _, o := range st.Orders {
			if err := j.replace(ctx, DBTrade, tok, byOrder(o.OrderID), o); err != nil {
				return err
			}
		}
		for _, r := range st.AccountRecords {
			if err := j.replace(ctx, DBAccRecord, tok, docstore.Filter{"check_date": r.CheckDate}, r); err != nil {
				return err
			}
		}
		for _, r := range st.PosRecords {
			f := bySymbol(r.Code, r.Exchange)
			f["first_buy_date"] = r.FirstBuyDate
			if err := j.replace(ctx, DBPosRecord, tok, f, r); err != nil {
				return err
			}
		}
		return nil
	})
}
