package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rustyeddy/papertrade/broker"
	"github.com/rustyeddy/papertrade/journal"
	"github.com/rustyeddy/papertrade/ledger"
	"github.com/rustyeddy/papertrade/pkg/id"
)

// CreateAccount opens a new account with a fresh token and loads it. Zero
// fields of p take the configured defaults.
func (e *Engine) CreateAccount(ctx context.Context, p broker.AccountParams) (broker.Account, error) {
	if err := e.Err(); err != nil {
		return broker.Account{}, err
	}

	d := e.opts.Defaults
	if p.Capital == 0 {
		p.Capital = d.Capital
	}
	if p.Cost == 0 {
		p.Cost = d.Cost
	}
	if p.Tax == 0 {
		p.Tax = d.Tax
	}
	if p.Slippoint == 0 {
		p.Slippoint = d.Slippoint
	}
	if p.Capital <= 0 {
		return broker.Account{}, errors.New("create account: capital must be positive")
	}
	if p.Cost < 0 || p.Tax < 0 || p.Slippoint < 0 {
		return broker.Account{}, errors.New("create account: cost, tax and slippoint must not be negative")
	}

	capital := broker.Round(p.Capital, e.opts.Point)
	acct := broker.Account{
		AccountID: id.Token(e.opts.TokenLength),
		Assets:    capital,
		Available: capital,
		Capital:   capital,
		Cost:      p.Cost,
		Tax:       p.Tax,
		Slippoint: p.Slippoint,
		Info:      strings.TrimSpace(p.Info),
	}
	if err := e.journal.CreateAccount(ctx, acct); err != nil {
		return broker.Account{}, fmt.Errorf("create account: %w", err)
	}

	e.mu.Lock()
	e.accounts[acct.AccountID] = ledger.New(acct, e.opts.Point, e.bus)
	e.mu.Unlock()

	e.log.Info("account created", "account", acct.AccountID, "capital", acct.Capital)
	return acct, nil
}

// DeleteAccount unloads the account, drops its resting orders and removes
// all of its stored data.
func (e *Engine) DeleteAccount(ctx context.Context, token string) error {
	if !e.AccountExists(ctx, token) {
		return fmt.Errorf("delete account: %w: %s", broker.ErrAccountNotFound, token)
	}
	e.unload(token)
	if err := e.journal.DeleteAccount(ctx, token); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	e.log.Info("account deleted", "account", token)
	return nil
}

// AccountExists reports whether token is loaded or stored.
func (e *Engine) AccountExists(ctx context.Context, token string) bool {
	if _, ok := e.ledger(token); ok {
		return true
	}
	_, err := e.journal.Account(ctx, token)
	return err == nil
}

// ListAccounts returns every stored or loaded account, sorted by token.
// Loaded accounts report their live state.
func (e *Engine) ListAccounts(ctx context.Context) ([]broker.Account, error) {
	stored, err := e.journal.Accounts(ctx)
	if err != nil {
		return nil, err
	}

	byToken := make(map[string]broker.Account, len(stored))
	for _, a := range stored {
		byToken[a.AccountID] = a
	}
	for _, l := range e.ledgers() {
		a := l.Account()
		byToken[a.AccountID] = a
	}

	out := make([]broker.Account, 0, len(byToken))
	for _, tok := range sortedKeys(byToken) {
		out = append(out, byToken[tok])
	}
	return out, nil
}

// GetAccount returns the live account when loaded and the stored one
// otherwise.
func (e *Engine) GetAccount(ctx context.Context, token string) (broker.Account, error) {
	if l, ok := e.ledger(token); ok {
		return l.Account(), nil
	}
	return e.journal.Account(ctx, token)
}

func (e *Engine) Positions(ctx context.Context, token string) ([]broker.Position, error) {
	if l, ok := e.ledger(token); ok {
		return l.Positions(), nil
	}
	if _, err := e.journal.Account(ctx, token); err != nil {
		return nil, err
	}
	return e.journal.Positions(ctx, token)
}

// Orders returns the blotter of token, filtered by q.
func (e *Engine) Orders(ctx context.Context, token string, q journal.OrderQuery) ([]broker.Order, error) {
	l, ok := e.ledger(token)
	if !ok {
		if _, err := e.journal.Account(ctx, token); err != nil {
			return nil, err
		}
		return e.journal.Orders(ctx, token, q)
	}

	var out []broker.Order
	for _, o := range l.Orders() {
		if q.Date != "" && o.OrderDate != q.Date {
			continue
		}
		if q.Code != "" && o.Code != q.Code {
			continue
		}
		if q.Exchange != "" && o.Exchange != q.Exchange {
			continue
		}
		if len(q.Statuses) > 0 && !hasStatus(q.Statuses, o.Status) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func hasStatus(ss []broker.OrderStatus, s broker.OrderStatus) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// Login loads a stored account into the working set. Logging in twice is a
// no-op.
func (e *Engine) Login(ctx context.Context, token string) (broker.Account, error) {
	if l, ok := e.ledger(token); ok {
		return l.Account(), nil
	}
	if err := e.load(ctx, token); err != nil {
		return broker.Account{}, err
	}
	l, _ := e.ledger(token)
	return l.Account(), nil
}

// Logout writes the account back under manual persistence and unloads it.
// Its resting orders leave the book and return on the next Login.
func (e *Engine) Logout(ctx context.Context, token string) error {
	l, ok := e.ledger(token)
	if !ok {
		return fmt.Errorf("logout: %w: %s is not logged in", broker.ErrAccountNotFound, token)
	}
	if e.opts.Persistence == Manual {
		if err := e.journal.Flush(ctx, l.Snapshot()); err != nil {
			return e.halt(err)
		}
	}
	e.unload(token)
	e.log.Info("account logged out", "account", token)
	return nil
}

func (e *Engine) unload(token string) {
	e.mu.Lock()
	l, ok := e.accounts[token]
	delete(e.accounts, token)
	e.mu.Unlock()
	if !ok {
		return
	}

	for _, o := range l.Orders() {
		if o.Status.Resting() {
			e.x.Book().Take(o.OrderID)
		}
	}
	e.updateDepth()
}
