// Package ledger keeps the cash and holdings of a single account and applies
// every mutation to them: reservations, fills, cancels, price marks and
// end-of-day liquidation.
//
// All methods on a Ledger are serialized by one mutex, so a check and the
// reservation that follows it can never interleave with another order on the
// same account. Different accounts never share a Ledger and proceed in
// parallel.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rustyeddy/papertrade/broker"
	"github.com/rustyeddy/papertrade/event"
)

var (
	// ErrPublish wraps a subscriber failure after the in-memory state was
	// already changed. Callers treat it as fatal.
	ErrPublish       = errors.New("ledger: publish failed")
	ErrOrderTerminal = errors.New("order is terminal")
	ErrDuplicateID   = errors.New("duplicate order id")
	ErrPartialFill   = errors.New("fill must trade the full volume")
)

// Publisher receives the events produced by a mutation.
type Publisher interface {
	Publish(ctx context.Context, evs ...event.Event) error
}

type Ledger struct {
	mu    sync.Mutex
	point int32
	pub   Publisher

	acct      broker.Account
	positions map[string]*broker.Position
	// open holds the index into records of the uncleared record per symbol.
	open    map[string]int
	records []broker.PosRecord
	daily   map[string]broker.AccountRecord
	orders  map[string]*broker.Order
	seq     []string
}

// New creates a ledger for acct. point is the number of decimal places every
// money field is rounded to; pub may be nil.
func New(acct broker.Account, point int32, pub Publisher) *Ledger {
	return &Ledger{
		point:     point,
		pub:       pub,
		acct:      acct,
		positions: make(map[string]*broker.Position),
		open:      make(map[string]int),
		daily:     make(map[string]broker.AccountRecord),
		orders:    make(map[string]*broker.Order),
	}
}

// State is everything a ledger holds, used to restore it from the store and
// to flush it back.
type State struct {
	Account        broker.Account
	Positions      []broker.Position
	Orders         []broker.Order
	AccountRecords []broker.AccountRecord
	PosRecords     []broker.PosRecord
}

// Restore replaces the ledger's working set. It publishes nothing.
func (l *Ledger) Restore(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.acct = s.Account
	l.positions = make(map[string]*broker.Position, len(s.Positions))
	for i := range s.Positions {
		p := s.Positions[i]
		l.positions[p.Symbol()] = &p
	}
	l.records = append([]broker.PosRecord(nil), s.PosRecords...)
	l.open = make(map[string]int)
	for i, r := range l.records {
		if r.IsClear == 0 {
			l.open[r.Symbol()] = i
		}
	}
	l.daily = make(map[string]broker.AccountRecord, len(s.AccountRecords))
	for _, r := range s.AccountRecords {
		l.daily[r.CheckDate] = r
	}
	l.orders = make(map[string]*broker.Order, len(s.Orders))
	l.seq = l.seq[:0]
	for i := range s.Orders {
		o := s.Orders[i]
		if _, dup := l.orders[o.OrderID]; dup {
			continue
		}
		l.orders[o.OrderID] = &o
		l.seq = append(l.seq, o.OrderID)
	}
}

// Snapshot copies the ledger's working set.
func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return State{
		Account:        l.acct,
		Positions:      l.positionsLocked(),
		Orders:         l.ordersLocked(),
		AccountRecords: l.accountRecordsLocked(),
		PosRecords:     append([]broker.PosRecord(nil), l.records...),
	}
}

func (l *Ledger) Token() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acct.AccountID
}

func (l *Ledger) Account() broker.Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acct
}

// Positions returns the live positions sorted by symbol.
func (l *Ledger) Positions() []broker.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.positionsLocked()
}

func (l *Ledger) Position(symbol string) (broker.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok {
		return broker.Position{}, false
	}
	return *p, true
}

// Orders returns the blotter in arrival order.
func (l *Ledger) Orders() []broker.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ordersLocked()
}

func (l *Ledger) Order(id string) (broker.Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[id]
	if !ok {
		return broker.Order{}, false
	}
	return *o, true
}

// AccountRecords returns the daily records sorted by check date.
func (l *Ledger) AccountRecords() []broker.AccountRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accountRecordsLocked()
}

func (l *Ledger) PosRecords() []broker.PosRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]broker.PosRecord(nil), l.records...)
}

func (l *Ledger) positionsLocked() []broker.Position {
	out := make([]broker.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol() < out[j].Symbol() })
	return out
}

func (l *Ledger) ordersLocked() []broker.Order {
	out := make([]broker.Order, 0, len(l.seq))
	for _, id := range l.seq {
		out = append(out, *l.orders[id])
	}
	return out
}

func (l *Ledger) accountRecordsLocked() []broker.AccountRecord {
	out := make([]broker.AccountRecord, 0, len(l.daily))
	for _, r := range l.daily {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckDate < out[j].CheckDate })
	return out
}

func (l *Ledger) round(x float64) float64 {
	return broker.Round(x, l.point)
}

// reserveFor is the cash held back for volume shares of a buy order.
func (l *Ledger) reserveFor(o *broker.Order, volume int64) float64 {
	return l.round(float64(volume) * o.OrderPrice * (1 + l.acct.Cost))
}

// publish runs with l.mu held so subscribers observe mutations in the
// order they were applied.
func (l *Ledger) publish(ctx context.Context, evs []event.Event) error {
	if l.pub == nil || len(evs) == 0 {
		return nil
	}
	if err := l.pub.Publish(ctx, evs...); err != nil {
		return fmt.Errorf("%w: account %s: %w", ErrPublish, l.acct.AccountID, err)
	}
	return nil
}
