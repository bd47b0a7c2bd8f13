package exchange

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rustyeddy/papertrade/broker"
)

// Book holds the resting orders. It is the only structure shared by the
// ingress path and the matching loop.
//
// Whoever removes an order with Take owns it: a cancel that takes the order
// first turns any in-flight match into a no-op, and a match that takes it
// first makes the cancel fail.
type Book struct {
	mu     sync.Mutex
	next   uint64
	orders map[string]*resting
}

type resting struct {
	order broker.Order
	seq   uint64
}

func NewBook() *Book {
	return &Book{orders: make(map[string]*resting)}
}

func (b *Book) Add(o broker.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, dup := b.orders[o.OrderID]; dup {
		return fmt.Errorf("book: order %s already resting", o.OrderID)
	}
	b.next++
	b.orders[o.OrderID] = &resting{order: o, seq: b.next}
	return nil
}

// Take removes and returns the order.
func (b *Book) Take(id string) (broker.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.orders[id]
	if !ok {
		return broker.Order{}, false
	}
	delete(b.orders, id)
	return r.order, true
}

func (b *Book) Get(id string) (broker.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.orders[id]
	if !ok {
		return broker.Order{}, false
	}
	return r.order, true
}

// SetStatus changes the status of a resting order. It reports false when the
// order is no longer in the book or already had that status.
func (b *Book) SetStatus(id string, st broker.OrderStatus) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.orders[id]
	if !ok || r.order.Status == st {
		return false
	}
	r.order.Status = st
	return true
}

// Orders returns the resting orders in arrival order.
func (b *Book) Orders() []broker.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sortedLocked()
}

// Drain empties the book and returns what it held in arrival order.
func (b *Book) Drain() []broker.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.sortedLocked()
	b.orders = make(map[string]*resting)
	return out
}

func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

func (b *Book) sortedLocked() []broker.Order {
	rs := make([]*resting, 0, len(b.orders))
	for _, r := range b.orders {
		rs = append(rs, r)
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].seq < rs[j].seq })

	out := make([]broker.Order, len(rs))
	for i, r := range rs {
		out[i] = r.order
	}
	return out
}
