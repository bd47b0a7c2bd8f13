package market

import (
	"context"
	"sort"
	"sync"
	"time"
)

// QuoteStore is an in-memory Provider. Quotes are pushed in with Set, by a
// replay or a test, and every Set with a Last price also records a tick.
type QuoteStore struct {
	mu        sync.RWMutex
	connected bool
	quotes    map[string]Quote
	ticks     map[string][]Tick
}

func NewQuoteStore() *QuoteStore {
	return &QuoteStore{
		quotes: make(map[string]Quote),
		ticks:  make(map[string][]Tick),
	}
}

// NewStaticQuotes returns a connected store seeded with one flat quote per
// symbol, bid = ask = last = price.
func NewStaticQuotes(prices map[string]float64, at time.Time) *QuoteStore {
	qs := NewQuoteStore()
	qs.connected = true
	for sym, px := range prices {
		qs.Set(Quote{Symbol: sym, Bid: px, Ask: px, Last: px, Time: at})
	}
	return qs
}

func (qs *QuoteStore) Connect(ctx context.Context) error {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	qs.connected = true
	return nil
}

func (qs *QuoteStore) Close() error {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	qs.connected = false
	return nil
}

func (qs *QuoteStore) Set(q Quote) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	qs.quotes[q.Symbol] = q
	if q.Last > 0 {
		qs.ticks[q.Symbol] = append(qs.ticks[q.Symbol], Tick{Time: q.Time, Price: q.Last})
	}
}

// Delete drops the quote for symbol, as if it were suspended.
func (qs *QuoteStore) Delete(symbol string) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	delete(qs.quotes, symbol)
}

func (qs *QuoteStore) Get(symbol string) (Quote, error) {
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	q, ok := qs.quotes[symbol]
	if !ok {
		return Quote{}, ErrNoQuote
	}
	return q, nil
}

// Symbols lists the quoted symbols in order.
func (qs *QuoteStore) Symbols() []string {
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	out := make([]string, 0, len(qs.quotes))
	for sym := range qs.quotes {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (qs *QuoteStore) Quote(ctx context.Context, symbol string) (Quote, error) {
	qs.mu.RLock()
	connected := qs.connected
	qs.mu.RUnlock()
	if !connected {
		return Quote{}, ErrNotConnected
	}
	return qs.Get(symbol)
}

func (qs *QuoteStore) Ticks(ctx context.Context, symbol string, day time.Time) ([]Tick, error) {
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	if !qs.connected {
		return nil, ErrNotConnected
	}

	y, m, d := day.Date()
	var out []Tick
	for _, t := range qs.ticks[symbol] {
		ty, tm, td := t.Time.In(day.Location()).Date()
		if ty == y && tm == m && td == d {
			out = append(out, t)
		}
	}
	return out, nil
}
