// Package engine is the coordinator of the back office. It owns the working
// set of account ledgers, the exchange and the journal, accepts orders and
// cancels, applies matching outcomes to the ledgers and runs end-of-day
// liquidation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rustyeddy/papertrade/broker"
	"github.com/rustyeddy/papertrade/config"
	"github.com/rustyeddy/papertrade/event"
	"github.com/rustyeddy/papertrade/exchange"
	"github.com/rustyeddy/papertrade/journal"
	"github.com/rustyeddy/papertrade/ledger"
	"github.com/rustyeddy/papertrade/market"
	"github.com/rustyeddy/papertrade/metrics"
)

// ErrPersistence marks a ledger change that could not be written to the
// store. It halts the engine.
var ErrPersistence = errors.New("engine: persistence failed")

// Persistence selects when ledger state reaches the store.
type Persistence string

const (
	// WriteThrough journals every event as it is published.
	WriteThrough Persistence = "write_through"
	// Manual keeps state in memory until Flush, after liquidation and on
	// Stop.
	Manual Persistence = "manual"
)

type Options struct {
	Mode         exchange.Mode
	Period       time.Duration
	Hours        market.Hours
	EnforceHours bool
	Exchanges    []string
	TradeType    broker.TradeType
	Point        int32
	Persistence  Persistence
	// Defaults fills the zero fields of AccountParams.
	Defaults    broker.AccountParams
	TokenLength int
	Clock       func() time.Time
	// LeaseTTL is how long the store lease outlives a crashed engine.
	LeaseTTL time.Duration
}

// OptionsFromConfig converts a validated config.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	mode, err := exchange.ParseMode(cfg.Engine.Mode)
	if err != nil {
		return Options{}, err
	}
	period, err := cfg.Engine.PeriodDuration()
	if err != nil {
		return Options{}, err
	}
	loc, err := time.LoadLocation(cfg.Market.Location)
	if err != nil {
		return Options{}, err
	}
	ws, err := cfg.Market.ParseWindows()
	if err != nil {
		return Options{}, err
	}
	closeAt, err := cfg.Market.CloseOffset()
	if err != nil {
		return Options{}, err
	}

	hours := market.Hours{CloseAt: closeAt, Location: loc}
	for _, w := range ws {
		hours.Windows = append(hours.Windows, market.Window{Start: w.Start, End: w.End})
	}

	return Options{
		Mode:         mode,
		Period:       period,
		Hours:        hours,
		EnforceHours: cfg.Market.EnforceHours,
		Exchanges:    cfg.Market.Exchanges,
		TradeType:    broker.TradeType(cfg.Market.TradeType),
		Point:        cfg.Engine.Point,
		Persistence:  Persistence(cfg.Engine.Persistence),
		Defaults: broker.AccountParams{
			Capital:   cfg.Account.Capital,
			Cost:      cfg.Account.Cost,
			Tax:       cfg.Account.Tax,
			Slippoint: cfg.Account.Slippoint,
		},
		TokenLength: cfg.Account.TokenLength,
	}, nil
}

type Engine struct {
	opts    Options
	log     *slog.Logger
	journal *journal.Journal
	quotes  market.Provider
	bus     *event.Bus
	x       *exchange.Exchange

	mu       sync.RWMutex
	accounts map[string]*ledger.Ledger

	fatalMu sync.Mutex
	fatal   error

	lease lease
}

var _ broker.Broker = (*Engine)(nil)

// New wires an engine. In write-through mode the journal is subscribed to
// the event bus before any ledger exists.
func New(opts Options, j *journal.Journal, quotes market.Provider, log *slog.Logger) *Engine {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Persistence == "" {
		opts.Persistence = WriteThrough
	}
	if opts.Mode == "" {
		opts.Mode = exchange.ModeRealtime
	}
	if log == nil {
		log = slog.Default()
	}

	e := &Engine{
		opts:     opts,
		log:      log,
		journal:  j,
		quotes:   quotes,
		bus:      event.NewBus(),
		accounts: make(map[string]*ledger.Ledger),
	}
	if opts.Persistence == WriteThrough {
		e.bus.Subscribe(j)
	}

	strategy, err := exchange.NewStrategy(opts.Mode)
	if err != nil {
		strategy = exchange.Realtime{}
	}
	e.x = exchange.New(exchange.Config{
		Strategy:     strategy,
		Period:       opts.Period,
		Hours:        opts.Hours,
		EnforceHours: opts.EnforceHours,
		Exchanges:    opts.Exchanges,
		TradeType:    opts.TradeType,
		Clock:        opts.Clock,
		OnState:      func(s exchange.State) { metrics.SessionState.Set(float64(s)) },
	}, quotes, hooks{e}, log)
	return e
}

// Subscribe adds an event handler, such as a CSV journal.
func (e *Engine) Subscribe(h event.Handler) { e.bus.Subscribe(h) }

func (e *Engine) Exchange() *exchange.Exchange { return e.x }
func (e *Engine) Journal() *journal.Journal    { return e.journal }

// Start takes the store lease, connects the quote provider and recovers
// every stored account. Without the hours gate the session opens at once.
// While another engine holds the lease Start fails with ErrStoreInUse.
func (e *Engine) Start(ctx context.Context) (err error) {
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = e.unlock(context.WithoutCancel(ctx))
		}
	}()

	if e.quotes != nil {
		if err := e.quotes.Connect(ctx); err != nil {
			return fmt.Errorf("connect quotes: %w", err)
		}
	}
	if err := e.recoverAll(ctx); err != nil {
		return err
	}
	if !e.gated() && e.x.State() == exchange.StateClosed {
		return e.x.Open(e.today())
	}
	return nil
}

// Run drives the matching loop until ctx is done or the engine halts.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Err(); err != nil {
		return err
	}
	if err := e.x.Run(ctx); err != nil {
		return err
	}
	return e.Err()
}

// Stop flushes every account under manual persistence, disconnects the
// quote provider and releases the store lease.
func (e *Engine) Stop(ctx context.Context) error {
	var errs []error
	if e.opts.Persistence == Manual {
		errs = append(errs, e.FlushAll(ctx))
	}
	if e.quotes != nil {
		errs = append(errs, e.quotes.Close())
	}
	errs = append(errs, e.unlock(ctx))
	return errors.Join(errs...)
}

// Err returns the error that halted the engine, or nil.
func (e *Engine) Err() error {
	e.fatalMu.Lock()
	defer e.fatalMu.Unlock()
	return e.fatal
}

// check turns a persistence failure into a halt. Other errors pass through.
func (e *Engine) check(err error) error {
	if err == nil || !errors.Is(err, ledger.ErrPublish) {
		return err
	}
	return e.halt(err)
}

func (e *Engine) halt(err error) error {
	e.fatalMu.Lock()
	defer e.fatalMu.Unlock()
	if e.fatal == nil {
		e.fatal = fmt.Errorf("%w: %w", ErrPersistence, err)
		metrics.PersistenceFailures.Inc()
		e.log.Error("engine halted", "err", err)
	}
	return e.fatal
}

func (e *Engine) gated() bool {
	return e.opts.EnforceHours && e.opts.Mode != exchange.ModeBacktest
}

func (e *Engine) today() string {
	if d := e.x.Date(); d != "" && e.x.State() != exchange.StateClosed {
		return d
	}
	return e.opts.Hours.Date(e.opts.Clock())
}

func (e *Engine) ledger(token string) (*ledger.Ledger, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.accounts[token]
	return l, ok
}

// ledgers returns the loaded ledgers sorted by token.
func (e *Engine) ledgers() []*ledger.Ledger {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*ledger.Ledger, 0, len(e.accounts))
	for _, tok := range sortedKeys(e.accounts) {
		out = append(out, e.accounts[tok])
	}
	return out
}

func (e *Engine) updateDepth() {
	metrics.BookDepth.Set(float64(e.x.Book().Len()))
}
