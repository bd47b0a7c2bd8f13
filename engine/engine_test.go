package engine

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rustyeddy/papertrade/broker"
	"github.com/rustyeddy/papertrade/config"
	"github.com/rustyeddy/papertrade/docstore"
	"github.com/rustyeddy/papertrade/exchange"
	"github.com/rustyeddy/papertrade/journal"
	"github.com/rustyeddy/papertrade/logging"
	"github.com/rustyeddy/papertrade/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ctx = context.Background()
	now = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
)

func testOptions(mode exchange.Mode) Options {
	return Options{
		Mode:        mode,
		Hours:       market.ChinaAShare(time.UTC),
		Exchanges:   []string{"SH", "SZ"},
		TradeType:   broker.T0,
		Point:       broker.DefaultPoint,
		Persistence: WriteThrough,
		Defaults: broker.AccountParams{
			Capital: 1000000,
			Cost:    0.0003,
			Tax:     0.001,
		},
		Clock: func() time.Time { return now },
	}
}

// newEngine starts an engine over store with one fresh account.
func newEngine(t *testing.T, opts Options, store docstore.Store, quotes market.Provider) (*Engine, string) {
	t.Helper()
	if store == nil {
		store = docstore.NewMemoryStore()
	}
	if quotes == nil {
		quotes = market.NewQuoteStore()
	}
	e := New(opts, journal.New(store), quotes, logging.Discard())
	require.NoError(t, e.Start(ctx))

	acct, err := e.CreateAccount(ctx, broker.AccountParams{})
	require.NoError(t, err)
	return e, acct.AccountID
}

func buy(tok, code string, volume int64, price float64) broker.OrderRequest {
	return broker.OrderRequest{
		AccountID: tok,
		Code:      code,
		Exchange:  "SH",
		OrderType: broker.OrderBuy,
		Price:     price,
		Volume:    volume,
	}
}

func sell(tok, code string, volume int64, price float64) broker.OrderRequest {
	r := buy(tok, code, volume, price)
	r.OrderType = broker.OrderSell
	return r
}

func TestScenarioABuyThenSellAll(t *testing.T) {
	e, tok := newEngine(t, testOptions(exchange.ModeSimulation), nil, nil)

	o, err := e.SubmitOrder(ctx, buy(tok, "600000", 1000, 10))
	require.NoError(t, err)
	assert.Equal(t, broker.StatusSubmitting, o.Status)
	assert.NotEmpty(t, o.OrderID)

	acct, err := e.GetAccount(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, 989997.0, acct.Available)

	require.NoError(t, e.Exchange().Match(ctx))

	got, err := e.OrderStatus(ctx, tok, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, broker.StatusAllTraded, got.Status)
	assert.Equal(t, 10.0, got.TradePrice)

	acct, _ = e.GetAccount(ctx, tok)
	assert.Equal(t, 989997.0, acct.Available)
	assert.Equal(t, 10000.0, acct.MarketValue)
	assert.Equal(t, 999997.0, acct.Assets)

	// Scenario B
	s, err := e.SubmitOrder(ctx, sell(tok, "600000", 1000, 12))
	require.NoError(t, err)
	require.NoError(t, e.Exchange().Match(ctx))

	got, _ = e.OrderStatus(ctx, tok, s.OrderID)
	assert.Equal(t, broker.StatusAllTraded, got.Status)

	acct, _ = e.GetAccount(ctx, tok)
	assert.Equal(t, 1001981.4, acct.Available)
	assert.Equal(t, 0.0, acct.MarketValue)
	assert.Equal(t, 1001981.4, acct.Assets)

	ps, err := e.Positions(ctx, tok)
	require.NoError(t, err)
	assert.Empty(t, ps)

	// the journal saw the same thing
	stored, err := e.Journal().Account(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, acct, stored)
	storedPs, err := e.Journal().Positions(ctx, tok)
	require.NoError(t, err)
	assert.Empty(t, storedPs)
}

func TestScenarioCConcurrentBuysOnOneAccount(t *testing.T) {
	e, tok := newEngine(t, testOptions(exchange.ModeSimulation), nil, nil)

	// each needs 60% of available
	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		refused  atomic.Int32
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := e.SubmitOrder(ctx, buy(tok, "600000", 60000, 10))
			if err == nil {
				accepted.Add(1)
				return
			}
			var rej *broker.Rejection
			if errors.As(err, &rej) && errors.Is(err, broker.ErrInsufficientFunds) && o.Status == broker.StatusRejected {
				refused.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(1), refused.Load())

	acct, _ := e.GetAccount(ctx, tok)
	assert.Equal(t, 1000000-600180.0, acct.Available)

	// the refused order was never recorded
	orders, err := e.Orders(ctx, tok, journal.OrderQuery{})
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestScenarioDLimitBuyRestsUntilAskDrops(t *testing.T) {
	qs := market.NewStaticQuotes(nil, now)
	qs.Set(market.Quote{Symbol: "600000.SH", Bid: 10.4, Ask: 10.5, Time: now})
	e, tok := newEngine(t, testOptions(exchange.ModeRealtime), nil, qs)

	o, err := e.SubmitOrder(ctx, buy(tok, "600000", 1000, 10.3))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, e.Exchange().Match(ctx))
		got, _ := e.OrderStatus(ctx, tok, o.OrderID)
		assert.Equal(t, broker.StatusNotTraded, got.Status)
	}

	qs.Set(market.Quote{Symbol: "600000.SH", Bid: 10.2, Ask: 10.3, Time: now})
	require.NoError(t, e.Exchange().Match(ctx))
	require.NoError(t, e.Exchange().Match(ctx))

	got, _ := e.OrderStatus(ctx, tok, o.OrderID)
	assert.Equal(t, broker.StatusAllTraded, got.Status)
	assert.Equal(t, 10.3, got.TradePrice)

	acct, _ := e.GetAccount(ctx, tok)
	assert.Equal(t, 989696.91, acct.Available)
	assert.Equal(t, 10300.0, acct.MarketValue)

	p, _ := e.Positions(ctx, tok)
	require.Len(t, p, 1)
	assert.Equal(t, int64(1000), p[0].Volume)
}

func TestBacktestFillsOnSubmit(t *testing.T) {
	e, tok := newEngine(t, testOptions(exchange.ModeBacktest), nil, nil)

	o, err := e.SubmitOrder(ctx, buy(tok, "600000", 1000, 10))
	require.NoError(t, err)
	assert.Equal(t, broker.StatusAllTraded, o.Status)
	assert.Equal(t, 0, e.Exchange().Book().Len())
}

func TestSubmitRefusals(t *testing.T) {
	e, tok := newEngine(t, testOptions(exchange.ModeSimulation), nil, nil)

	_, err := e.SubmitOrder(ctx, sell(tok, "600000", 100, 10))
	assert.ErrorIs(t, err, broker.ErrNoPosition)

	o, err := e.SubmitOrder(ctx, buy("nobody", "600000", 100, 10))
	assert.ErrorIs(t, err, broker.ErrAccountNotFound)
	assert.Equal(t, broker.StatusRejected, o.Status)

	_, err = e.SubmitOrder(ctx, buy(tok, "600000", 0, 10))
	assert.ErrorIs(t, err, broker.ErrInvalidOrder)

	hk := buy(tok, "00700", 100, 300)
	hk.Exchange = "HK"
	o, err = e.SubmitOrder(ctx, hk)
	require.NoError(t, err)
	require.NoError(t, e.Exchange().Match(ctx))
	got, _ := e.OrderStatus(ctx, tok, o.OrderID)
	assert.Equal(t, broker.StatusRejected, got.Status)
	assert.Equal(t, exchange.ReasonUnsupportedExchange, got.ErrorMsg)

	acct, _ := e.GetAccount(ctx, tok)
	assert.Equal(t, 1000000.0, acct.Available)
}

func TestCancelOrder(t *testing.T) {
	e, tok := newEngine(t, testOptions(exchange.ModeSimulation), nil, nil)

	o, err := e.SubmitOrder(ctx, buy(tok, "600000", 1000, 10))
	require.NoError(t, err)

	c, err := e.SubmitOrder(ctx, broker.OrderRequest{AccountID: tok, OrderType: broker.OrderCancel, OrderID: o.OrderID})
	require.NoError(t, err)
	assert.Equal(t, broker.StatusCancelled, c.Status)

	acct, _ := e.GetAccount(ctx, tok)
	assert.Equal(t, 1000000.0, acct.Available)

	// already terminal
	assert.ErrorIs(t, e.CancelOrder(ctx, tok, o.OrderID), broker.ErrOrderNotFound)
	assert.ErrorIs(t, e.CancelOrder(ctx, tok, "missing"), broker.ErrOrderNotFound)
	assert.ErrorIs(t, e.CancelOrder(ctx, "nobody", o.OrderID), broker.ErrAccountNotFound)
}

func TestCancelRacingMatchSettlesOnce(t *testing.T) {
	for i := 0; i < 20; i++ {
		e, tok := newEngine(t, testOptions(exchange.ModeSimulation), nil, nil)
		o, err := e.SubmitOrder(ctx, buy(tok, "600000", 1000, 10))
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			cancelErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			cancelErr = e.CancelOrder(ctx, tok, o.OrderID)
		}()
		go func() {
			defer wg.Done()
			_ = e.Exchange().Match(ctx)
		}()
		wg.Wait()

		got, _ := e.OrderStatus(ctx, tok, o.OrderID)
		acct, _ := e.GetAccount(ctx, tok)
		if cancelErr == nil {
			assert.Equal(t, broker.StatusCancelled, got.Status)
			assert.Equal(t, 1000000.0, acct.Available)
			assert.Equal(t, 0.0, acct.MarketValue)
		} else {
			assert.ErrorIs(t, cancelErr, broker.ErrOrderNotFound)
			assert.Equal(t, broker.StatusAllTraded, got.Status)
			assert.Equal(t, 10000.0, acct.MarketValue)
		}
		assert.Equal(t, 0, e.Exchange().Book().Len())
	}
}

func TestCloseDayRejectsAndLiquidates(t *testing.T) {
	qs := market.NewStaticQuotes(map[string]float64{"600000.SH": 10.5}, now)
	e, tok := newEngine(t, testOptions(exchange.ModeSimulation), nil, qs)

	_, err := e.SubmitOrder(ctx, buy(tok, "600000", 1000, 10))
	require.NoError(t, err)
	require.NoError(t, e.Exchange().Match(ctx))

	rest, err := e.SubmitOrder(ctx, buy(tok, "600036", 100, 12))
	require.NoError(t, err)

	require.NoError(t, e.CloseDay(ctx, "20240304"))
	assert.Equal(t, exchange.StateLiquidated, e.Exchange().State())
	assert.False(t, e.Exchange().Accepting())

	got, _ := e.OrderStatus(ctx, tok, rest.OrderID)
	assert.Equal(t, broker.StatusRejected, got.Status)
	assert.Equal(t, exchange.ReasonMarketClosed, got.ErrorMsg)

	acct, _ := e.GetAccount(ctx, tok)
	assert.Equal(t, 10500.0, acct.MarketValue)
	assert.Equal(t, 1000497.0, acct.Assets)
	assert.Equal(t, 989997.0, acct.Available)

	recs, err := e.Journal().AccountRecords(ctx, tok, "", "")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "20240304", recs[0].CheckDate)
	assert.Equal(t, 1000497.0, recs[0].Assets)

	// closed until the next day opens
	_, err = e.SubmitOrder(ctx, buy(tok, "600000", 100, 10))
	assert.ErrorIs(t, err, broker.ErrMarketClosed)

	require.NoError(t, e.NextDay("20240305"))
	assert.True(t, e.Exchange().Accepting())
}

func TestLiquidateRequestRejectsRestingOrders(t *testing.T) {
	e, tok := newEngine(t, testOptions(exchange.ModeSimulation), nil, nil)

	_, err := e.SubmitOrder(ctx, buy(tok, "600000", 1000, 10))
	require.NoError(t, err)
	require.NoError(t, e.Exchange().Match(ctx))
	rest, err := e.SubmitOrder(ctx, buy(tok, "600036", 100, 12))
	require.NoError(t, err)

	o, err := e.SubmitOrder(ctx, broker.OrderRequest{
		AccountID: tok,
		OrderType: broker.OrderLiquidation,
		OrderDate: "20240304",
		Prices:    map[string]float64{"600000.SH": 9},
	})
	require.NoError(t, err)
	assert.Equal(t, broker.StatusAllTraded, o.Status)

	got, _ := e.OrderStatus(ctx, tok, rest.OrderID)
	assert.Equal(t, broker.StatusRejected, got.Status)
	assert.Equal(t, ReasonLiquidated, got.ErrorMsg)
	assert.Equal(t, 0, e.Exchange().Book().Len())

	acct, _ := e.GetAccount(ctx, tok)
	assert.Equal(t, 9000.0, acct.MarketValue)
	assert.Equal(t, 998997.0, acct.Assets)

	// a symbol without a price is reported
	_, stale, err := e.Liquidate(ctx, tok, "20240305", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"600000.SH"}, stale)

	_, _, err = e.Liquidate(ctx, "nobody", "20240305", nil)
	assert.ErrorIs(t, err, broker.ErrAccountNotFound)
}

func TestRecoverRestoresLedgerAndBook(t *testing.T) {
	store := docstore.NewMemoryStore()
	e, tok := newEngine(t, testOptions(exchange.ModeSimulation), store, nil)

	_, err := e.SubmitOrder(ctx, buy(tok, "600000", 1000, 10))
	require.NoError(t, err)
	require.NoError(t, e.Exchange().Match(ctx))
	rest, err := e.SubmitOrder(ctx, buy(tok, "600036", 100, 12))
	require.NoError(t, err)
	want, _ := e.GetAccount(ctx, tok)
	require.NoError(t, e.Stop(ctx))

	// a document nothing can decode
	require.NoError(t, store.InsertOne(ctx, journal.DBTrade, tok, docstore.Document{"order_id": 42}))

	e2 := New(testOptions(exchange.ModeSimulation), journal.New(store), market.NewQuoteStore(), logging.Discard())
	require.NoError(t, e2.Start(ctx))

	got, err := e2.GetAccount(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	ps, _ := e2.Positions(ctx, tok)
	require.Len(t, ps, 1)
	assert.Equal(t, "600000.SH", ps[0].Symbol())

	orders, err := e2.Orders(ctx, tok, journal.OrderQuery{})
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	_, ok := e2.Exchange().Book().Get(rest.OrderID)
	assert.True(t, ok)

	// the restored order can still fill
	require.NoError(t, e2.Exchange().Match(ctx))
	o, _ := e2.OrderStatus(ctx, tok, rest.OrderID)
	assert.Equal(t, broker.StatusAllTraded, o.Status)
}

func TestManualPersistenceWritesOnFlush(t *testing.T) {
	opts := testOptions(exchange.ModeSimulation)
	opts.Persistence = Manual
	e, tok := newEngine(t, opts, nil, nil)
	j := e.Journal()

	_, err := e.SubmitOrder(ctx, buy(tok, "600000", 1000, 10))
	require.NoError(t, err)
	require.NoError(t, e.Exchange().Match(ctx))

	stored, err := j.Orders(ctx, tok, journal.OrderQuery{})
	require.NoError(t, err)
	assert.Empty(t, stored)

	require.NoError(t, e.Flush(ctx, tok))
	stored, _ = j.Orders(ctx, tok, journal.OrderQuery{})
	assert.Len(t, stored, 1)

	acct, _ := j.Account(ctx, tok)
	assert.Equal(t, 10000.0, acct.MarketValue)

	// liquidation flushes on its own
	_, _, err = e.Liquidate(ctx, tok, "20240304", map[string]float64{"600000.SH": 11})
	require.NoError(t, err)
	recs, err := j.AccountRecords(ctx, tok, "", "")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 11000.0, recs[0].MarketValue)

	assert.ErrorIs(t, e.Flush(ctx, "nobody"), broker.ErrAccountNotFound)
}

// failingStore fails every write once fail is set.
type failingStore struct {
	docstore.Store
	fail atomic.Bool
}

var errDiskFull = errors.New("disk full")

func (s *failingStore) err() error {
	if s.fail.Load() {
		return errDiskFull
	}
	return nil
}

func (s *failingStore) InsertOne(ctx context.Context, db, coll string, doc docstore.Document) error {
	if err := s.err(); err != nil {
		return err
	}
	return s.Store.InsertOne(ctx, db, coll, doc)
}

func (s *failingStore) InsertMany(ctx context.Context, db, coll string, docs []docstore.Document) error {
	if err := s.err(); err != nil {
		return err
	}
	return s.Store.InsertMany(ctx, db, coll, docs)
}

func (s *failingStore) ReplaceOne(ctx context.Context, db, coll string, f docstore.Filter, doc docstore.Document, upsert bool) error {
	if err := s.err(); err != nil {
		return err
	}
	return s.Store.ReplaceOne(ctx, db, coll, f, doc, upsert)
}

func (s *failingStore) UpdateOne(ctx context.Context, db, coll string, f docstore.Filter, set docstore.Document) error {
	if err := s.err(); err != nil {
		return err
	}
	return s.Store.UpdateOne(ctx, db, coll, f, set)
}

func TestPersistenceFailureHaltsEngine(t *testing.T) {
	store := &failingStore{Store: docstore.NewMemoryStore()}
	e, tok := newEngine(t, testOptions(exchange.ModeSimulation), store, nil)
	require.NoError(t, e.Err())

	store.fail.Store(true)
	_, err := e.SubmitOrder(ctx, buy(tok, "600000", 1000, 10))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, e.Err(), ErrPersistence)

	// nothing else is accepted
	store.fail.Store(false)
	_, err = e.SubmitOrder(ctx, buy(tok, "600000", 100, 10))
	assert.ErrorIs(t, err, ErrPersistence)
	_, err = e.CreateAccount(ctx, broker.AccountParams{})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, e.Run(ctx), ErrPersistence)
}

func TestAccountLifecycle(t *testing.T) {
	e, tok := newEngine(t, testOptions(exchange.ModeSimulation), nil, nil)
	assert.Len(t, tok, 20)
	assert.True(t, e.AccountExists(ctx, tok))

	other, err := e.CreateAccount(ctx, broker.AccountParams{Capital: 5000, Info: " second "})
	require.NoError(t, err)
	assert.Equal(t, 5000.0, other.Capital)
	assert.Equal(t, 0.0003, other.Cost)
	assert.Equal(t, "second", other.Info)

	_, err = e.CreateAccount(ctx, broker.AccountParams{Capital: -1})
	assert.Error(t, err)

	all, err := e.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	o, err := e.SubmitOrder(ctx, buy(tok, "600000", 100, 10))
	require.NoError(t, err)
	require.NoError(t, e.Logout(ctx, tok))
	assert.Equal(t, 0, e.Exchange().Book().Len())
	assert.ErrorIs(t, e.Logout(ctx, tok), broker.ErrAccountNotFound)

	// still readable from the store
	stored, err := e.OrderStatus(ctx, tok, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, broker.StatusSubmitting, stored.Status)

	_, err = e.Login(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Exchange().Book().Len())

	require.NoError(t, e.DeleteAccount(ctx, tok))
	assert.False(t, e.AccountExists(ctx, tok))
	assert.Equal(t, 0, e.Exchange().Book().Len())
	assert.ErrorIs(t, e.DeleteAccount(ctx, tok), broker.ErrAccountNotFound)

	all, _ = e.ListAccounts(ctx)
	require.Len(t, all, 1)
	assert.Equal(t, other.AccountID, all[0].AccountID)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Market.Location = "UTC"

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, exchange.ModeSimulation, opts.Mode)
	assert.Equal(t, time.Second, opts.Period)
	assert.Equal(t, WriteThrough, opts.Persistence)
	assert.Equal(t, broker.T1, opts.TradeType)
	assert.Equal(t, []string{"SH", "SZ"}, opts.Exchanges)
	assert.Len(t, opts.Hours.Windows, 2)
	assert.Equal(t, 15*time.Hour+time.Minute, opts.Hours.CloseAt)
	assert.Equal(t, 1000000.0, opts.Defaults.Capital)

	cfg.Engine.Mode = "nope"
	_, err = OptionsFromConfig(cfg)
	assert.Error(t, err)
}

// holdHandler blocks the first log call with message msg until release is
// closed, which parks the logging goroutine at that point of its work.
type holdHandler struct {
	msg     string
	held    chan struct{}
	release chan struct{}
	once    sync.Once
}

func newHoldHandler(msg string) *holdHandler {
	return &holdHandler{msg: msg, held: make(chan struct{}), release: make(chan struct{})}
}

func (h *holdHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *holdHandler) WithAttrs([]slog.Attr) slog.Handler        { return h }
func (h *holdHandler) WithGroup(string) slog.Handler             { return h }

func (h *holdHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Message == h.msg {
		h.once.Do(func() {
			close(h.held)
			<-h.release
		})
	}
	return nil
}

func TestEndOfDayWaitsForAdmission(t *testing.T) {
	tests := []struct {
		name   string
		reason string
		end    func(e *Engine, tok string) error
	}{
		{"close day", exchange.ReasonMarketClosed, func(e *Engine, tok string) error {
			return e.CloseDay(ctx, "20240304")
		}},
		{"liquidate", ReasonLiquidated, func(e *Engine, tok string) error {
			_, _, err := e.Liquidate(ctx, tok, "20240304", nil)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHoldHandler("order accepted")
			e := New(testOptions(exchange.ModeSimulation), journal.New(docstore.NewMemoryStore()), market.NewQuoteStore(), slog.New(h))
			require.NoError(t, e.Start(ctx))
			acct, err := e.CreateAccount(ctx, broker.AccountParams{})
			require.NoError(t, err)
			tok := acct.AccountID

			var order broker.Order
			submitted := make(chan error, 1)
			go func() {
				o, err := e.SubmitOrder(ctx, buy(tok, "600000", 1000, 10))
				order = o
				submitted <- err
			}()
			<-h.held

			ended := make(chan error, 1)
			go func() { ended <- tt.end(e, tok) }()
			select {
			case err := <-ended:
				t.Fatalf("end of day ran while an order was half admitted: %v", err)
			case <-time.After(50 * time.Millisecond):
			}

			close(h.release)
			require.NoError(t, <-submitted)
			require.NoError(t, <-ended)

			got, err := e.OrderStatus(ctx, tok, order.OrderID)
			require.NoError(t, err)
			assert.Equal(t, broker.StatusRejected, got.Status)
			assert.Equal(t, tt.reason, got.ErrorMsg)
			assert.Equal(t, 0, e.Exchange().Book().Len())

			acct, _ = e.GetAccount(ctx, tok)
			assert.Equal(t, 1000000.0, acct.Available)
			assert.Equal(t, 0.0, acct.Frozen())

			// nothing left to release twice
			assert.ErrorIs(t, e.CancelOrder(ctx, tok, order.OrderID), broker.ErrOrderNotFound)
			acct, _ = e.GetAccount(ctx, tok)
			assert.Equal(t, 1000000.0, acct.Available)
		})
	}
}

func TestNonFinitePricesAreRefused(t *testing.T) {
	qs := market.NewQuoteStore()
	e, tok := newEngine(t, testOptions(exchange.ModeRealtime), nil, qs)

	require.NotPanics(t, func() {
		_, err := e.SubmitOrder(ctx, buy(tok, "600000", 100, math.NaN()))
		assert.ErrorIs(t, err, broker.ErrInvalidOrder)
		_, err = e.SubmitOrder(ctx, buy(tok, "600000", 100, math.Inf(1)))
		assert.ErrorIs(t, err, broker.ErrInvalidOrder)
	})
	acct, _ := e.GetAccount(ctx, tok)
	assert.Equal(t, 1000000.0, acct.Available)

	o, err := e.SubmitOrder(ctx, buy(tok, "600000", 1000, 10))
	require.NoError(t, err)

	// an infinite ask counts as no quote
	qs.Set(market.Quote{Symbol: "600000.SH", Bid: 9.9, Ask: math.Inf(1), Last: 10, Time: now})
	require.NotPanics(t, func() { require.NoError(t, e.Exchange().Match(ctx)) })
	got, _ := e.OrderStatus(ctx, tok, o.OrderID)
	assert.Equal(t, broker.StatusNotTraded, got.Status)

	qs.Set(market.Quote{Symbol: "600000.SH", Bid: 9.9, Ask: 10, Last: 10, Time: now})
	require.NoError(t, e.Exchange().Match(ctx))
	got, _ = e.OrderStatus(ctx, tok, o.OrderID)
	assert.Equal(t, broker.StatusAllTraded, got.Status)

	// an infinite settlement price is reported like a missing one
	var stale []string
	require.NotPanics(t, func() {
		_, stale, err = e.Liquidate(ctx, tok, "20240304", map[string]float64{"600000.SH": math.Inf(1)})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"600000.SH"}, stale)
	acct, _ = e.GetAccount(ctx, tok)
	assert.Equal(t, 10000.0, acct.MarketValue)
	assert.Equal(t, 999997.0, acct.Assets)
}

func TestRecoverRejectsOrdersFromAnEarlierDay(t *testing.T) {
	store := docstore.NewMemoryStore()
	e, tok := newEngine(t, testOptions(exchange.ModeSimulation), store, nil)

	rest, err := e.SubmitOrder(ctx, buy(tok, "600000", 1000, 10))
	require.NoError(t, err)
	require.NoError(t, e.Stop(ctx))

	// restart the next morning without a close in between
	opts := testOptions(exchange.ModeSimulation)
	opts.Clock = func() time.Time { return now.AddDate(0, 0, 1) }
	e2 := New(opts, journal.New(store), market.NewQuoteStore(), logging.Discard())
	require.NoError(t, e2.Start(ctx))

	got, err := e2.OrderStatus(ctx, tok, rest.OrderID)
	require.NoError(t, err)
	assert.Equal(t, broker.StatusRejected, got.Status)
	assert.Equal(t, exchange.ReasonMarketClosed, got.ErrorMsg)
	assert.Equal(t, 0, e2.Exchange().Book().Len())

	acct, _ := e2.GetAccount(ctx, tok)
	assert.Equal(t, 1000000.0, acct.Available)
	assert.Equal(t, 0.0, acct.Frozen())

	stored, err := e2.Journal().Order(ctx, tok, rest.OrderID)
	require.NoError(t, err)
	assert.Equal(t, broker.StatusRejected, stored.Status)
	storedAcct, err := e2.Journal().Account(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, 1000000.0, storedAcct.Available)
}
