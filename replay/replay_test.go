package replay

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rustyeddy/papertrade/broker"
	"github.com/rustyeddy/papertrade/docstore"
	"github.com/rustyeddy/papertrade/engine"
	"github.com/rustyeddy/papertrade/exchange"
	"github.com/rustyeddy/papertrade/journal"
	"github.com/rustyeddy/papertrade/logging"
	"github.com/rustyeddy/papertrade/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func newRunner(t *testing.T, mode exchange.Mode, store docstore.Store) *Runner {
	t.Helper()
	clock := &Clock{}
	quotes := market.NewQuoteStore()
	e := engine.New(engine.Options{
		Mode:        mode,
		Hours:       market.ChinaAShare(time.UTC),
		Exchanges:   []string{"SH", "SZ"},
		TradeType:   broker.T1,
		Point:       broker.DefaultPoint,
		Persistence: engine.WriteThrough,
		Defaults:    broker.AccountParams{Capital: 1000000, Cost: 0.0003, Tax: 0.001},
		Clock:       clock.Now,
	}, journal.New(store), quotes, logging.Discard())
	return New(e, quotes, clock, logging.Discard())
}

const script = `time,symbol,bid,ask,event,arg1,arg2,arg3
2024-03-04T09:30:00Z,600000.SH,9.99,10.01,BUY,b1,1000,10.01
2024-03-04T10:00:00Z,600000.SH,10.10,10.12,SELL,s1,1000,10.1
2024-03-04T10:30:00Z,000001.SZ,12.00,12.02,BUY,b2,100,11
2024-03-04T11:00:00Z,000001.SZ,12.00,12.02,CANCEL,b2,,
2024-03-04T14:00:00Z,600000.SH,10.49,10.51,,,,
2024-03-05T09:30:00Z,600000.SH,10.99,11.01,SELL,s2,1000,10.99
`

func TestReplayAcrossDays(t *testing.T) {
	store := docstore.NewMemoryStore()
	r := newRunner(t, exchange.ModeRealtime, store)

	sum, err := r.Run(ctx, strings.NewReader(script), Options{TickThenEvent: true, CloseEnd: true})
	require.NoError(t, err)

	assert.Equal(t, 6, sum.Rows)
	assert.Equal(t, 3, sum.Orders)
	// same-day sell of a T+1 buy
	assert.Equal(t, 1, sum.Rejections)
	assert.Equal(t, 1, sum.Cancels)

	require.Len(t, sum.Days, 2)
	assert.Equal(t, "20240304", sum.Days[0].CheckDate)
	assert.Equal(t, 10500.0, sum.Days[0].MarketValue)
	assert.Equal(t, 1000487.0, sum.Days[0].Assets)
	assert.Equal(t, "20240305", sum.Days[1].CheckDate)
	assert.Equal(t, 0.0, sum.Days[1].MarketValue)
	assert.Equal(t, 1000962.71, sum.Days[1].Assets)

	orders, err := journal.New(store).Orders(ctx, sum.Token, journal.OrderQuery{})
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, broker.StatusAllTraded, orders[0].Status)
	assert.Equal(t, 10.01, orders[0].TradePrice)
	assert.Equal(t, broker.StatusCancelled, orders[1].Status)
	assert.Equal(t, "20240305", orders[2].OrderDate)
	assert.Equal(t, 10.99, orders[2].TradePrice)
}

func TestReplayBacktestFillsInline(t *testing.T) {
	r := newRunner(t, exchange.ModeBacktest, docstore.NewMemoryStore())

	src := `2024-03-04T09:30:00Z,600000.SH,9.99,10.01,BUY,b1,1000,10
2024-03-04T10:00:00Z,600000.SH,10.49,10.51,LIQUIDATE
`
	sum, err := r.Run(ctx, strings.NewReader(src), Options{TickThenEvent: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Orders)

	acct, err := r.Engine.GetAccount(ctx, sum.Token)
	require.NoError(t, err)
	assert.Equal(t, 10500.0, acct.MarketValue)
	assert.Equal(t, 989997.0, acct.Available)

	// liquidation settles the T+1 shares
	p, _ := r.Engine.Positions(ctx, sum.Token)
	require.Len(t, p, 1)
	assert.Equal(t, int64(1000), p[0].Available)
}

func TestReplayFileAndRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.csv")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o644))

	r := newRunner(t, exchange.ModeRealtime, docstore.NewMemoryStore())
	sum, err := r.File(ctx, path, Options{
		TickThenEvent: true,
		To:            time.Date(2024, 3, 4, 10, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Rows)
	assert.Empty(t, sum.Days)
}

func TestReplayErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"short row", "2024-03-04T09:30:00Z,600000.SH,10\n"},
		{"bad time", "yesterday,600000.SH,10,10.01\n"},
		{"bad symbol", "2024-03-04T09:30:00Z,600000,10,10.01\n"},
		{"bad bid", "2024-03-04T09:30:00Z,600000.SH,x,10.01\n"},
		{"unknown event", "2024-03-04T09:30:00Z,600000.SH,10,10.01,HOLD\n"},
		{"unknown ref", "2024-03-04T09:30:00Z,600000.SH,10,10.01,CANCEL,nope\n"},
		{"bad volume", "2024-03-04T09:30:00Z,600000.SH,10,10.01,BUY,b1,many,10\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRunner(t, exchange.ModeSimulation, docstore.NewMemoryStore())
			_, err := r.Run(ctx, strings.NewReader(tt.src), Options{})
			assert.Error(t, err)
		})
	}
}

func TestParseRow(t *testing.T) {
	row, err := ParseRow([]string{"2024-03-04T09:30:00+08:00", " 600000.SH ", "9.99", "10.01", "buy", "b1", "100", ""})
	require.NoError(t, err)
	assert.Equal(t, "600000.SH", row.Symbol)
	assert.Equal(t, 9.99, row.Bid)
	assert.Equal(t, "buy", row.Event)
	assert.Equal(t, []string{"b1", "100", ""}, row.Args)
	assert.Equal(t, time.Date(2024, 3, 4, 1, 30, 0, 0, time.UTC), row.Time.UTC())

	ref, volume, price, err := parseOrderArgs(row.Args)
	require.NoError(t, err)
	assert.Equal(t, "b1", ref)
	assert.Equal(t, int64(100), volume)
	assert.Equal(t, 0.0, price)
}
