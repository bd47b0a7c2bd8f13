package journal

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rustyeddy/papertrade/broker"
	"github.com/rustyeddy/papertrade/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filledOrder() broker.Order {
	return broker.Order{
		Code:       "600000",
		Exchange:   "SH",
		AccountID:  tok,
		OrderID:    "01HQZ8Y0000000000000000000",
		OrderType:  broker.OrderBuy,
		PriceType:  broker.PriceLimit,
		OrderPrice: 10,
		TradePrice: 9.98,
		Volume:     1000,
		Traded:     1000,
		Status:     broker.StatusAllTraded,
		OrderDate:  "20240304",
		OrderTime:  "10:00:00",
	}
}

func TestWriteOrdersCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteOrdersCSV(&buf, []broker.Order{filledOrder()}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, orderHeader, rows[0])
	assert.Equal(t, "600000", rows[1][4])
	assert.Equal(t, "9.98", rows[1][9])
	assert.Equal(t, "fully-traded", rows[1][12])
}

func TestCSVJournalHeaders(t *testing.T) {
	dir := t.TempDir()
	fills := filepath.Join(dir, "fills.csv")
	records := filepath.Join(dir, "records.csv")

	j, err := NewCSV(fills, records)
	require.NoError(t, err)
	require.NoError(t, j.Handle(ctx, event.OrderUpdated{Order: filledOrder()}))
	require.NoError(t, j.Handle(ctx, event.AccountRecordInserted{Record: broker.AccountRecord{
		AccountID: tok, CheckDate: "20240304", Assets: 1000497, Available: 985997, MarketValue: 14500,
	}}))
	require.NoError(t, j.Handle(ctx, event.AccountAvailableUpdated{AccountID: tok}))
	require.NoError(t, j.Close())

	readRows := func(path string) [][]string {
		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()
		rows, err := csv.NewReader(f).ReadAll()
		require.NoError(t, err)
		return rows
	}

	rows := readRows(fills)
	require.Len(t, rows, 2)
	assert.Equal(t, orderHeader, rows[0])

	rows = readRows(records)
	require.Len(t, rows, 2)
	assert.Equal(t, recordHeader, rows[0])
	assert.Equal(t, []string{tok, "20240304", "1000497.00", "985997.00", "14500.00"}, rows[1])
}

func TestFormatOrderOrg(t *testing.T) {
	got := FormatOrderOrg(filledOrder())

	assert.True(t, strings.HasPrefix(got, "** BUY 600000.SH 1000 @ 10.00 (01HQZ8Y0)\n"))
	assert.Contains(t, got, ":PROPERTIES:\n")
	assert.Contains(t, got, ":TRADE_PRICE: 9.98\n")
	assert.Contains(t, got, ":STATUS: fully-traded\n")
	assert.NotContains(t, got, ":ERROR:")
	assert.True(t, strings.HasSuffix(got, ":END:\n"))

	two := FormatOrdersOrg([]broker.Order{filledOrder(), filledOrder()})
	assert.Equal(t, 2, strings.Count(two, ":END:"))
}

func TestFormatAccountOrg(t *testing.T) {
	a := newAccount()
	got := FormatAccountOrg(a, nil)
	assert.Contains(t, got, ":ASSETS: 1000000.00\n")
	assert.NotContains(t, got, "** Positions")

	got = FormatAccountOrg(a, []broker.Position{{Code: "600000", Exchange: "SH", Volume: 100, Available: 100, BuyPrice: 10, NowPrice: 11, Profit: 100}})
	assert.Contains(t, got, "| 600000.SH | 100 | 100 | 10.00 | 11.00 | 100.00 |")
}

func TestSummarize(t *testing.T) {
	acct := newAccount()
	acct.Capital = 1000
	acct.Assets = 1200

	records := []broker.AccountRecord{
		{CheckDate: "20240304", Assets: 1100},
		{CheckDate: "20240305", Assets: 1050},
		{CheckDate: "20240306", Assets: 1200},
	}
	posRecs := []broker.PosRecord{
		{Code: "a", Profit: 120, IsClear: 1},
		{Code: "b", Profit: -20, IsClear: 1},
		{Code: "c", Profit: 50},
	}
	orders := []broker.Order{filledOrder(), {Status: broker.StatusCancelled}}

	r := Summarize(acct, records, posRecs, orders)
	assert.Equal(t, "20240304", r.StartDate)
	assert.Equal(t, "20240306", r.EndDate)
	assert.Equal(t, 3, r.TotalDays)
	assert.Equal(t, 2, r.ProfitDays)
	assert.Equal(t, 1, r.LossDays)
	assert.Equal(t, 200.0, r.NetPL)
	assert.Equal(t, 50.0, r.MaxDrawdown)
	assert.InDelta(t, 50.0/1100*100, r.MaxDDPct, 1e-9)
	assert.InDelta(t, 20.0, r.TotalReturn, 1e-9)
	assert.InDelta(t, 1600.0, r.AnnualReturn, 1e-9)
	assert.Equal(t, 1, r.Wins)
	assert.Equal(t, 1, r.Losses)
	assert.Equal(t, 50.0, r.WinRate)
	assert.Equal(t, 1, r.TradeCount)
	assert.Equal(t, 9980.0, r.TotalTurnover)
	assert.Equal(t, 2.99, r.TotalFees)
	assert.Greater(t, r.SharpeRatio, 0.0)

	var buf bytes.Buffer
	PrintReport(&buf, r)
	assert.Contains(t, buf.String(), "Max Drawdown:   50.00 (4.55%)")
	assert.Contains(t, buf.String(), "Win Rate:       50.00%")
}

func TestSummarizeWithoutRecords(t *testing.T) {
	r := Summarize(newAccount(), nil, nil, nil)
	assert.Equal(t, 0, r.TotalDays)
	assert.Equal(t, 0.0, r.NetPL)
	assert.Equal(t, 0.0, r.SharpeRatio)

	var buf bytes.Buffer
	PrintReport(&buf, r)
	assert.Contains(t, buf.String(), "First Day:      -")
}
