package journal

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/rustyeddy/papertrade/broker"
	"github.com/rustyeddy/papertrade/event"
)

var (
	orderHeader = []string{
		"order_id", "account_id", "order_date", "order_time", "code", "exchange",
		"order_type", "price_type", "order_price", "trade_price", "volume", "traded",
		"status", "error_msg",
	}
	recordHeader = []string{"account_id", "check_date", "assets", "available", "market_value"}
)

// WriteOrdersCSV writes the blotter with a header row.
func WriteOrdersCSV(w io.Writer, orders []broker.Order) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(orderHeader); err != nil {
		return err
	}
	for _, o := range orders {
		if err := cw.Write(orderRow(o)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAccountRecordsCSV writes the daily records with a header row.
func WriteAccountRecordsCSV(w io.Writer, recs []broker.AccountRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(recordHeader); err != nil {
		return err
	}
	for _, r := range recs {
		if err := cw.Write(recordRow(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func orderRow(o broker.Order) []string {
	return []string{
		o.OrderID,
		o.AccountID,
		o.OrderDate,
		o.OrderTime,
		o.Code,
		o.Exchange,
		string(o.OrderType),
		string(o.PriceType),
		f(o.OrderPrice),
		f(o.TradePrice),
		strconv.FormatInt(o.Volume, 10),
		strconv.FormatInt(o.Traded, 10),
		string(o.Status),
		o.ErrorMsg,
	}
}

func recordRow(r broker.AccountRecord) []string {
	return []string{r.AccountID, r.CheckDate, f(r.Assets), f(r.Available), f(r.MarketValue)}
}

// CSVJournal appends fills and daily records to two CSV files as the events
// arrive on the bus.
type CSVJournal struct {
	mu      sync.Mutex
	fills   *csv.Writer
	records *csv.Writer
	ff, rf  *os.File
}

func NewCSV(fillsPath, recordsPath string) (*CSVJournal, error) {
	ff, err := os.Create(fillsPath)
	if err != nil {
		return nil, err
	}
	rf, err := os.Create(recordsPath)
	if err != nil {
		ff.Close()
		return nil, err
	}

	j := &CSVJournal{fills: csv.NewWriter(ff), records: csv.NewWriter(rf), ff: ff, rf: rf}
	if err := j.fills.Write(orderHeader); err != nil {
		j.Close()
		return nil, err
	}
	if err := j.records.Write(recordHeader); err != nil {
		j.Close()
		return nil, err
	}
	if err := j.flush(); err != nil {
		j.Close()
		return nil, err
	}
	return j, nil
}

// Handle records OrderUpdated and AccountRecordInserted; other events are
// ignored.
func (j *CSVJournal) Handle(_ context.Context, ev event.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch e := ev.(type) {
	case event.OrderUpdated:
		if err := j.fills.Write(orderRow(e.Order)); err != nil {
			return err
		}
	case event.AccountRecordInserted:
		if err := j.records.Write(recordRow(e.Record)); err != nil {
			return err
		}
	default:
		return nil
	}
	return j.flush()
}

func (j *CSVJournal) flush() error {
	j.fills.Flush()
	if err := j.fills.Error(); err != nil {
		return err
	}
	j.records.Flush()
	return j.records.Error()
}

func (j *CSVJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	ferr := j.flush()
	if err := j.ff.Close(); err != nil && ferr == nil {
		ferr = err
	}
	if err := j.rf.Close(); err != nil && ferr == nil {
		ferr = err
	}
	return ferr
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 2, 64)
}
