// Package replay drives an engine from a CSV script of quotes and order
// events, on a clock that follows the script.
//
// Rows are
//
//	time,symbol,bid,ask[,event,arg1,arg2,arg3]
//
// where time is RFC3339 and symbol a pt_symbol such as 600000.SH. A header
// row starting with "time" is skipped. Events (case-insensitive):
//
//	BUY:       arg1=ref  arg2=volume  arg3=price (0 or empty for market)
//	SELL:      arg1=ref  arg2=volume  arg3=price
//	CANCEL:    arg1=ref
//	LIQUIDATE: settle the account at the current quotes
//
// The ref names an order so a later CANCEL can find it. Crossing into a new
// trading day closes the previous one first.
package replay

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/papertrade/broker"
	"github.com/rustyeddy/papertrade/engine"
	"github.com/rustyeddy/papertrade/exchange"
	"github.com/rustyeddy/papertrade/market"
)

// Clock is a settable time source for the engine.
type Clock struct {
	mu sync.RWMutex
	t  time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type Options struct {
	// Token is the account the script trades. Empty creates one with
	// Capital.
	Token   string
	Capital float64
	// TickThenEvent applies a row's quote before its event. Otherwise the
	// event sees the previous quote.
	TickThenEvent bool
	// CloseEnd closes the last day after the final row.
	CloseEnd bool
	// From and To bound the replayed rows, [From, To). Zero means open.
	From time.Time
	To   time.Time
}

// Summary counts what a run did.
type Summary struct {
	Token      string
	Rows       int
	Orders     int
	Rejections int
	Cancels    int
	Days       []broker.AccountRecord
}

// Row is one parsed script line.
type Row struct {
	Time   time.Time
	Symbol string
	Bid    float64
	Ask    float64
	Event  string
	Args   []string
}

// Runner feeds a script to an engine. The engine must have been built with
// Quotes as its provider and Clock.Now as its clock, and not yet started.
type Runner struct {
	Engine *engine.Engine
	Quotes *market.QuoteStore
	Clock  *Clock
	Log    *slog.Logger

	opts    Options
	sum     Summary
	refs    map[string]string
	day     string
	started bool
}

func New(e *engine.Engine, quotes *market.QuoteStore, clock *Clock, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{Engine: e, Quotes: quotes, Clock: clock, Log: log}
}

// File replays the script at path.
func (r *Runner) File(ctx context.Context, path string, opts Options) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()
	return r.Run(ctx, f, opts)
}

// Run replays src. Business refusals are counted and logged; parse errors
// and engine failures stop the run.
func (r *Runner) Run(ctx context.Context, src io.Reader, opts Options) (Summary, error) {
	r.opts = opts
	r.sum = Summary{}
	r.refs = make(map[string]string)
	r.day = ""

	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'

	first := true
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return r.sum, err
		}
		if len(rec) == 0 {
			continue
		}
		if first {
			first = false
			if strings.EqualFold(strings.TrimSpace(rec[0]), "time") {
				continue
			}
		}

		row, err := ParseRow(rec)
		if err != nil {
			return r.sum, err
		}
		if !inRange(row.Time, opts.From, opts.To) {
			continue
		}
		if err := r.step(ctx, row); err != nil {
			return r.sum, fmt.Errorf("row %d (%s): %w", r.sum.Rows+1, row.Time.Format(time.RFC3339), err)
		}
		r.sum.Rows++
	}

	if opts.CloseEnd && r.day != "" && r.Engine.Exchange().Accepting() {
		if err := r.closeDay(ctx); err != nil {
			return r.sum, err
		}
	}
	return r.sum, r.Engine.Err()
}

func (r *Runner) step(ctx context.Context, row Row) error {
	r.Clock.Set(row.Time)
	if err := r.start(ctx); err != nil {
		return err
	}

	date := r.Engine.Exchange().Hours().Date(row.Time)
	if date != r.day {
		if err := r.advance(ctx, date); err != nil {
			return err
		}
	}

	if r.opts.TickThenEvent {
		r.tick(row)
	}
	if row.Event != "" {
		if err := r.event(ctx, row); err != nil {
			return err
		}
	}
	if !r.opts.TickThenEvent {
		r.tick(row)
	}

	if r.Engine.Exchange().Mode() != exchange.ModeBacktest && r.Engine.Exchange().Accepting() {
		return r.Engine.Exchange().Match(ctx)
	}
	return nil
}

// start brings the engine up on the first row, so the session opens on the
// script's first day.
func (r *Runner) start(ctx context.Context) error {
	if r.started {
		return nil
	}
	if err := r.Engine.Start(ctx); err != nil {
		return err
	}
	r.started = true
	r.day = r.Engine.Exchange().Date()

	if r.opts.Token != "" {
		if _, err := r.Engine.Login(ctx, r.opts.Token); err != nil {
			return err
		}
		r.sum.Token = r.opts.Token
		return nil
	}
	acct, err := r.Engine.CreateAccount(ctx, broker.AccountParams{Capital: r.opts.Capital, Info: "replay"})
	if err != nil {
		return err
	}
	r.sum.Token = acct.AccountID
	r.Log.Info("replay account created", "account", acct.AccountID, "capital", acct.Capital)
	return nil
}

func (r *Runner) advance(ctx context.Context, date string) error {
	if r.Engine.Exchange().Accepting() {
		if err := r.closeDay(ctx); err != nil {
			return err
		}
	}
	if err := r.Engine.NextDay(date); err != nil {
		return err
	}
	r.day = date
	return nil
}

func (r *Runner) closeDay(ctx context.Context) error {
	if err := r.Engine.CloseDay(ctx, r.day); err != nil {
		return err
	}
	r.record(ctx, r.day)
	return nil
}

func (r *Runner) record(ctx context.Context, date string) {
	recs, err := r.Engine.Journal().AccountRecords(ctx, r.sum.Token, date, date)
	if err == nil && len(recs) == 1 {
		r.sum.Days = append(r.sum.Days, recs[0])
		return
	}
	// manual persistence has not flushed it
	acct, err := r.Engine.GetAccount(ctx, r.sum.Token)
	if err != nil {
		return
	}
	r.sum.Days = append(r.sum.Days, broker.AccountRecord{
		AccountID:   acct.AccountID,
		CheckDate:   date,
		Assets:      acct.Assets,
		Available:   acct.Available,
		MarketValue: acct.MarketValue,
	})
}

func (r *Runner) tick(row Row) {
	r.Quotes.Set(market.Quote{
		Symbol: row.Symbol,
		Bid:    row.Bid,
		Ask:    row.Ask,
		Last:   broker.Round((row.Bid+row.Ask)/2, broker.DefaultPoint),
		Time:   row.Time,
	})
}

func (r *Runner) event(ctx context.Context, row Row) error {
	switch strings.ToUpper(row.Event) {
	case "BUY":
		return r.submit(ctx, row, broker.OrderBuy)
	case "SELL":
		return r.submit(ctx, row, broker.OrderSell)

	case "CANCEL":
		if len(row.Args) < 1 || row.Args[0] == "" {
			return errors.New("CANCEL: need arg1=ref")
		}
		id, ok := r.refs[row.Args[0]]
		if !ok {
			return fmt.Errorf("CANCEL: unknown ref %q", row.Args[0])
		}
		err := r.Engine.CancelOrder(ctx, r.sum.Token, id)
		if errors.Is(err, broker.ErrOrderNotFound) {
			r.Log.Info("replay cancel missed", "ref", row.Args[0], "order_id", id)
			return nil
		}
		if err != nil {
			return err
		}
		r.sum.Cancels++
		return nil

	case "LIQUIDATE":
		prices := make(map[string]float64)
		for _, sym := range r.Quotes.Symbols() {
			q, err := r.Quotes.Get(sym)
			if err == nil && q.Close() > 0 {
				prices[sym] = q.Close()
			}
		}
		_, stale, err := r.Engine.Liquidate(ctx, r.sum.Token, r.day, prices)
		if err != nil {
			return err
		}
		if len(stale) > 0 {
			r.Log.Warn("replay liquidation without price", "symbols", stale)
		}
		return nil

	default:
		return fmt.Errorf("unknown event %q", row.Event)
	}
}

func (r *Runner) submit(ctx context.Context, row Row, typ broker.OrderType) error {
	ref, volume, price, err := parseOrderArgs(row.Args)
	if err != nil {
		return fmt.Errorf("%s: %w", strings.ToUpper(row.Event), err)
	}
	code, exch, err := broker.SplitSymbol(row.Symbol)
	if err != nil {
		return err
	}

	o, err := r.Engine.SubmitOrder(ctx, broker.OrderRequest{
		AccountID: r.sum.Token,
		Code:      code,
		Exchange:  exch,
		OrderType: typ,
		Price:     price,
		Volume:    volume,
		OrderDate: r.day,
		OrderTime: row.Time.Format(broker.TimeLayout),
	})
	var rej *broker.Rejection
	if errors.As(err, &rej) {
		r.sum.Rejections++
		r.Log.Info("replay order refused", "ref", ref, "reason", rej.Reason)
		return nil
	}
	if err != nil {
		return err
	}
	r.sum.Orders++
	if ref != "" {
		r.refs[ref] = o.OrderID
	}
	return nil
}

// ParseRow parses one script line.
func ParseRow(rec []string) (Row, error) {
	if len(rec) < 4 {
		return Row{}, fmt.Errorf("bad row (need at least time,symbol,bid,ask): %v", rec)
	}
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}

	t, err := time.Parse(time.RFC3339, rec[0])
	if err != nil {
		return Row{}, fmt.Errorf("bad time %q: %w", rec[0], err)
	}
	if _, _, err := broker.SplitSymbol(rec[1]); err != nil {
		return Row{}, err
	}
	bid, err := strconv.ParseFloat(rec[2], 64)
	if err != nil {
		return Row{}, fmt.Errorf("bad bid %q: %w", rec[2], err)
	}
	ask, err := strconv.ParseFloat(rec[3], 64)
	if err != nil {
		return Row{}, fmt.Errorf("bad ask %q: %w", rec[3], err)
	}

	row := Row{Time: t, Symbol: rec[1], Bid: bid, Ask: ask}
	if len(rec) >= 5 {
		row.Event = rec[4]
	}
	if len(rec) >= 6 {
		row.Args = rec[5:]
	}
	return row, nil
}

func parseOrderArgs(args []string) (ref string, volume int64, price float64, err error) {
	if len(args) < 2 {
		return "", 0, 0, errors.New("need arg1=ref arg2=volume [arg3=price]")
	}
	ref = args[0]
	volume, err = strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("bad volume %q: %w", args[1], err)
	}
	if len(args) >= 3 && args[2] != "" {
		price, err = strconv.ParseFloat(args[2], 64)
		if err != nil {
			return "", 0, 0, fmt.Errorf("bad price %q: %w", args[2], err)
		}
	}
	return ref, volume, price, nil
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
