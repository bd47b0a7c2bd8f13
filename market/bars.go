package market

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Bar is one trading day of OHLC data for a symbol. Date is YYYYMMDD.
type Bar struct {
	Symbol string
	Date   string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Gap is a run of weekdays with no bar between two bars of one symbol.
type Gap struct {
	Symbol string
	After  string // date of the bar before the gap
	Days   int    // missing weekdays
	Kind   string // holiday or suspicious
}

type BarStats struct {
	Symbols        int
	Bars           int
	GapCount       int
	SuspiciousGaps int
	LongestGap     int
	Duplicates     int
	BadLines       int
}

// BarSet holds daily bars per symbol, sorted by date.
type BarSet struct {
	Source string
	bars   map[string][]Bar
	Gaps   []Gap

	duplicates int
	badLines   int
}

// LoadBarsFile reads a bar file, see LoadBars.
func LoadBarsFile(path string) (*BarSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bs, err := LoadBars(f)
	if err != nil {
		return nil, err
	}
	bs.Source = path
	return bs, nil
}

// LoadBars parses lines of date,symbol,open,high,low,close[,volume]. A
// header line starting with "date" is skipped. Malformed lines are counted
// and skipped; for a repeated (symbol, date) the first line wins.
func LoadBars(src io.Reader) (*BarSet, error) {
	bs := &BarSet{bars: make(map[string][]Bar)}
	seen := make(map[string]bool)

	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(strings.ToLower(line), "date,") {
			continue
		}
		b, err := parseBar(strings.Split(line, ","))
		if err != nil {
			bs.badLines++
			continue
		}
		key := b.Symbol + "@" + b.Date
		if seen[key] {
			bs.duplicates++
			continue
		}
		seen[key] = true
		bs.bars[b.Symbol] = append(bs.bars[b.Symbol], b)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	for sym := range bs.bars {
		bars := bs.bars[sym]
		sort.Slice(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })
	}
	bs.BuildGapReport()
	return bs, nil
}

func parseBar(parts []string) (Bar, error) {
	if len(parts) < 6 {
		return Bar{}, fmt.Errorf("need at least 6 fields, got %d", len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if _, err := time.Parse("20060102", parts[0]); err != nil {
		return Bar{}, err
	}
	if !strings.Contains(parts[1], ".") {
		return Bar{}, fmt.Errorf("bad symbol %q", parts[1])
	}

	b := Bar{Date: parts[0], Symbol: parts[1]}
	px := []*float64{&b.Open, &b.High, &b.Low, &b.Close}
	for i, p := range px {
		v, err := strconv.ParseFloat(parts[i+2], 64)
		if err != nil {
			return Bar{}, err
		}
		*p = v
	}
	if b.Close <= 0 {
		return Bar{}, fmt.Errorf("close must be positive")
	}
	if len(parts) >= 7 && parts[6] != "" {
		v, err := strconv.ParseInt(parts[6], 10, 64)
		if err != nil {
			return Bar{}, err
		}
		b.Volume = v
	}
	return b, nil
}

// Symbols lists the symbols with bars, in order.
func (bs *BarSet) Symbols() []string {
	out := make([]string, 0, len(bs.bars))
	for sym := range bs.bars {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// At returns the bar of symbol on date, or the latest one before it.
func (bs *BarSet) At(symbol, date string) (Bar, bool) {
	bars := bs.bars[symbol]
	i := sort.Search(len(bars), func(i int) bool { return bars[i].Date > date })
	if i == 0 {
		return Bar{}, false
	}
	return bars[i-1], true
}

// BuildGapReport finds weekdays missing between consecutive bars.
func (bs *BarSet) BuildGapReport() {
	bs.Gaps = bs.Gaps[:0]
	for _, sym := range bs.Symbols() {
		bars := bs.bars[sym]
		for i := 1; i < len(bars); i++ {
			n := missingWeekdays(bars[i-1].Date, bars[i].Date)
			if n == 0 {
				continue
			}
			bs.Gaps = append(bs.Gaps, Gap{
				Symbol: sym,
				After:  bars[i-1].Date,
				Days:   n,
				Kind:   classifyGap(n),
			})
		}
	}
}

// classifyGap: the longest exchange holidays close for about six weekdays,
// anything longer is a suspension or missing data.
func classifyGap(days int) string {
	if days <= 7 {
		return "holiday"
	}
	return "suspicious"
}

func missingWeekdays(from, to string) int {
	a, err1 := time.Parse("20060102", from)
	b, err2 := time.Parse("20060102", to)
	if err1 != nil || err2 != nil {
		return 0
	}
	n := 0
	for d := a.AddDate(0, 0, 1); d.Before(b); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n++
		}
	}
	return n
}

func (bs *BarSet) Stats() BarStats {
	s := BarStats{
		Symbols:    len(bs.bars),
		Duplicates: bs.duplicates,
		BadLines:   bs.badLines,
	}
	for _, bars := range bs.bars {
		s.Bars += len(bars)
	}
	for _, g := range bs.Gaps {
		s.GapCount++
		if g.Days > s.LongestGap {
			s.LongestGap = g.Days
		}
		if g.Kind == "suspicious" {
			s.SuspiciousGaps++
		}
	}
	return s
}

// BarQuotes is a Provider that quotes each symbol flat at the close of its
// bar for the clock's trading day, so end-of-day settlement uses closing
// prices. A symbol with no bar yet has no quote.
type BarQuotes struct {
	set   *BarSet
	hours Hours
	clock func() time.Time

	mu        sync.RWMutex
	connected bool
}

func NewBarQuotes(set *BarSet, hours Hours, clock func() time.Time) *BarQuotes {
	if clock == nil {
		clock = time.Now
	}
	return &BarQuotes{set: set, hours: hours, clock: clock}
}

func (q *BarQuotes) Connect(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.connected = true
	return nil
}

func (q *BarQuotes) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.connected = false
	return nil
}

func (q *BarQuotes) isConnected() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.connected
}

func (q *BarQuotes) Quote(ctx context.Context, symbol string) (Quote, error) {
	if !q.isConnected() {
		return Quote{}, ErrNotConnected
	}
	now := q.clock()
	b, ok := q.set.At(symbol, q.hours.Date(now))
	if !ok {
		return Quote{}, ErrNoQuote
	}
	return Quote{Symbol: symbol, Bid: b.Close, Ask: b.Close, Last: b.Close, Time: now}, nil
}

// Ticks returns the open, high, low and close of the day's bar.
func (q *BarQuotes) Ticks(ctx context.Context, symbol string, day time.Time) ([]Tick, error) {
	if !q.isConnected() {
		return nil, ErrNotConnected
	}
	date := q.hours.Date(day)
	b, ok := q.set.At(symbol, date)
	if !ok || b.Date != date {
		return nil, nil
	}
	return []Tick{
		{Time: day, Price: b.Open},
		{Time: day, Price: b.High},
		{Time: day, Price: b.Low},
		{Time: day, Price: b.Close, Volume: b.Volume},
	}, nil
}
