package market

import (
	"fmt"
	"strings"
	"time"
)

// Phase is where a moment falls in the trading day.
type Phase int

const (
	// PhasePreOpen is before the first window of the day.
	PhasePreOpen Phase = iota
	// PhaseOpen is inside a trading window; orders may match.
	PhaseOpen
	// PhaseBreak is between two windows.
	PhaseBreak
	// PhaseClosed is at or after the close boundary.
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhasePreOpen:
		return "pre-open"
	case PhaseOpen:
		return "open"
	case PhaseBreak:
		return "break"
	case PhaseClosed:
		return "closed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Window is a trading session [Start, End] as offsets from midnight.
type Window struct {
	Start time.Duration
	End   time.Duration
}

// Hours is the trading calendar of one market.
type Hours struct {
	Windows []Window
	// CloseAt is the offset from midnight at which the day is over and
	// end-of-day processing begins.
	CloseAt  time.Duration
	Location *time.Location
}

// ChinaAShare is 09:15-11:30 and 13:00-15:00, closing at 15:01.
func ChinaAShare(loc *time.Location) Hours {
	return Hours{
		Windows: []Window{
			{Start: 9*time.Hour + 15*time.Minute, End: 11*time.Hour + 30*time.Minute},
			{Start: 13 * time.Hour, End: 15 * time.Hour},
		},
		CloseAt:  15*time.Hour + time.Minute,
		Location: loc,
	}
}

// Phase classifies t.
func (h Hours) Phase(t time.Time) Phase {
	off := h.offset(t)
	if off >= h.CloseAt {
		return PhaseClosed
	}
	if len(h.Windows) == 0 || off < h.Windows[0].Start {
		return PhasePreOpen
	}
	for _, w := range h.Windows {
		if off >= w.Start && off <= w.End {
			return PhaseOpen
		}
	}
	return PhaseBreak
}

// Weekday reports whether t falls on a trading weekday. Exchange holidays
// are not modelled.
func (h Hours) Weekday(t time.Time) bool {
	switch h.in(t).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// Date formats the trading date of t as YYYYMMDD.
func (h Hours) Date(t time.Time) string {
	return h.in(t).Format("20060102")
}

func (h Hours) in(t time.Time) time.Time {
	if h.Location != nil {
		return t.In(h.Location)
	}
	return t
}

func (h Hours) offset(t time.Time) time.Duration {
	t = h.in(t)
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}

// ParseClock parses "HH:MM" or "HH:MM:SS" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	layout := "15:04"
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return 0, fmt.Errorf("bad clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second, nil
}
