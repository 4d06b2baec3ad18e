package models

import (
	"sort"
	"time"
	_ "time/tzdata"
)

const (
	DaysInAWeek    = 5
	DaysInAMonth   = 20
	DaysInAQuarter = 60
	DaysInAYear    = 250

	// InterdayLookbackLoad is the number of calendar days of daily bars loaded before a run.
	InterdayLookbackLoad = 365 * 24 * time.Hour
	Interval             = 5 * time.Minute

	BidAskSpread      = 0.001
	ShortReserveRatio = 1.0
	Epsilon           = 1e-7
)

var marketLocation = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// MarketLocation returns the exchange time zone.
func MarketLocation() *time.Location {
	return marketLocation
}

// MarketDay truncates t to midnight of its trading date in the exchange time zone.
func MarketDay(t time.Time) time.Time {
	t = t.In(marketLocation)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, marketLocation)
}

// MarketOpen returns 09:30 on the trading date of day.
func MarketOpen(day time.Time) time.Time {
	return MarketDay(day).Add(9*time.Hour + 30*time.Minute)
}

// MarketClose returns 16:00 on the trading date of day.
func MarketClose(day time.Time) time.Time {
	return MarketDay(day).Add(16 * time.Hour)
}

// ClockOf returns the wall-clock offset of t from midnight in the exchange time zone.
func ClockOf(t time.Time) time.Duration {
	return t.In(marketLocation).Sub(MarketDay(t))
}

// Mode tags whether a snapshot was built by a simulation or a live session.
type Mode int

const (
	ModeBacktest Mode = iota + 1
	ModeTrade
)

func (m Mode) String() string {
	switch m {
	case ModeBacktest:
		return "BACKTEST"
	case ModeTrade:
		return "TRADE"
	}
	return "UNKNOWN"
}

// Cadence determines which ticks of a day a processor participates in.
type Cadence int

const (
	FiveMin Cadence = iota + 1
	CloseToClose
	CloseToOpen
)

func (c Cadence) String() string {
	switch c {
	case FiveMin:
		return "FIVE_MIN"
	case CloseToClose:
		return "CLOSE_TO_CLOSE"
	case CloseToOpen:
		return "CLOSE_TO_OPEN"
	}
	return "UNKNOWN"
}

// Bar is one OHLCV sample. Time is the start of the bar.
type Bar struct {
	Time   time.Time `json:"t"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
}

// Series is a time-ordered list of bars.
type Series []Bar

// IndexOf returns the index of the bar starting exactly at t.
func (s Series) IndexOf(t time.Time) (int, bool) {
	i := sort.Search(len(s), func(i int) bool { return !s[i].Time.Before(t) })
	if i < len(s) && s[i].Time.Equal(t) {
		return i, true
	}
	return 0, false
}

// AsOf returns the index of the last bar starting at or before t.
func (s Series) AsOf(t time.Time) (int, bool) {
	i := sort.Search(len(s), func(i int) bool { return s[i].Time.After(t) })
	if i == 0 {
		return 0, false
	}
	return i - 1, true
}

// Before returns the bars strictly before t.
func (s Series) Before(t time.Time) Series {
	i := sort.Search(len(s), func(i int) bool { return !s[i].Time.Before(t) })
	return s[:i]
}

// Tail returns the last n bars, or all of them when fewer exist.
func (s Series) Tail(n int) Series {
	if n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}

func (s Series) Last() Bar {
	return s[len(s)-1]
}

func (s Series) Opens() []float64 {
	return s.column(func(b Bar) float64 { return b.Open })
}

func (s Series) Highs() []float64 {
	return s.column(func(b Bar) float64 { return b.High })
}

func (s Series) Lows() []float64 {
	return s.column(func(b Bar) float64 { return b.Low })
}

func (s Series) Closes() []float64 {
	return s.column(func(b Bar) float64 { return b.Close })
}

func (s Series) Volumes() []float64 {
	return s.column(func(b Bar) float64 { return b.Volume })
}

func (s Series) column(f func(Bar) float64) []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = f(b)
	}
	return out
}

// Clone returns a copy that can be mutated without touching s.
func (s Series) Clone() Series {
	if s == nil {
		return nil
	}
	out := make(Series, len(s))
	copy(out, s)
	return out
}
