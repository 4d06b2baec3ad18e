package engine

import (
	"alpharius-go/internal/models"
	"alpharius-go/internal/processor"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	monday  = time.Date(2024, 3, 4, 0, 0, 0, 0, models.MarketLocation())
	tuesday = monday.AddDate(0, 0, 1)
)

// at returns hh:mm on day in market time.
func at(day time.Time, hour, minute int) time.Time {
	return models.MarketDay(day).Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// dailyBars returns one flat bar per calendar day in [from, to].
func dailyBars(from, to time.Time, price float64) models.Series {
	var s models.Series
	for d := models.MarketDay(from); !d.After(to); d = d.AddDate(0, 0, 1) {
		s = append(s, models.Bar{Time: d, Open: price, High: price, Low: price, Close: price, Volume: 1e6})
	}
	return s
}

// sessionBars returns the 78 bars of day, closing at price(barStart).
func sessionBars(day time.Time, price func(time.Time) float64) models.Series {
	var s models.Series
	for t := models.MarketOpen(day); t.Before(models.MarketClose(day)); t = t.Add(models.Interval) {
		p := price(t)
		s = append(s, models.Bar{Time: t, Open: p, High: p, Low: p, Close: p, Volume: 1e4})
	}
	return s
}

// mockFeed serves fixed bars and counts intraday loads.
type mockFeed struct {
	sync.Mutex
	interday      map[string]models.Series
	intraday      func(symbol string, day time.Time) models.Series
	intradayCalls int
}

func (m *mockFeed) Interday(_ context.Context, symbol string, start, end time.Time) (models.Series, error) {
	series, ok := m.interday[symbol]
	if !ok {
		return nil, models.ErrDataUnavailable
	}
	var out models.Series
	for _, b := range series {
		if !b.Time.Before(start) && b.Time.Before(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *mockFeed) Intraday(_ context.Context, symbol string, day time.Time) (models.Series, error) {
	m.Lock()
	m.intradayCalls++
	m.Unlock()
	if m.intraday == nil {
		return nil, models.ErrDataUnavailable
	}
	return m.intraday(symbol, day), nil
}

// stubProcessor emits whatever decide returns and records what it was shown.
type stubProcessor struct {
	processor.Base
	cadence  models.Cadence
	universe []string
	decide   func(snap *processor.Snapshot) *models.Intent

	mu     sync.Mutex
	acked     []string
	seen      []*processor.Snapshot
	resets    []time.Time
	teardowns int
}

func newStub(name string, cadence models.Cadence, universe []string, decide func(*processor.Snapshot) *models.Intent) *stubProcessor {
	return &stubProcessor{
		Base:     processor.NewBase(name, zap.NewNop().Sugar()),
		cadence:  cadence,
		universe: universe,
		decide:   decide,
	}
}

func (s *stubProcessor) Cadence() models.Cadence { return s.cadence }

func (s *stubProcessor) StockUniverse(time.Time) []string { return s.universe }

func (s *stubProcessor) Evaluate(snap *processor.Snapshot) *models.Intent {
	s.mu.Lock()
	s.seen = append(s.seen, snap)
	s.mu.Unlock()
	if s.decide == nil {
		return nil
	}
	return s.decide(snap)
}

func (s *stubProcessor) OnOpenConfirmed(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, symbol)
}

func (s *stubProcessor) Teardown() {
	s.teardowns++
}

func (s *stubProcessor) ResetForSession(_ []models.Position, asOf time.Time) {
	s.resets = append(s.resets, asOf)
}

// registryOf returns a registry that hands out the given stubs as is.
func registryOf(stubs ...*stubProcessor) (*processor.Registry, []models.ProcessorConfig) {
	r := processor.NewRegistry()
	configs := make([]models.ProcessorConfig, 0, len(stubs))
	for _, s := range stubs {
		s := s
		r.Register(s.Name(), func(processor.Config) (processor.Processor, error) { return s, nil })
		configs = append(configs, models.ProcessorConfig{Name: s.Name()})
	}
	return r, configs
}

// intentAt returns decide funcs that fire typ for symbol at the given tick.
func intentAt(tick time.Time, symbol string, typ models.ActionType) func(*processor.Snapshot) *models.Intent {
	return func(snap *processor.Snapshot) *models.Intent {
		if snap.Symbol == symbol && snap.Time.Equal(tick) {
			return &models.Intent{Symbol: symbol, Type: typ, Percent: 1}
		}
		return nil
	}
}

// intents combines decide funcs; the first non-nil intent wins.
func intents(fns ...func(*processor.Snapshot) *models.Intent) func(*processor.Snapshot) *models.Intent {
	return func(snap *processor.Snapshot) *models.Intent {
		for _, f := range fns {
			if intent := f(snap); intent != nil {
				return intent
			}
		}
		return nil
	}
}
