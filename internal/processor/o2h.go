package processor

import (
	"alpharius-go/internal/models"
	"math"
	"time"
)

const (
	O2hName     = "O2h"
	o2hExitTime = 11 * time.Hour
	o2hHold     = 35 * time.Minute
)

type O2hOptions struct {
	UniverseSize int      `json:"universe_size"`
	TopVolume    int      `json:"top_volume"`
	Shortable    []string `json:"shortable"`
}

type o2hStats struct {
	avg, std float64
}

// O2h shorts a stock whose gain from the open is unusually large compared with
// its recent open-to-high gains, once bar momentum starts fading.
type O2h struct {
	Base
	universe  Universe
	shortable map[string]bool
	memo      *SessionCache[o2hStats]
}

func NewO2h(cfg Config) (Processor, error) {
	opts := O2hOptions{UniverseSize: 15, TopVolume: 50}
	if err := cfg.decodeOptions(O2hName, &opts); err != nil {
		return nil, err
	}
	p := &O2h{
		Base:     NewBase(O2hName, cfg.loggerFor(O2hName)),
		universe: NewIntradayVolatilityUniverse(cfg.Interday, opts.UniverseSize, opts.TopVolume),
		memo:     NewSessionCache[o2hStats](),
	}
	if len(opts.Shortable) > 0 {
		p.shortable = make(map[string]bool, len(opts.Shortable))
		for _, s := range opts.Shortable {
			p.shortable[s] = true
		}
	}
	return p, nil
}

func (p *O2h) Cadence() models.Cadence {
	return models.FiveMin
}

func (p *O2h) StockUniverse(asOf time.Time) []string {
	symbols := union(p.universe.Symbols(asOf), p.lifecycles.Symbols())
	if p.shortable == nil {
		return symbols
	}
	out := symbols[:0]
	for _, s := range symbols {
		if p.shortable[s] {
			out = append(out, s)
		}
	}
	return out
}

func (p *O2h) ResetForSession(held []models.Position, asOf time.Time) {
	p.Base.ResetForSession(held, asOf)
	p.memo.Clear()
}

func (p *O2h) Evaluate(snap *Snapshot) *models.Intent {
	switch p.lifecycles.Status(snap.Symbol) {
	case StatusActive:
		return p.closePosition(snap)
	case StatusNone:
		return p.openPosition(snap)
	}
	return nil
}

func (p *O2h) openPosition(snap *Snapshot) *models.Intent {
	if models.ClockOf(snap.Time) >= o2hExitTime {
		return nil
	}
	month := snap.Interday.Tail(models.DaysInAMonth)
	if len(month) < models.DaysInAMonth {
		return nil
	}
	closes := month.Closes()
	if snap.Price < 0.8*closes[0] || snap.Price > 1.5*closes[0] {
		return nil
	}
	if closes[len(closes)-1]/closes[len(closes)-2]-1 > 2.25*snap.L2hAvg() {
		return nil
	}
	stats := p.memo.GetOrCompute(snap.Symbol, snap.Time, func() o2hStats {
		gains := make([]float64, len(month))
		for i, bar := range month {
			gains[i] = bar.High/bar.Open - 1
		}
		return o2hStats{avg: mean(gains), std: stdDev(gains)}
	})
	todayOpen, ok := snap.TodayOpen()
	if !ok {
		return nil
	}
	intraday := snap.Intraday.Closes()
	n := len(intraday)
	if n < 3 {
		return nil
	}
	if snap.Price < snap.PrevDayClose() {
		return nil
	}
	gain := snap.Price/todayOpen - 1
	z := (gain - stats.avg) / (stats.std + models.Epsilon)
	barDiff := math.Abs(intraday[n-3]-intraday[n-2]) - math.Abs(intraday[n-2]-intraday[n-1])
	isTrade := barDiff > 0 && z > 2 && z < 3.5
	if isTrade || (snap.Mode == models.ModeTrade && z > 1.5) {
		p.logger.Debugf("[%s] [%s] Current gain: %.2f%%. Z-score: %.2f. Expected z-score range: 2 ~ 3.5. "+
			"Bar diff: %.2f. Open price: %v. Current price: %v.",
			snap.Time.Format("2006-01-02 15:04"), snap.Symbol, gain*100, z, barDiff, todayOpen, snap.Price)
	}
	if !isTrade {
		return nil
	}
	p.lifecycles.MarkPending(snap.Symbol, snap.Time)
	return &models.Intent{Symbol: snap.Symbol, Type: models.SellToOpen, Percent: 1}
}

func (p *O2h) closePosition(snap *Snapshot) *models.Intent {
	lc, _ := p.lifecycles.Get(snap.Symbol)
	if snap.Time.Before(lc.EntryTime.Add(o2hHold)) && models.ClockOf(snap.Time) < o2hExitTime {
		return nil
	}
	p.logger.Debugf("[%s] [%s] Closing position. Current price %v.",
		snap.Time.Format("2006-01-02 15:04"), snap.Symbol, snap.Price)
	p.lifecycles.MarkClosing(snap.Symbol)
	return &models.Intent{Symbol: snap.Symbol, Type: models.BuyToClose, Percent: 1}
}
