package processor

import (
	"alpharius-go/internal/models"
	"math"
	"time"
)

const (
	H2lHourName     = "H2lHour"
	h2lHourExitTime = 16 * time.Hour
	h2lHourHold     = 30 * time.Minute
	metaEntryPrice  = "entry_price"
)

// h2lHourWindows pairs a lookback in 5-minute bars with its z-score threshold.
var h2lHourWindows = []struct {
	bars int
	z    float64
}{{10, 1}, {13, 1.15}, {25, 1.75}, {30, 2.25}, {37, 2.25}}

type H2lHourOptions struct {
	UniverseSize int `json:"universe_size"`
	TopVolume    int `json:"top_volume"`
}

// H2lHour buys an intraday dip that is deep compared with the stock's usual
// daily high-to-low range, and sells it half an hour later.
type H2lHour struct {
	Base
	universe Universe
}

func NewH2lHour(cfg Config) (Processor, error) {
	opts := H2lHourOptions{UniverseSize: 10, TopVolume: 50}
	if err := cfg.decodeOptions(H2lHourName, &opts); err != nil {
		return nil, err
	}
	return &H2lHour{
		Base:     NewBase(H2lHourName, cfg.loggerFor(H2lHourName)),
		universe: NewIntradayVolatilityUniverse(cfg.Interday, opts.UniverseSize, opts.TopVolume),
	}, nil
}

func (p *H2lHour) Cadence() models.Cadence {
	return models.FiveMin
}

func (p *H2lHour) StockUniverse(asOf time.Time) []string {
	return union(p.universe.Symbols(asOf), p.lifecycles.Symbols())
}

func (p *H2lHour) Evaluate(snap *Snapshot) *models.Intent {
	switch p.lifecycles.Status(snap.Symbol) {
	case StatusActive:
		return p.closePosition(snap)
	case StatusNone, StatusPending:
		return p.openPosition(snap)
	}
	return nil
}

func (p *H2lHour) openPosition(snap *Snapshot) *models.Intent {
	t := models.ClockOf(snap.Time)
	if t >= h2lHourExitTime {
		return nil
	}
	interday := snap.Interday.Closes()
	if len(interday) <= models.DaysInAWeek {
		return nil
	}
	for i := len(interday) - models.DaysInAWeek; i < len(interday); i++ {
		if math.Abs(interday[i]/interday[i-1]-1) > 0.4 {
			return nil
		}
	}
	openIndex, ok := snap.MarketOpenIndex()
	if !ok {
		return nil
	}
	session := snap.Intraday[openIndex:]
	closes, opens := session.Closes(), session.Opens()
	n := len(closes)
	if n < h2lHourWindows[0].bars {
		return nil
	}
	price, prevClose := snap.Price, snap.PrevDayClose()
	if price > minimum(closes) {
		return nil
	}
	if math.Abs(price/prevClose-1) > 0.25 {
		return nil
	}
	if opens[n-1] > prevClose && prevClose > closes[n-1] {
		return nil
	}
	quarter := interday
	if len(quarter) > models.DaysInAQuarter {
		quarter = quarter[len(quarter)-models.DaysInAQuarter:]
	}
	if interday[len(interday)-1] > 10*minimum(quarter) {
		return nil
	}
	barSizes := make([]float64, 0, 30)
	for i := n - min(30, n); i < n; i++ {
		barSizes = append(barSizes, math.Abs(closes[i]-opens[i]))
	}
	if barSizes[len(barSizes)-1] > 3*median(barSizes) {
		return nil
	}
	if math.Abs(prevClose-opens[0]) > math.Abs(opens[0]-price) {
		return nil
	}
	openDown := 0
	for i := 0; i < 6; i++ {
		if closes[i] < opens[i] {
			openDown++
		}
	}
	zd := float64(max(openDown-4, 0)) * 0.05

	h2lAvg, h2lStd := snap.H2lAvg(), snap.H2lStd()
	lower := math.Max(h2lAvg-3*h2lStd, -0.5)
	for _, w := range h2lHourWindows {
		if n < w.bars {
			continue
		}
		loss := price/closes[n-w.bars] - 1
		z0 := 0.0
		if t < 11*time.Hour || t > 15*time.Hour {
			z0 = 0.15
		}
		if price < prevClose && prevClose < opens[n-w.bars] {
			z0 += 0.05
		}
		upper := h2lAvg - (w.z+z0+zd)*h2lStd
		isTrade := lower < loss && loss < upper
		if isTrade || (snap.Mode == models.ModeTrade && loss < upper*0.8) {
			p.logger.Debugf("[%s] [%s] Current loss: %.2f%%. N: %d. Threshold: %.2f%% ~ %.2f%%. Current price %v.",
				snap.Time.Format("2006-01-02 15:04"), snap.Symbol, loss*100, w.bars, lower*100, upper*100, price)
		}
		if isTrade {
			p.lifecycles.MarkPending(snap.Symbol, snap.Time)
			p.lifecycles.SetMeta(snap.Symbol, metaEntryPrice, price)
			return &models.Intent{Symbol: snap.Symbol, Type: models.BuyToOpen, Percent: 1}
		}
	}
	return nil
}

func (p *H2lHour) closePosition(snap *Snapshot) *models.Intent {
	lc, _ := p.lifecycles.Get(snap.Symbol)
	if snap.Time.Before(lc.EntryTime.Add(h2lHourHold)) && models.ClockOf(snap.Time) < h2lHourExitTime {
		return nil
	}
	p.logger.Debugf("[%s] [%s] Closing position. Entry price %v. Current price %v.",
		snap.Time.Format("2006-01-02 15:04"), snap.Symbol, lc.Meta[metaEntryPrice], snap.Price)
	p.lifecycles.MarkClosing(snap.Symbol)
	return &models.Intent{Symbol: snap.Symbol, Type: models.SellToClose, Percent: 1}
}
