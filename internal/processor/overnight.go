package processor

import (
	"alpharius-go/internal/models"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

const OvernightName = "Overnight"

type OvernightOptions struct {
	UniverseSize int `json:"universe_size"`
	Picks        int `json:"picks"`
}

// Overnight buys the stocks with the strongest close-to-open drift at the
// close and sells everything it holds shortly after the next open.
type Overnight struct {
	Base
	universe        Universe
	picks           int
	held            []models.Position
	universeSymbols map[string]bool
}

func NewOvernight(cfg Config) (Processor, error) {
	opts := OvernightOptions{UniverseSize: 200, Picks: 5}
	if err := cfg.decodeOptions(OvernightName, &opts); err != nil {
		return nil, err
	}
	return &Overnight{
		Base:     NewBase(OvernightName, cfg.loggerFor(OvernightName)),
		universe: NewTopVolumeUniverse(cfg.Interday, opts.UniverseSize),
		picks:    opts.Picks,
	}, nil
}

func (p *Overnight) Cadence() models.Cadence {
	return models.CloseToOpen
}

func (p *Overnight) ResetForSession(held []models.Position, _ time.Time) {
	p.held = append([]models.Position(nil), held...)
}

func (p *Overnight) StockUniverse(asOf time.Time) []string {
	symbols := p.universe.Symbols(asOf)
	p.universeSymbols = make(map[string]bool, len(symbols))
	for _, s := range symbols {
		p.universeSymbols[s] = true
	}
	held := make([]string, len(p.held))
	for i, pos := range p.held {
		held[i] = pos.Symbol
	}
	return union(held, symbols)
}

// Evaluate is unused; the processor only ranks whole batches.
func (p *Overnight) Evaluate(*Snapshot) *models.Intent {
	return nil
}

func (p *Overnight) EvaluateBatch(snaps []*Snapshot) []models.Intent {
	if len(snaps) == 0 {
		return nil
	}
	prices := make(map[string]float64, len(snaps))
	for _, snap := range snaps {
		prices[snap.Symbol] = snap.Price
	}
	now := snaps[0].Time

	if models.ClockOf(now) < 10*time.Hour {
		var intents []models.Intent
		for _, pos := range p.held {
			if _, ok := prices[pos.Symbol]; !ok {
				p.logger.Warnf("Position [%s] not found in snapshots", pos.Symbol)
				continue
			}
			action := models.SellToClose
			if pos.Qty < 0 {
				action = models.BuyToClose
			}
			intents = append(intents, models.Intent{Symbol: pos.Symbol, Type: action, Percent: 1})
		}
		return intents
	}

	var performances []scored
	for _, snap := range snaps {
		if p.universeSymbols[snap.Symbol] {
			performances = append(performances, scored{symbol: snap.Symbol, score: overnightPerformance(snap)})
		}
	}
	sort.SliceStable(performances, func(i, j int) bool { return performances[i].score > performances[j].score })
	p.logPerformances(performances, prices, now)

	var intents []models.Intent
	for i := 0; i < len(performances) && i < p.picks; i++ {
		if performances[i].score > 0 {
			intents = append(intents, models.Intent{Symbol: performances[i].symbol, Type: models.BuyToOpen, Percent: 1})
		}
	}
	return intents
}

func (p *Overnight) logPerformances(performances []scored, prices map[string]float64, now time.Time) {
	tw := table.NewWriter()
	tw.SetTitle(fmt.Sprintf("Metric Info %s", now.Format("2006-01-02")))
	tw.AppendHeader(table.Row{"Symbol", "Price", "Performance"})
	for i := 0; i < len(performances) && i < p.picks+15; i++ {
		tw.AppendRow(table.Row{performances[i].symbol, prices[performances[i].symbol], performances[i].score})
	}
	p.logger.Debug("\n" + tw.Render())
}

// overnightPerformance scores a symbol by its trimmed yearly sum of overnight
// log returns plus weighted quarterly and weekly sums. Zero means "skip".
func overnightPerformance(snap *Snapshot) float64 {
	if len(snap.Interday) < models.DaysInAYear {
		return 0
	}
	year := snap.Interday.Tail(models.DaysInAYear)
	closes, opens := year.Closes(), year.Opens()
	week := closes[len(closes)-models.DaysInAWeek]
	if snap.Price/week-1 < -0.5 {
		return 0
	}

	values := append(append([]float64(nil), closes...), snap.Price)
	profits := make([]float64, len(values)-1)
	for i := range profits {
		profits[i] = math.Log(values[i+1] / values[i])
	}
	r, std := mean(profits), stdDev(profits)
	if std > 0 && (profits[len(profits)-1]-r)/std < -1 {
		return 0
	}

	todayOpen, ok := snap.TodayOpen()
	if !ok {
		return 0
	}
	// Pair each close with the next day's open.
	nextOpens := append(append([]float64(nil), opens[1:]...), todayOpen)
	overnight := make([]float64, len(closes))
	for i := range closes {
		overnight[i] = math.Log(nextOpens[i] / closes[i])
	}
	quarterly := sum(overnight[len(overnight)-models.DaysInAQuarter:])
	weekly := sum(overnight[len(overnight)-models.DaysInAWeek:])
	last := closes[len(closes)-1]
	if (quarterly < 0 || last < closes[len(closes)-models.DaysInAMonth]) &&
		(weekly < 0 || last < closes[len(closes)-models.DaysInAWeek]) {
		return 0
	}
	sorted := append([]float64(nil), overnight...)
	sort.Float64s(sorted)
	yearly := sum(sorted[25 : len(sorted)-25])
	return yearly + 0.3*quarterly + 0.3*weekly
}
