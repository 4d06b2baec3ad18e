package ledger

import (
	"alpharius-go/internal/models"
	"time"
)

// Quote is the daily close of a symbol on the reported day.
type Quote struct {
	Close     float64
	PrevClose float64
	HasPrev   bool
}

type PositionReport struct {
	models.Position
	Close       float64
	HasClose    bool
	DailyChange float64
	HasDaily    bool
	Change      float64
}

// DayReport is the bookkeeping of one trading day.
type DayReport struct {
	Day          time.Time
	Transactions []models.Transaction
	Positions    []PositionReport
	Equity       float64
	DailyPct     float64
	TotalPct     float64
}

// HasActivity reports whether the day closed trades or ended with positions.
func (r DayReport) HasActivity() bool {
	return len(r.Transactions) > 0 || len(r.Positions) > 0
}

// EndDay marks positions to the day's closes, falling back to entry prices,
// appends the equity to the daily series and returns the day's report.
func (l *Ledger) EndDay(day time.Time, quotes map[string]Quote) DayReport {
	report := DayReport{Day: models.MarketDay(day), Transactions: l.dayTransactions}
	l.dayTransactions = nil

	equity := l.cash
	for _, p := range l.positions {
		pr := PositionReport{Position: p}
		price := p.EntryPrice
		if q, ok := quotes[p.Symbol]; ok {
			price = q.Close
			pr.Close, pr.HasClose = q.Close, true
			pr.Change = q.Close/p.EntryPrice - 1
			if q.HasPrev && q.PrevClose != 0 {
				pr.DailyChange, pr.HasDaily = q.Close/q.PrevClose-1, true
			}
		}
		equity += p.Qty * price
		report.Positions = append(report.Positions, pr)
	}

	last := l.dailyEquity[len(l.dailyEquity)-1]
	if last != 0 {
		report.DailyPct = equity/last - 1
	}
	l.dailyEquity = append(l.dailyEquity, equity)
	report.TotalPct = equity/l.dailyEquity[0] - 1
	report.Equity = equity
	return report
}
