// Package ledger simulates the portfolio of a backtest: cash, positions,
// capital fractions and per-processor statistics, with bid/ask spread and
// short reserve frictions.
package ledger

import (
	"alpharius-go/internal/models"
	"alpharius-go/internal/resolver"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
)

// ProcessorStats tracks the compounded profit and win/lose counts of one processor.
type ProcessorStats struct {
	Profit  float64
	NumWin  int
	NumLose int
}

type Stats struct {
	NumWin      int
	NumLose     int
	ByProcessor map[string]*ProcessorStats
}

// ProcessorNames returns the processors that have closed at least one trade, sorted.
func (s Stats) ProcessorNames() []string {
	names := make([]string, 0, len(s.ByProcessor))
	for name := range s.ByProcessor {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ledger starts with cash 1 and all capital fractions in the cash pool.
type Ledger struct {
	cash        float64
	cashPortion float64
	positions   []models.Position
	ackAll      bool

	stats           Stats
	transactions    []models.Transaction
	dayTransactions []models.Transaction
	dailyEquity     []float64

	logger *zap.SugaredLogger
}

func New(ackAll bool, logger *zap.SugaredLogger) *Ledger {
	return &Ledger{
		cash:        1,
		cashPortion: 1,
		ackAll:      ackAll,
		stats:       Stats{ByProcessor: make(map[string]*ProcessorStats)},
		dailyEquity: []float64{1},
		logger:      logger,
	}
}

// Apply executes a resolution at now: closes first, then opens.
func (l *Ledger) Apply(now time.Time, res resolver.Resolution) []models.Transaction {
	executed := l.CloseAll(now, res.Closes)
	l.OpenAll(now, res.Opens, res.OpenSlots())
	return executed
}

func (l *Ledger) indexOf(symbol string) int {
	for i, p := range l.positions {
		if p.Symbol == symbol {
			return i
		}
	}
	return -1
}

func (l *Ledger) remove(i int) models.Position {
	p := l.positions[i]
	l.positions = append(l.positions[:i], l.positions[i+1:]...)
	return p
}

func (l *Ledger) processorStats(name string) *ProcessorStats {
	s, ok := l.stats.ByProcessor[name]
	if !ok {
		s = &ProcessorStats{}
		l.stats.ByProcessor[name] = s
	}
	return s
}

// CloseAll closes the given fractions of existing positions at the action
// prices adjusted by the spread. Actions without a position, or whose
// direction does not match the position, are skipped.
func (l *Ledger) CloseAll(now time.Time, actions []models.Action) []models.Transaction {
	var executed []models.Transaction
	oneTimeProfit := make(map[string]float64)
	for _, a := range actions {
		i := l.indexOf(a.Symbol)
		if i < 0 {
			continue
		}
		current := l.positions[i]
		if a.Type == models.BuyToClose && current.Qty > 0 {
			continue
		}
		if a.Type == models.SellToClose && current.Qty < 0 {
			continue
		}
		l.remove(i)

		qty := current.Qty * a.Percent
		portion := current.EntryPortion * a.Percent
		l.cashPortion += portion
		if newQty := current.Qty - qty; math.Abs(newQty) > models.Epsilon {
			l.positions = append(l.positions, models.Position{
				Symbol:       a.Symbol,
				Qty:          newQty,
				EntryPrice:   current.EntryPrice,
				EntryTime:    current.EntryTime,
				EntryPortion: current.EntryPortion - portion,
			})
		}

		adjusted := a.Price * (1 + models.BidAskSpread)
		if a.Type == models.SellToClose {
			adjusted = a.Price * (1 - models.BidAskSpread)
		}
		l.cash += adjusted * qty
		profit := adjusted/current.EntryPrice - 1
		if a.Type == models.BuyToClose {
			profit = -profit
		}

		name := a.ProcessorName()
		stats := l.processorStats(name)
		if profit > 0 {
			l.stats.NumWin++
			stats.NumWin++
		} else {
			l.stats.NumLose++
			stats.NumLose++
		}
		oneTimeProfit[name] += portion * profit

		executed = append(executed, models.Transaction{
			ID:         models.TransactionID(a.Symbol, now),
			Symbol:     a.Symbol,
			IsLong:     a.Type == models.SellToClose,
			Processor:  name,
			EntryPrice: current.EntryPrice,
			ExitPrice:  a.Price,
			EntryTime:  current.EntryTime,
			ExitTime:   now,
			Qty:        qty,
			GL:         profit * qty * current.EntryPrice,
			GLPct:      profit,
		})
	}
	for name, profit := range oneTimeProfit {
		stats := l.processorStats(name)
		stats.Profit = (stats.Profit+1)*(1+profit) - 1
	}
	l.transactions = append(l.transactions, executed...)
	l.dayTransactions = append(l.dayTransactions, executed...)
	return executed
}

// TradableCash is the cash less the reserve held against open shorts, never negative.
func (l *Ledger) TradableCash() float64 {
	tradable := l.cash
	for _, p := range l.positions {
		if p.Qty < 0 {
			tradable += p.EntryPrice * p.Qty * (1 + models.ShortReserveRatio)
		}
	}
	return math.Max(tradable, 0)
}

// OpenAll opens positions. slots is the number of open candidates at this
// tick; each action gets at most 1/slots of the tradable cash. Symbols that
// appear more than once are skipped.
func (l *Ledger) OpenAll(now time.Time, actions []models.Action, slots int) {
	if len(actions) == 0 {
		return
	}
	if slots < len(actions) {
		slots = len(actions)
	}
	tradable := l.TradableCash()
	cashPortion := l.cashPortion
	counts := make(map[string]int, len(actions))
	for _, a := range actions {
		counts[a.Symbol]++
	}

	for _, a := range actions {
		if counts[a.Symbol] > 1 {
			continue
		}
		portion := math.Min(1/float64(slots), a.Percent)
		cashToTrade := tradable * portion
		negligible := cashToTrade <= models.Epsilon
		if negligible && !l.ackAll {
			continue
		}
		if a.Source != nil {
			a.Source.OnOpenConfirmed(a.Symbol)
		}
		if negligible {
			continue
		}

		entryPortion := cashPortion * portion
		l.cashPortion -= entryPortion
		qty := cashToTrade / a.Price
		if a.Type == models.SellToOpen {
			qty = -qty
		}

		entryPrice, newQty := a.Price, qty
		if i := l.indexOf(a.Symbol); i >= 0 {
			old := l.remove(i)
			newQty = old.Qty + qty
			entryPortion += old.EntryPortion
			if math.Abs(newQty) > models.Epsilon {
				entryPrice = (old.EntryPrice*old.Qty + a.Price*qty) / newQty
			}
		}
		l.cash -= a.Price * qty
		if math.Abs(newQty) <= models.Epsilon {
			l.cashPortion += entryPortion
			continue
		}
		l.positions = append(l.positions, models.Position{
			Symbol:       a.Symbol,
			Qty:          newQty,
			EntryPrice:   entryPrice,
			EntryTime:    now,
			EntryPortion: entryPortion,
		})
	}
}

// CheckInvariants verifies that capital fractions add up to one, that each of
// them is in range and that no position is left with a negligible quantity.
func (l *Ledger) CheckInvariants() error {
	if l.cashPortion < -models.Epsilon || l.cashPortion > 1+models.Epsilon {
		return fmt.Errorf("%w: cash portion %.9f outside [0, 1]", models.ErrLedgerInvariant, l.cashPortion)
	}
	total := l.cashPortion
	for _, p := range l.positions {
		if math.Abs(p.Qty) <= models.Epsilon {
			return fmt.Errorf("%w: residual position %s qty=%g", models.ErrLedgerInvariant, p.Symbol, p.Qty)
		}
		if p.EntryPortion <= 0 {
			return fmt.Errorf("%w: position %s holds portion %g", models.ErrLedgerInvariant, p.Symbol, p.EntryPortion)
		}
		total += p.EntryPortion
	}
	if math.Abs(total-1) > models.Epsilon {
		return fmt.Errorf("%w: capital fractions sum to %.9f", models.ErrLedgerInvariant, total)
	}
	return nil
}

func (l *Ledger) Cash() float64 {
	return l.cash
}

func (l *Ledger) CashPortion() float64 {
	return l.cashPortion
}

// Positions returns a copy of the open positions in the order they were (re)opened.
func (l *Ledger) Positions() []models.Position {
	return append([]models.Position(nil), l.positions...)
}

func (l *Ledger) Position(symbol string) (models.Position, bool) {
	if i := l.indexOf(symbol); i >= 0 {
		return l.positions[i], true
	}
	return models.Position{}, false
}

func (l *Ledger) Stats() Stats {
	return l.stats
}

func (l *Ledger) Transactions() []models.Transaction {
	return l.transactions
}

// DailyEquity starts with the initial equity of 1, followed by one entry per EndDay.
func (l *Ledger) DailyEquity() []float64 {
	return l.dailyEquity
}
