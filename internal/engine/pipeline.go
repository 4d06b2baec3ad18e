// Package engine drives processors through a trading day, either replayed from
// historical bars (Backtest) or against a brokerage in real time (Live). Both
// drivers share the tick pipeline in this file.
package engine

import (
	"alpharius-go/internal/models"
	"alpharius-go/internal/processor"
	"sort"
	"time"

	"go.uber.org/zap"
)

// DueCadences returns the cadences processed at the tick ending at now.
// FIVE_MIN is always due, CLOSE_TO_OPEN joins at the first tick of the session
// and both daily cadences join at the close.
func DueCadences(now, open, closeAt time.Time) []models.Cadence {
	switch {
	case now.Equal(closeAt):
		return []models.Cadence{models.FiveMin, models.CloseToOpen, models.CloseToClose}
	case now.Equal(open.Add(models.Interval)):
		return []models.Cadence{models.FiveMin, models.CloseToOpen}
	}
	return []models.Cadence{models.FiveMin}
}

func dueProcessors(processors []processor.Processor, due []models.Cadence) []processor.Processor {
	var out []processor.Processor
	for _, p := range processors {
		for _, c := range due {
			if p.Cadence() == c {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// neededSymbols is the sorted union of the universes of processors.
func neededSymbols(processors []processor.Processor, universes map[string][]string) []string {
	seen := make(map[string]struct{})
	for _, p := range processors {
		for _, s := range universes[p.Name()] {
			seen[s] = struct{}{}
		}
	}
	symbols := make([]string, 0, len(seen))
	for s := range seen {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// evaluate runs every processor over the snapshots of its universe and prices
// the intents at the snapshot price. A faulty processor is logged and skipped,
// and so is any intent whose percent is outside (0, 1].
func evaluate(processors []processor.Processor, universes map[string][]string, snaps map[string]*processor.Snapshot,
	profile *Profile, logger *zap.SugaredLogger) []models.Action {
	var actions []models.Action
	for _, p := range processors {
		var batch []*processor.Snapshot
		for _, symbol := range universes[p.Name()] {
			if snap, ok := snaps[symbol]; ok {
				batch = append(batch, snap)
			}
		}

		begin := time.Now()
		res := processor.SafeEvaluate(p, batch)
		if profile != nil {
			profile.AddProcessor(p.Name(), time.Since(begin))
		}
		if res.Err != nil {
			logger.Errorw("Processor failed", "processor", p.Name(), "error", res.Err)
			continue
		}

		for _, intent := range res.Intents {
			if !(intent.Percent > 0 && intent.Percent <= 1) {
				logger.Errorw("Intent percent out of range", "processor", p.Name(), "symbol", intent.Symbol,
					"percent", intent.Percent, "error", models.ErrStrategyFault)
				continue
			}
			snap, ok := snaps[intent.Symbol]
			if !ok {
				logger.Warnw("Intent for a symbol without snapshot", "processor", p.Name(), "symbol", intent.Symbol)
				continue
			}
			actions = append(actions, models.Action{
				Symbol:  intent.Symbol,
				Type:    intent.Type,
				Percent: intent.Percent,
				Price:   snap.Price,
				Source:  p,
			})
		}
	}
	return actions
}

// loadUniverses asks every processor for its symbols on day.
func loadUniverses(processors []processor.Processor, day time.Time) map[string][]string {
	universes := make(map[string][]string, len(processors))
	for _, p := range processors {
		universes[p.Name()] = p.StockUniverse(day)
	}
	return universes
}
