// Package resolver merges the actions of all processors at one tick into a
// consistent set: one action per (symbol, type), and no symbol opened in both
// directions.
package resolver

import (
	"alpharius-go/internal/models"
	"sort"

	"go.uber.org/zap"
)

// Resolution is the output of Resolve; closes are applied before opens.
type Resolution struct {
	Closes        []models.Action
	Opens         []models.Action
	Controversial []models.Action
}

// OpenSlots is the number of open candidates at this tick, used to size each open.
// Suppressed controversial opens still take a slot.
func (r Resolution) OpenSlots() int {
	return len(r.Opens) + len(r.Controversial)
}

func (r Resolution) Empty() bool {
	return len(r.Closes) == 0 && len(r.Opens) == 0
}

type actionKey struct {
	symbol string
	typ    models.ActionType
}

// Resolve keeps the largest percent per (symbol, type) with the first seen
// winning ties, orders the result by (symbol, type) and moves symbols with
// both BUY_TO_OPEN and SELL_TO_OPEN into Controversial.
func Resolve(actions []models.Action, logger *zap.SugaredLogger) Resolution {
	best := make(map[actionKey]models.Action, len(actions))
	for _, a := range actions {
		k := actionKey{a.Symbol, a.Type}
		if cur, ok := best[k]; !ok || a.Percent > cur.Percent {
			best[k] = a
		}
	}

	unique := make([]models.Action, 0, len(best))
	for _, a := range best {
		unique = append(unique, a)
	}
	sort.Slice(unique, func(i, j int) bool {
		if unique[i].Symbol != unique[j].Symbol {
			return unique[i].Symbol < unique[j].Symbol
		}
		return unique[i].Type < unique[j].Type
	})

	opensPerSymbol := make(map[string]int)
	for _, a := range unique {
		if a.Type.IsOpen() {
			opensPerSymbol[a.Symbol]++
		}
	}

	var res Resolution
	for _, a := range unique {
		switch {
		case a.Type.IsClose():
			res.Closes = append(res.Closes, a)
		case opensPerSymbol[a.Symbol] > 1:
			res.Controversial = append(res.Controversial, a)
		default:
			res.Opens = append(res.Opens, a)
		}
	}
	if len(res.Controversial) > 0 && logger != nil {
		logger.Debugw("Suppressed conflicting opens", "actions", len(res.Controversial), "error", models.ErrConflictingSignal)
	}
	return res
}
