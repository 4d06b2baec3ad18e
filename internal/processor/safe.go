package processor

import (
	"alpharius-go/internal/models"
	"fmt"
	"runtime/debug"
)

// Result is the outcome of evaluating one processor at one tick.
type Result struct {
	Processor string
	Intents   []models.Intent
	Err       error
}

// SafeEvaluate runs EvaluateBatch and turns a panic into an ErrStrategyFault result.
func SafeEvaluate(p Processor, snaps []*Snapshot) (res Result) {
	res.Processor = p.Name()
	defer func() {
		if r := recover(); r != nil {
			res.Intents = nil
			res.Err = fmt.Errorf("%w: %s: %v\n%s", models.ErrStrategyFault, p.Name(), r, debug.Stack())
		}
	}()
	res.Intents = EvaluateBatch(p, snaps)
	return res
}
