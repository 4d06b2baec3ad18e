package processor

import (
	"alpharius-go/internal/models"
	"time"

	"go.uber.org/zap"
)

// Processor is a stateful trading strategy driven by the execution clock.
type Processor interface {
	Name() string
	Cadence() models.Cadence
	// StockUniverse lists the symbols to build snapshots for on the date of asOf.
	StockUniverse(asOf time.Time) []string
	// Evaluate returns the intent for one symbol, or nil.
	Evaluate(snap *Snapshot) *models.Intent
	// OnOpenConfirmed is called once the open intent for symbol has been taken.
	OnOpenConfirmed(symbol string)
	// ResetForSession runs once per trading day before any evaluation.
	ResetForSession(held []models.Position, asOf time.Time)
	Teardown()
}

// BatchEvaluator is implemented by processors that rank symbols against each other.
type BatchEvaluator interface {
	EvaluateBatch(snaps []*Snapshot) []models.Intent
}

// EvaluateBatch evaluates every snapshot, preferring the processor's own batch logic.
func EvaluateBatch(p Processor, snaps []*Snapshot) []models.Intent {
	if b, ok := p.(BatchEvaluator); ok {
		return b.EvaluateBatch(snaps)
	}
	var intents []models.Intent
	for _, snap := range snaps {
		if intent := p.Evaluate(snap); intent != nil {
			intents = append(intents, *intent)
		}
	}
	return intents
}

// Base carries the name, logger and lifecycle records shared by all strategies.
type Base struct {
	name       string
	logger     *zap.SugaredLogger
	lifecycles *Lifecycles
}

func NewBase(name string, logger *zap.SugaredLogger) Base {
	return Base{name: name, logger: logger, lifecycles: NewLifecycles()}
}

func (b *Base) Name() string {
	return b.name
}

func (b *Base) Lifecycles() *Lifecycles {
	return b.lifecycles
}

func (b *Base) OnOpenConfirmed(symbol string) {
	if b.lifecycles.Confirm(symbol) {
		b.logger.Debugf("[%s] acked.", symbol)
	}
}

// ResetForSession drops every record that never became active.
func (b *Base) ResetForSession(_ []models.Position, _ time.Time) {
	b.lifecycles.Prune()
}

func (b *Base) Teardown() {
	_ = b.logger.Sync()
}

func (b *Base) IsActive(symbol string) bool {
	return b.lifecycles.Status(symbol) == StatusActive
}
