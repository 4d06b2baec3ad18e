package processor

import (
	"alpharius-go/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubProcessor returns a fixed intent per snapshot, or panics when asked to.
type stubProcessor struct {
	Base
	panics bool
}

func newStub(panics bool) *stubProcessor {
	return &stubProcessor{Base: NewBase("Stub", zap.NewNop().Sugar()), panics: panics}
}

func (s *stubProcessor) Cadence() models.Cadence { return models.FiveMin }

func (s *stubProcessor) StockUniverse(time.Time) []string { return nil }

func (s *stubProcessor) Evaluate(snap *Snapshot) *models.Intent {
	if s.panics {
		var m map[string]int
		m[snap.Symbol]++
	}
	if snap.Symbol == "SKIP" {
		return nil
	}
	return &models.Intent{Symbol: snap.Symbol, Type: models.BuyToOpen, Percent: 0.5}
}

func TestSafeEvaluate(t *testing.T) {
	snaps := []*Snapshot{{Symbol: "AAPL"}, {Symbol: "SKIP"}, {Symbol: "MSFT"}}

	res := SafeEvaluate(newStub(false), snaps)
	require.NoError(t, res.Err)
	assert.Equal(t, "Stub", res.Processor)
	require.Len(t, res.Intents, 2)
	assert.Equal(t, "MSFT", res.Intents[1].Symbol)

	res = SafeEvaluate(newStub(true), snaps)
	assert.ErrorIs(t, res.Err, models.ErrStrategyFault)
	assert.Empty(t, res.Intents)
}

func TestBaseOnOpenConfirmed(t *testing.T) {
	s := newStub(false)
	s.Lifecycles().MarkPending("AAPL", testDay)
	s.OnOpenConfirmed("AAPL")
	assert.True(t, s.IsActive("AAPL"))

	s.OnOpenConfirmed("MSFT")
	assert.False(t, s.IsActive("MSFT"), "unknown symbols are ignored")
}
