package ledger

import (
	"alpharius-go/internal/models"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndDayMarksToClose(t *testing.T) {
	l := newLedger()
	src := &recordingSource{name: "Overnight"}
	l.OpenAll(t0, []models.Action{
		act(src, "AAPL", models.BuyToOpen, 0.5, 100),
		act(src, "MSFT", models.BuyToOpen, 0.5, 100),
	}, 2)

	report := l.EndDay(day0, map[string]Quote{
		"AAPL": {Close: 110, PrevClose: 100, HasPrev: true},
	})
	require.True(t, report.HasActivity())
	require.Len(t, report.Positions, 2)
	assert.InDelta(t, 0.1, report.Positions[0].Change, 1e-12)
	assert.InDelta(t, 0.1, report.Positions[0].DailyChange, 1e-12)
	assert.False(t, report.Positions[1].HasClose, "no quote falls back to the entry price")

	// AAPL is worth 0.55, MSFT stays at 0.5.
	assert.InDelta(t, 1.05, report.Equity, 1e-12)
	assert.InDelta(t, 0.05, report.DailyPct, 1e-12)
	assert.InDelta(t, 0.05, report.TotalPct, 1e-12)
	assert.Equal(t, []float64{1, report.Equity}, l.DailyEquity())
}

// TestEndDayIdle verifies that a day without trades or positions keeps the equity.
func TestEndDayIdle(t *testing.T) {
	l := newLedger()
	first := l.EndDay(day0, nil)
	second := l.EndDay(day0.AddDate(0, 0, 1), nil)

	assert.False(t, first.HasActivity())
	assert.Equal(t, 1.0, second.Equity)
	assert.Equal(t, 0.0, second.DailyPct)
	assert.Equal(t, []float64{1, 1, 1}, l.DailyEquity())
}

func TestEndDayResetsDayTransactions(t *testing.T) {
	l := newLedger()
	src := &recordingSource{name: "A"}
	l.OpenAll(t0, []models.Action{act(src, "AAPL", models.BuyToOpen, 1, 100)}, 1)
	l.CloseAll(t0, []models.Action{act(src, "AAPL", models.SellToClose, 1, 110)})

	report := l.EndDay(day0, nil)
	require.Len(t, report.Transactions, 1)
	assert.InDelta(t, 1.0989, report.Equity, 1e-9)

	next := l.EndDay(day0.AddDate(0, 0, 1), nil)
	assert.Empty(t, next.Transactions)
	assert.Len(t, l.Transactions(), 1)
}
