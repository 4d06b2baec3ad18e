package processor

import (
	"alpharius-go/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotHelpers(t *testing.T) {
	interday := dailyBars(25, func(i int) models.Bar {
		if i%2 == 0 {
			return models.Bar{Open: 100, High: 101, Low: 99, Close: 100}
		}
		return models.Bar{Open: 100, High: 102, Low: 98, Close: 101}
	})
	premarket := models.Bar{Time: models.MarketOpen(testDay).Add(-30 * time.Minute), Open: 99, Close: 99}
	intraday := append(models.Series{premarket}, sessionBars([]float64{100.5, 101}, []float64{101, 102})...)

	snap := &Snapshot{Symbol: "AAPL", Interday: interday, Intraday: intraday, Price: 102}
	assert.Equal(t, 100.0, snap.PrevDayClose())

	i, ok := snap.MarketOpenIndex()
	require.True(t, ok)
	assert.Equal(t, 1, i, "pre-market bars are skipped")
	open, ok := snap.TodayOpen()
	require.True(t, ok)
	assert.Equal(t, 100.5, open)

	h2l := []float64{99.0/101 - 1, 98.0/102 - 1}
	assert.InDelta(t, (h2l[0]+h2l[1])/2, snap.H2lAvg(), 1e-9)
	assert.InDelta(t, (h2l[0]-h2l[1])/2, snap.H2lStd(), 1e-9)
	assert.InDelta(t, ((101.0/99-1)+(102.0/98-1))/2, snap.L2hAvg(), 1e-9)
}

func TestSnapshotWithoutSession(t *testing.T) {
	snap := &Snapshot{Symbol: "AAPL"}
	_, ok := snap.TodayOpen()
	assert.False(t, ok)
	assert.Equal(t, 0.0, snap.PrevDayClose())
	assert.Equal(t, 0.0, snap.H2lStd())
}

func TestIndicators(t *testing.T) {
	assert.InDelta(t, 2.5, mean([]float64{1, 2, 3, 4}), 1e-12)
	assert.InDelta(t, 1.118033988, stdDev([]float64{1, 2, 3, 4}), 1e-8)
	assert.Equal(t, 0.0, stdDev([]float64{5}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 3, 2}))
	assert.Equal(t, 3.0, median([]float64{5, 1, 3}))
	assert.Equal(t, 1.0, minimum([]float64{4, 1, 3}))
}
