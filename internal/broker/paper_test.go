package broker

import (
	"alpharius-go/internal/models"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedPrices map[string]float64

func (p fixedPrices) LatestTrades(_ context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, s := range symbols {
		if v, ok := p[s]; ok {
			out[s] = v
		}
	}
	return out, nil
}

func fixedNow() time.Time {
	return time.Date(2024, 3, 4, 10, 0, 0, 0, models.MarketLocation())
}

func dec(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

// TestPaperGatewayAveragesEntry verifies that adding to a position blends the entry price.
func TestPaperGatewayAveragesEntry(t *testing.T) {
	prices := fixedPrices{"AAPL": 100}
	gw := NewPaperGateway(10000, prices, fixedNow, zap.NewNop().Sugar())
	ctx := context.Background()

	_, err := gw.SubmitOrder(ctx, MarketOrder("AAPL", Buy, nil, dec(1000)))
	require.NoError(t, err)
	prices["AAPL"] = 200
	id, err := gw.SubmitOrder(ctx, MarketOrder("AAPL", Buy, dec(10), nil))
	require.NoError(t, err)

	order, err := gw.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.True(t, order.Filled())

	positions, err := gw.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 20, positions[0].Qty, 1e-9)
	assert.InDelta(t, 150, positions[0].EntryPrice, 1e-9)

	account, err := gw.GetAccount(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 7000, account.Cash, 1e-9)
	assert.InDelta(t, 11000, account.Equity, 1e-9)
}

func TestPaperGatewayShortAndCover(t *testing.T) {
	prices := fixedPrices{"TSLA": 50}
	gw := NewPaperGateway(1000, prices, fixedNow, nil)
	ctx := context.Background()

	_, err := gw.SubmitOrder(ctx, MarketOrder("TSLA", Sell, dec(4), nil))
	require.NoError(t, err)
	positions, _ := gw.ListPositions(ctx)
	require.Len(t, positions, 1)
	assert.Equal(t, -4.0, positions[0].Qty)

	prices["TSLA"] = 40
	_, err = gw.SubmitOrder(ctx, MarketOrder("TSLA", Buy, dec(4), nil))
	require.NoError(t, err)
	positions, _ = gw.ListPositions(ctx)
	assert.Empty(t, positions)

	account, _ := gw.GetAccount(ctx)
	assert.InDelta(t, 1040, account.Cash, 1e-9)
}

func TestPaperGatewayRejects(t *testing.T) {
	gw := NewPaperGateway(1000, fixedPrices{}, fixedNow, nil)
	_, err := gw.SubmitOrder(context.Background(), MarketOrder("NOPE", Buy, dec(1), nil))
	assert.ErrorIs(t, err, models.ErrOrderFailure)

	_, err = gw.GetOrder(context.Background(), "missing")
	assert.Error(t, err)
}

func TestPaperGatewayClock(t *testing.T) {
	gw := NewPaperGateway(0, fixedPrices{}, fixedNow, nil)
	clock, err := gw.GetClock(context.Background())
	require.NoError(t, err)
	assert.True(t, clock.IsOpen)
	assert.Equal(t, 16*time.Hour, models.ClockOf(clock.NextClose))
	assert.Equal(t, 5, clock.NextOpen.Day(), "next open is the following weekday")

	saturday := func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, models.MarketLocation()) }
	gw = NewPaperGateway(0, fixedPrices{}, saturday, nil)
	clock, _ = gw.GetClock(context.Background())
	assert.False(t, clock.IsOpen)
	assert.Equal(t, time.Monday, clock.NextOpen.Weekday())

	days, err := gw.GetCalendar(context.Background(), saturday(), saturday().AddDate(0, 0, 3))
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, time.Monday, days[0].Date.Weekday())
}
