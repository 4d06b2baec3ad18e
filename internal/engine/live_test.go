package engine

import (
	"alpharius-go/internal/broker"
	"alpharius-go/internal/models"
	"alpharius-go/internal/processor"
	"alpharius-go/internal/recorder"
	"alpharius-go/internal/storage"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeClock advances only when slept on.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return nil
}

// clockPrices quotes every symbol at price(now).
type clockPrices struct {
	clock *fakeClock
	price func(time.Time) float64
}

func (p clockPrices) LatestTrades(_ context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		out[s] = p.price(p.clock.Now())
	}
	return out, nil
}

// rejectingGateway refuses every order permanently.
type rejectingGateway struct {
	*broker.PaperGateway
}

func (rejectingGateway) SubmitOrder(context.Context, broker.OrderRequest) (string, error) {
	return "", &models.Error{Status: 403, Code: 40310000, Msg: "account is not allowed to short"}
}

func decimalPtr(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

type liveFixture struct {
	clock  *fakeClock
	paper  *broker.PaperGateway
	prices clockPrices
	feed   *mockFeed
}

// newLiveFixture prices AAPL at 100 until 15:55 and at 110 afterwards.
func newLiveFixture(start time.Time) *liveFixture {
	clock := &fakeClock{t: start}
	prices := clockPrices{clock: clock, price: func(t time.Time) float64 {
		if t.Before(at(monday, 15, 55)) {
			return 100
		}
		return 110
	}}
	feed := &mockFeed{
		interday: map[string]models.Series{"AAPL": dailyBars(monday.AddDate(0, 0, -30), monday.AddDate(0, 0, -1), 100)},
		intraday: func(symbol string, day time.Time) models.Series {
			now := clock.Now()
			return sessionBars(day, func(time.Time) float64 { return 100 }).Before(now.Add(-models.Interval))
		},
	}
	return &liveFixture{
		clock:  clock,
		paper:  broker.NewPaperGateway(10000, prices, clock.Now, zap.NewNop().Sugar()),
		prices: prices,
		feed:   feed,
	}
}

func (f *liveFixture) live(t *testing.T, gw broker.Gateway, rec *recorder.Recorder, stubs ...*stubProcessor) *Live {
	registry, configs := registryOf(stubs...)
	return NewLive(LiveConfig{
		Symbols:      []string{"AAPL"},
		Processors:   configs,
		OutputRoot:   t.TempDir(),
		AccountRetry: broker.RetryPolicy{Attempts: 1},
		OrderRetry:   broker.RetryPolicy{Attempts: 2, Initial: time.Millisecond},
	}, gw, f.feed, f.prices, registry, rec, zap.NewNop().Sugar()).WithClock(f.clock.Now, f.clock.Sleep)
}

// TestLiveSession runs the last quarter hour of a session against the paper broker.
func TestLiveSession(t *testing.T) {
	f := newLiveFixture(at(monday, 15, 44))
	stub := newStub("Stub", models.FiveMin, []string{"AAPL"}, intents(
		intentAt(at(monday, 15, 50), "AAPL", models.BuyToOpen),
		intentAt(at(monday, 16, 0), "AAPL", models.SellToClose),
	))

	dsn := filepath.Join(t.TempDir(), "trading.db")
	store, err := storage.NewSQLiteStore(dsn)
	require.NoError(t, err)
	rec := recorder.New(store, zap.NewNop().Sugar())
	rec.Start()

	l := f.live(t, f.paper, rec, stub)
	require.NoError(t, l.Run(context.Background()))
	rec.Stop(5 * time.Second)

	var ticks []time.Time
	for _, s := range stub.seen {
		ticks = append(ticks, s.Time)
		assert.Equal(t, models.ModeTrade, s.Mode)
	}
	assert.Equal(t, []time.Time{at(monday, 15, 45), at(monday, 15, 50), at(monday, 15, 55), at(monday, 16, 0)}, ticks)
	assert.Equal(t, 110.0, stub.seen[3].Price, "the last close is patched with the latest trade")
	assert.Equal(t, []string{"AAPL"}, stub.acked)

	ctx := context.Background()
	positions, err := f.paper.ListPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
	account, err := f.paper.GetAccount(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 11000, account.Cash, 1e-6)

	store, err = storage.NewSQLiteStore(dsn)
	require.NoError(t, err)
	defer store.Close()
	txs, err := store.Transactions(ctx, monday, tuesday)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	tx := txs[0]
	assert.Equal(t, "Stub", tx.Processor)
	assert.True(t, tx.IsLong)
	assert.InDelta(t, 100, tx.EntryPrice, 1e-9)
	assert.InDelta(t, 110, tx.ExitPrice, 1e-9)
	assert.InDelta(t, 1000, tx.GL, 1e-6)
	assert.InDelta(t, 0.1, tx.GLPct, 1e-9)
	assert.Nil(t, tx.Slippage, "a fill at the intended price has no slippage")

	aggs, err := store.Aggregations(ctx)
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	assert.Equal(t, 1, aggs[0].WinCount)

	content, err := store.Log(ctx, monday, "Trading")
	require.NoError(t, err)
	assert.Contains(t, content, "Process starts for [16:00:00]")
}

func TestLiveSkipsClosedMarket(t *testing.T) {
	saturday := monday.AddDate(0, 0, 5)
	f := newLiveFixture(at(saturday, 10, 0))
	stub := newStub("Stub", models.FiveMin, []string{"AAPL"}, nil)

	require.NoError(t, f.live(t, f.paper, nil, stub).Run(context.Background()))
	assert.Empty(t, stub.resets)
}

func TestLiveSkipsEarlyStart(t *testing.T) {
	f := newLiveFixture(at(monday, 7, 0))
	stub := newStub("Stub", models.FiveMin, []string{"AAPL"}, nil)

	require.NoError(t, f.live(t, f.paper, nil, stub).Run(context.Background()))
	assert.Empty(t, stub.resets)
}

func TestLiveInterrupted(t *testing.T) {
	f := newLiveFixture(at(monday, 9, 0))
	stub := newStub("Stub", models.FiveMin, []string{"AAPL"}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	l := f.live(t, f.paper, nil, stub)
	l.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	require.NoError(t, l.Run(ctx))
	assert.Len(t, stub.resets, 1, "processors are set up before waiting for the open")
	assert.Empty(t, stub.seen)
}

func TestLiveClosesOnlyMatchingSide(t *testing.T) {
	f := newLiveFixture(at(monday, 10, 0))
	ctx := context.Background()
	_, err := f.paper.SubmitOrder(ctx, broker.MarketOrder("AAPL", broker.Buy, nil, decimalPtr(1000)))
	require.NoError(t, err)

	l := f.live(t, f.paper, nil)
	src := newStub("Stub", models.FiveMin, nil, nil)
	closes := []models.Action{
		{Symbol: "AAPL", Type: models.BuyToClose, Percent: 1, Price: 100, Source: src},
		{Symbol: "MSFT", Type: models.SellToClose, Percent: 1, Price: 400, Source: src},
	}
	assert.Empty(t, l.closePositions(ctx, closes, at(monday, 10, 0)))

	positions, err := f.paper.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 10, positions[0].Qty, 1e-9)

	half := []models.Action{{Symbol: "AAPL", Type: models.SellToClose, Percent: 0.5, Price: 100, Source: src}}
	txs := l.closePositions(ctx, half, at(monday, 10, 0))
	require.Len(t, txs, 1)
	assert.InDelta(t, 5, txs[0].Qty, 1e-9)
	assert.True(t, txs[0].EntryTime.Equal(l.open), "entries from an earlier session fall back to the open")
}

func TestLiveAcksOnlySubmittedOpens(t *testing.T) {
	f := newLiveFixture(at(monday, 10, 0))
	ctx := context.Background()
	src := newStub("Stub", models.FiveMin, nil, nil)

	l := f.live(t, rejectingGateway{f.paper}, nil)
	l.openPositions(ctx, []models.Action{{Symbol: "AAPL", Type: models.SellToOpen, Percent: 1, Price: 100, Source: src}}, 1, at(monday, 10, 0))
	assert.Empty(t, src.acked, "a rejected order is not acknowledged")

	l = f.live(t, f.paper, nil)
	l.openPositions(ctx, []models.Action{{Symbol: "AAPL", Type: models.SellToOpen, Percent: 1, Price: 1e6, Source: src}}, 1, at(monday, 10, 0))
	assert.Empty(t, src.acked, "no whole share can be sold short")

	l.openPositions(ctx, []models.Action{{Symbol: "AAPL", Type: models.SellToOpen, Percent: 0.5, Price: 100, Source: src}}, 1, at(monday, 10, 0))
	assert.Equal(t, []string{"AAPL"}, src.acked)
	positions, err := f.paper.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, -50, positions[0].Qty, 1e-9)
}

func TestLiveSkipsNegligibleOpens(t *testing.T) {
	f := newLiveFixture(at(monday, 10, 0))
	ctx := context.Background()
	src := newStub("Stub", models.FiveMin, nil, nil)

	l := f.live(t, f.paper, nil)
	l.cfg.CashReserve = 9950
	l.openPositions(ctx, []models.Action{{Symbol: "AAPL", Type: models.BuyToOpen, Percent: 0.005, Price: 100, Source: src}}, 1, at(monday, 10, 0))
	assert.Empty(t, src.acked, "0.25 of tradable cash is under 1% of the equity net of reserve")
}

// TestLiveTradableCash checks the short collateral: qty -5 at 50 holds back 500.
func TestLiveTradableCash(t *testing.T) {
	l := NewLive(LiveConfig{CashReserve: 100}, nil, nil, nil, nil, nil, zap.NewNop().Sugar())
	l.cash = 1000
	l.positions = []models.Position{{Symbol: "TSLA", Qty: -5, EntryPrice: 50}, {Symbol: "AAPL", Qty: 3, EntryPrice: 100}}
	assert.InDelta(t, 400, l.tradableCash(), 1e-9)

	l.cash = 200
	assert.Zero(t, l.tradableCash())
}

func TestLiveRefreshPatchesLastClose(t *testing.T) {
	f := newLiveFixture(at(monday, 15, 56))
	l := f.live(t, f.paper, nil)
	l.today = monday
	l.refreshIntraday(context.Background(), []string{"AAPL"})

	series := l.intraday["AAPL"]
	require.NotEmpty(t, series)
	assert.Equal(t, 110.0, series.Last().Close)
	assert.Equal(t, 100.0, series[0].Close)
}

var _ processor.Processor = (*stubProcessor)(nil)
