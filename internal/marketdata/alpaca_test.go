package marketdata

import (
	"alpharius-go/internal/models"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFeed(t *testing.T, handler http.HandlerFunc) *AlpacaFeed {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewAlpacaFeed(models.BrokerConfig{
		DataURL:           server.URL,
		DataFeed:          "iex",
		RequestsPerMinute: 60000,
		APIKeyID:          "key",
		APISecretKey:      "secret",
	}, zap.NewNop().Sugar())
}

// TestAlpacaInterdayPaginates verifies page tokens are followed and daily times are normalised.
func TestAlpacaInterdayPaginates(t *testing.T) {
	var pages int
	feed := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/stocks/AAPL/bars", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		assert.Equal(t, "secret", r.Header.Get("APCA-API-SECRET-KEY"))
		assert.Equal(t, "1Day", r.URL.Query().Get("timeframe"))
		assert.Equal(t, "all", r.URL.Query().Get("adjustment"))
		pages++
		if r.URL.Query().Get("page_token") == "" {
			w.Write([]byte(`{"bars":[{"t":"2024-03-01T05:00:00Z","o":1,"h":2,"l":0.5,"c":1.5,"v":100}],"next_page_token":"p2"}`))
			return
		}
		assert.Equal(t, "p2", r.URL.Query().Get("page_token"))
		w.Write([]byte(`{"bars":[{"t":"2024-03-04T05:00:00Z","o":1.5,"h":2,"l":1,"c":1.8,"v":120}],"next_page_token":null}`))
	})

	series, err := feed.Interday(context.Background(), "AAPL", day(2024, 3, 1), day(2024, 3, 5))
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
	require.Len(t, series, 2)
	assert.True(t, series[0].Time.Equal(day(2024, 3, 1)))
	assert.Equal(t, 1.8, series[1].Close)
}

func TestAlpacaIntradayDropsBarsAfterClose(t *testing.T) {
	feed := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5Min", r.URL.Query().Get("timeframe"))
		w.Write([]byte(`{"bars":[
			{"t":"2024-03-04T14:30:00Z","o":1,"h":1,"l":1,"c":1,"v":1},
			{"t":"2024-03-04T20:55:00Z","o":2,"h":2,"l":2,"c":2,"v":1},
			{"t":"2024-03-04T21:00:00Z","o":3,"h":3,"l":3,"c":3,"v":1}]}`))
	})

	series, err := feed.Intraday(context.Background(), "AAPL", day(2024, 3, 4))
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, 9*time.Hour+30*time.Minute, models.ClockOf(series[0].Time))
}

func TestAlpacaLatestTrades(t *testing.T) {
	feed := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/stocks/trades/latest", r.URL.Path)
		assert.Equal(t, "AAPL,MSFT", r.URL.Query().Get("symbols"))
		w.Write([]byte(`{"trades":{"AAPL":{"p":181.5},"MSFT":{"p":0}}}`))
	})

	prices, err := feed.LatestTrades(context.Background(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"AAPL": 181.5}, prices)
}

func TestAlpacaAPIError(t *testing.T) {
	feed := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"code":40310000,"message":"forbidden"}`))
	})

	_, err := feed.Interday(context.Background(), "AAPL", day(2024, 3, 1), day(2024, 3, 5))
	var apiErr *models.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.True(t, apiErr.Permanent())
}

type staticTrades map[string]float64

func (s staticTrades) LatestTrades(_ context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, sym := range symbols {
		if p, ok := s[sym]; ok {
			out[sym] = p
		}
	}
	return out, nil
}

func TestCombinedTradesFallsBack(t *testing.T) {
	combined := NewCombinedTrades(staticTrades{"AAPL": 10}, staticTrades{"AAPL": 99, "MSFT": 20})
	prices, err := combined.LatestTrades(context.Background(), []string{"AAPL", "MSFT", "NONE"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"AAPL": 10, "MSFT": 20}, prices)
}

func TestTradeStreamHandleMessage(t *testing.T) {
	stream := NewTradeStream("ws://unused", "k", "s", zap.NewNop().Sugar())
	stream.handleMessage([]byte(`[{"T":"success","msg":"authenticated"},{"T":"t","S":"AAPL","p":101.25}]`))
	stream.handleMessage([]byte(`not json`))

	prices, err := stream.LatestTrades(context.Background(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"AAPL": 101.25}, prices)

	require.NoError(t, stream.Subscribe([]string{"AAPL", "AAPL"}), "subscribing while disconnected only records symbols")
	assert.Len(t, stream.symbols, 1)
}

func TestTradeStreamDropsStalePrices(t *testing.T) {
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, models.MarketLocation())
	stream := NewTradeStream("ws://unused", "k", "s", zap.NewNop().Sugar())
	stream.now = func() time.Time { return now }
	combined := NewCombinedTrades(stream, staticTrades{"AAPL": 120})
	ctx := context.Background()

	stream.handleMessage([]byte(`[{"T":"t","S":"AAPL","p":100}]`))
	prices, err := combined.LatestTrades(ctx, []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, 100.0, prices["AAPL"])

	now = now.Add(models.Interval)
	prices, err = combined.LatestTrades(ctx, []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, 120.0, prices["AAPL"], "an interval old trade falls back to REST")

	stream.handleMessage([]byte(`[{"T":"t","S":"AAPL","p":101}]`))
	stream.closeConn()
	prices, err = combined.LatestTrades(ctx, []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, 120.0, prices["AAPL"], "a disconnect forgets streamed prices")
}
