package marketdata

import (
	"alpharius-go/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const barPageLimit = 10000

// AlpacaFeed reads bars and the latest trades from the Alpaca market data REST API.
type AlpacaFeed struct {
	keyID      string
	secretKey  string
	baseURL    string
	feed       string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.SugaredLogger
}

// NewAlpacaFeed creates a feed limited to requestsPerMinute REST calls.
func NewAlpacaFeed(cfg models.BrokerConfig, logger *zap.SugaredLogger) *AlpacaFeed {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 200
	}
	return &AlpacaFeed{
		keyID:      cfg.APIKeyID,
		secretKey:  cfg.APISecretKey,
		baseURL:    strings.TrimRight(cfg.DataURL, "/"),
		feed:       cfg.DataFeed,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		logger:     logger,
	}
}

type alpacaBar struct {
	T time.Time `json:"t"`
	O float64   `json:"o"`
	H float64   `json:"h"`
	L float64   `json:"l"`
	C float64   `json:"c"`
	V float64   `json:"v"`
}

type barsResponse struct {
	Bars          []alpacaBar `json:"bars"`
	NextPageToken *string     `json:"next_page_token"`
}

type latestTradesResponse struct {
	Trades map[string]struct {
		P float64 `json:"p"`
	} `json:"trades"`
}

// doRequest sends an authenticated GET and decodes API errors into models.Error.
func (f *AlpacaFeed) doRequest(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	fullURL := f.baseURL + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", f.keyID)
	req.Header.Set("APCA-API-SECRET-KEY", f.secretKey)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &models.Error{Status: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Msg == "" {
			apiErr.Msg = string(body)
		}
		return body, apiErr
	}
	return body, nil
}

func (f *AlpacaFeed) bars(ctx context.Context, symbol, timeframe string, start, end time.Time) (models.Series, error) {
	params := url.Values{}
	params.Set("timeframe", timeframe)
	params.Set("start", start.UTC().Format(time.RFC3339))
	params.Set("end", end.UTC().Format(time.RFC3339))
	params.Set("limit", fmt.Sprintf("%d", barPageLimit))
	params.Set("adjustment", "all")
	if f.feed != "" {
		params.Set("feed", f.feed)
	}

	var series models.Series
	for {
		body, err := f.doRequest(ctx, "/v2/stocks/"+url.PathEscape(symbol)+"/bars", params)
		if err != nil {
			return nil, fmt.Errorf("get %s bars of %s: %w", timeframe, symbol, err)
		}
		var page barsResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode %s bars of %s: %w", timeframe, symbol, err)
		}
		for _, b := range page.Bars {
			series = append(series, models.Bar{
				Time:   b.T.In(models.MarketLocation()),
				Open:   b.O,
				High:   b.H,
				Low:    b.L,
				Close:  b.C,
				Volume: b.V,
			})
		}
		if page.NextPageToken == nil || *page.NextPageToken == "" {
			break
		}
		params.Set("page_token", *page.NextPageToken)
	}
	return series, nil
}

// Interday returns daily bars with their times normalised to the trading date.
func (f *AlpacaFeed) Interday(ctx context.Context, symbol string, start, end time.Time) (models.Series, error) {
	series, err := f.bars(ctx, symbol, "1Day", start, end)
	if err != nil {
		return nil, err
	}
	out := series[:0]
	for _, bar := range series {
		bar.Time = models.MarketDay(bar.Time)
		if !bar.Time.Before(start) && bar.Time.Before(end) {
			out = append(out, bar)
		}
	}
	return out, nil
}

// Intraday returns the 5-minute bars of the trading date, pre-market included, before the close.
func (f *AlpacaFeed) Intraday(ctx context.Context, symbol string, day time.Time) (models.Series, error) {
	day = models.MarketDay(day)
	closeTime := models.MarketClose(day)
	series, err := f.bars(ctx, symbol, "5Min", day.Add(4*time.Hour), closeTime)
	if err != nil {
		return nil, err
	}
	out := series[:0]
	for _, bar := range series {
		if bar.Time.Before(closeTime) {
			out = append(out, bar)
		}
	}
	return out, nil
}

// LatestTrades returns the last trade price per symbol.
func (f *AlpacaFeed) LatestTrades(ctx context.Context, symbols []string) (map[string]float64, error) {
	prices := make(map[string]float64, len(symbols))
	if len(symbols) == 0 {
		return prices, nil
	}
	params := url.Values{}
	params.Set("symbols", strings.Join(symbols, ","))
	if f.feed != "" {
		params.Set("feed", f.feed)
	}
	body, err := f.doRequest(ctx, "/v2/stocks/trades/latest", params)
	if err != nil {
		return nil, fmt.Errorf("get latest trades: %w", err)
	}
	var resp latestTradesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode latest trades: %w", err)
	}
	for symbol, trade := range resp.Trades {
		if trade.P > 0 {
			prices[symbol] = trade.P
		}
	}
	return prices, nil
}
