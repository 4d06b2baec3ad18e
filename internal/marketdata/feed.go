package marketdata

import (
	"alpharius-go/internal/models"
	"context"
	"time"
)

// Feed supplies daily and intraday bars per symbol.
type Feed interface {
	// Interday returns the daily bars of symbol with start <= time < end.
	Interday(ctx context.Context, symbol string, start, end time.Time) (models.Series, error)
	// Intraday returns the 5-minute bars of symbol for the trading date of day.
	Intraday(ctx context.Context, symbol string, day time.Time) (models.Series, error)
}

// TradeSource returns the latest trade price per symbol.
// Symbols without a known trade are omitted from the result.
type TradeSource interface {
	LatestTrades(ctx context.Context, symbols []string) (map[string]float64, error)
}

// Calendar lists the trading dates within [start, end).
type Calendar interface {
	TradingDays(ctx context.Context, start, end time.Time) ([]time.Time, error)
}
