package marketdata

import (
	"alpharius-go/internal/models"
	"context"
	"fmt"
	"time"
)

// SeriesCalendar derives trading dates from the daily bars of a liquid symbol.
type SeriesCalendar struct {
	feed   Feed
	symbol string
}

func NewSeriesCalendar(feed Feed, symbol string) *SeriesCalendar {
	return &SeriesCalendar{feed: feed, symbol: symbol}
}

func (c *SeriesCalendar) TradingDays(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	series, err := c.feed.Interday(ctx, c.symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("derive calendar from %s: %w", c.symbol, err)
	}
	days := make([]time.Time, 0, len(series))
	for _, bar := range series {
		days = append(days, models.MarketDay(bar.Time))
	}
	return days, nil
}
