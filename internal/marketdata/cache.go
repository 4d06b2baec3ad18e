package marketdata

import (
	"alpharius-go/internal/models"
	"alpharius-go/internal/persistence"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CachedFeed memoises a Feed in a BarRepository. Intraday bars of the current
// trading date are never cached because they are still growing.
type CachedFeed struct {
	next   Feed
	repo   persistence.BarRepository
	now    func() time.Time
	logger *zap.SugaredLogger
}

func NewCachedFeed(next Feed, repo persistence.BarRepository, logger *zap.SugaredLogger) *CachedFeed {
	return &CachedFeed{next: next, repo: repo, now: time.Now, logger: logger}
}

func interdayKey(symbol string, start, end time.Time) string {
	return fmt.Sprintf("interday/%s/%s/%s", symbol, start.Format("2006-01-02"), end.Format("2006-01-02"))
}

func intradayKey(symbol string, day time.Time) string {
	return fmt.Sprintf("intraday/%s/%s", symbol, models.MarketDay(day).Format("2006-01-02"))
}

func (c *CachedFeed) Interday(ctx context.Context, symbol string, start, end time.Time) (models.Series, error) {
	key := interdayKey(symbol, start, end)
	cacheable := !end.After(models.MarketDay(c.now()))
	return c.load(key, cacheable, func() (models.Series, error) {
		return c.next.Interday(ctx, symbol, start, end)
	})
}

func (c *CachedFeed) Intraday(ctx context.Context, symbol string, day time.Time) (models.Series, error) {
	key := intradayKey(symbol, day)
	cacheable := models.MarketDay(day).Before(models.MarketDay(c.now()))
	return c.load(key, cacheable, func() (models.Series, error) {
		return c.next.Intraday(ctx, symbol, day)
	})
}

func (c *CachedFeed) load(key string, cacheable bool, fetch func() (models.Series, error)) (models.Series, error) {
	if cacheable {
		series, found, err := c.repo.LoadSeries(key)
		if err != nil {
			c.logger.Warnw("Failed to read bar cache", "key", key, "error", err)
		} else if found {
			return series, nil
		}
	}
	series, err := fetch()
	if err != nil {
		return nil, err
	}
	if cacheable {
		if err := c.repo.SaveSeries(key, series); err != nil {
			c.logger.Warnw("Failed to write bar cache", "key", key, "error", err)
		}
	}
	return series, nil
}
