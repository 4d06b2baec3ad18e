package marketdata

import (
	"alpharius-go/internal/models"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LoadInterday fetches the daily bars of every symbol concurrently.
// A symbol that fails to load is logged and left out.
func LoadInterday(ctx context.Context, feed Feed, symbols []string, start, end time.Time, workers int, logger *zap.SugaredLogger) map[string]models.Series {
	return load(ctx, symbols, workers, logger, "interday", func(ctx context.Context, symbol string) (models.Series, error) {
		return feed.Interday(ctx, symbol, start, end)
	})
}

// LoadIntraday fetches the 5-minute bars of day for every symbol concurrently.
func LoadIntraday(ctx context.Context, feed Feed, symbols []string, day time.Time, workers int, logger *zap.SugaredLogger) map[string]models.Series {
	return load(ctx, symbols, workers, logger, "intraday", func(ctx context.Context, symbol string) (models.Series, error) {
		return feed.Intraday(ctx, symbol, day)
	})
}

func load(ctx context.Context, symbols []string, workers int, logger *zap.SugaredLogger, kind string,
	fetch func(context.Context, string) (models.Series, error)) map[string]models.Series {
	if workers <= 0 {
		workers = 1
	}
	var (
		mu     sync.Mutex
		result = make(map[string]models.Series, len(symbols))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			series, err := fetch(gctx, symbol)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				if errors.Is(err, models.ErrDataUnavailable) {
					logger.Debugw("No data", "kind", kind, "symbol", symbol)
				} else {
					logger.Warnw("Failed to load data", "kind", kind, "symbol", symbol, "error", err)
				}
				return nil
			}
			if len(series) == 0 {
				return nil
			}
			mu.Lock()
			result[symbol] = series
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return result
}
