package marketdata

import (
	"alpharius-go/internal/models"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Downloader copies bars from a remote Feed into a CSVFeed directory so
// backtests can run offline. Files that already exist are kept.
type Downloader struct {
	source  Feed
	target  *CSVFeed
	workers int
	logger  *zap.SugaredLogger
}

func NewDownloader(source Feed, target *CSVFeed, workers int, logger *zap.SugaredLogger) *Downloader {
	if workers <= 0 {
		workers = 1
	}
	return &Downloader{source: source, target: target, workers: workers, logger: logger}
}

// Download stores daily bars for [start-lookback, end) and the intraday bars
// of every trading date of calendarSymbol in [start, end).
func (d *Downloader) Download(ctx context.Context, symbols []string, calendarSymbol string, start, end time.Time) error {
	all := symbols
	if !slices.Contains(symbols, calendarSymbol) {
		all = append([]string{calendarSymbol}, symbols...)
	}

	historyStart := start.Add(-models.InterdayLookbackLoad)
	if err := d.each(ctx, all, func(ctx context.Context, symbol string) error {
		return d.saveInterday(ctx, symbol, historyStart, end)
	}); err != nil {
		return err
	}

	days, err := NewSeriesCalendar(d.target, calendarSymbol).TradingDays(ctx, start, end)
	if err != nil {
		return err
	}
	for _, day := range days {
		if err := d.each(ctx, all, func(ctx context.Context, symbol string) error {
			return d.saveIntraday(ctx, symbol, day)
		}); err != nil {
			return err
		}
		d.logger.Infow("Downloaded intraday bars", "date", day.Format("2006-01-02"), "symbols", len(all))
	}
	return nil
}

func (d *Downloader) each(ctx context.Context, symbols []string, fn func(context.Context, string) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			if err := fn(gctx, symbol); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				d.logger.Warnw("Download failed", "symbol", symbol, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (d *Downloader) saveInterday(ctx context.Context, symbol string, start, end time.Time) error {
	path := d.target.InterdayPath(symbol)
	if exists(path) {
		d.logger.Debugw("Using cached interday file", "path", path)
		return nil
	}
	series, err := d.source.Interday(ctx, symbol, start, end)
	if err != nil {
		return err
	}
	if err := WriteCSV(path, series); err != nil {
		return fmt.Errorf("save interday bars of %s: %w", symbol, err)
	}
	return nil
}

func (d *Downloader) saveIntraday(ctx context.Context, symbol string, day time.Time) error {
	path := d.target.IntradayPath(symbol, day)
	if exists(path) {
		return nil
	}
	series, err := d.source.Intraday(ctx, symbol, day)
	if err != nil {
		return err
	}
	if len(series) == 0 {
		return nil
	}
	return WriteCSV(path, series)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
