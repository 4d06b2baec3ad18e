package engine

import (
	"alpharius-go/internal/ledger"
	"alpharius-go/internal/logger"
	"alpharius-go/internal/marketdata"
	"alpharius-go/internal/models"
	"alpharius-go/internal/processor"
	"alpharius-go/internal/reporter"
	"alpharius-go/internal/resolver"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// BacktestConfig describes one simulated run over [Start, End).
type BacktestConfig struct {
	Start      time.Time
	End        time.Time
	Symbols    []string
	Processors []models.ProcessorConfig
	// OutputRoot holds the run directories, <root>/backtest/MM-DD/NN.
	OutputRoot string
	AckAll     bool
	Workers    int
}

// BacktestResult is the bookkeeping of a finished (or interrupted) run.
type BacktestResult struct {
	OutputDir    string
	MarketDates  []time.Time
	DailyEquity  []float64
	Transactions []models.Transaction
	Stats        ledger.Stats
}

// Backtest replays trading days from historical bars through the same tick
// pipeline as the live engine, with a simulated ledger as the broker.
type Backtest struct {
	cfg      BacktestConfig
	feed     marketdata.Feed
	calendar marketdata.Calendar
	registry *processor.Registry
	logger   *zap.SugaredLogger

	outputDir string
	details   *zap.SugaredLogger
	ledger    *ledger.Ledger
	profile   *Profile

	processors  []processor.Processor
	interday    map[string]models.Series
	marketDates []time.Time
	// tornDown is set once the processors were torn down after the last simulated day.
	tornDown bool
}

func NewBacktest(cfg BacktestConfig, feed marketdata.Feed, calendar marketdata.Calendar,
	registry *processor.Registry, log *zap.SugaredLogger) (*Backtest, error) {
	if !cfg.Start.Before(cfg.End) {
		return nil, fmt.Errorf("%w: backtest start %s is not before end %s", models.ErrConfiguration,
			cfg.Start.Format("2006-01-02"), cfg.End.Format("2006-01-02"))
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 20
	}
	if cfg.OutputRoot == "" {
		cfg.OutputRoot = "outputs"
	}
	dir, err := nextRunDir(filepath.Join(cfg.OutputRoot, "backtest", time.Now().Format("01-02")))
	if err != nil {
		return nil, err
	}
	return &Backtest{
		cfg:       cfg,
		feed:      feed,
		calendar:  calendar,
		registry:  registry,
		logger:    log,
		outputDir: dir,
		details:   logger.NewFileLogger(filepath.Join(dir, "details.txt"), false),
		ledger:    ledger.New(cfg.AckAll, log),
		profile:   NewProfile(),
	}, nil
}

// nextRunDir creates and returns the first free <parent>/NN directory.
func nextRunDir(parent string) (string, error) {
	for n := 1; ; n++ {
		dir := filepath.Join(parent, fmt.Sprintf("%02d", n))
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("create output dir: %w", err)
			}
			return dir, nil
		}
	}
}

func (b *Backtest) OutputDir() string {
	return b.outputDir
}

// Run simulates every trading day in range. Cancelling ctx stops after the
// current tick; the summary and profile are written in every case.
func (b *Backtest) Run(ctx context.Context) (*BacktestResult, error) {
	days, err := b.calendar.TradingDays(ctx, b.cfg.Start, b.cfg.End)
	if err != nil {
		return nil, fmt.Errorf("load market calendar: %w", err)
	}
	for _, d := range days {
		if d.Before(b.cfg.End) {
			b.marketDates = append(b.marketDates, d)
		}
	}
	if len(b.marketDates) == 0 {
		return nil, fmt.Errorf("%w: no trading days in range", models.ErrDataUnavailable)
	}
	b.logger.Infof("Backtesting [%d] trading days from [%s] to [%s]. Output: %s", len(b.marketDates),
		b.marketDates[0].Format("2006-01-02"), b.marketDates[len(b.marketDates)-1].Format("2006-01-02"), b.outputDir)

	defer b.finish()

	lookbackStart := b.cfg.Start.Add(-models.InterdayLookbackLoad)
	stop := b.profile.Track(StageInterdayLoad)
	b.interday = marketdata.LoadInterday(ctx, b.feed, b.cfg.Symbols, lookbackStart, b.cfg.End, b.cfg.Workers, b.logger)
	stop()
	b.logger.Infof("Interday data loaded for [%d] symbols.", len(b.interday))

	b.processors, err = b.registry.BuildAll(b.cfg.Processors, processor.Config{
		LookbackStart: lookbackStart,
		LookbackEnd:   b.cfg.End,
		Interday:      b.interday,
		OutputDir:     b.outputDir,
	})
	if err != nil {
		return nil, err
	}

	for _, day := range b.marketDates {
		if ctx.Err() != nil {
			b.logger.Warn("Backtest interrupted.")
			break
		}
		if err := b.runDay(ctx, day); err != nil {
			return b.result(), err
		}
	}
	return b.result(), nil
}

func (b *Backtest) result() *BacktestResult {
	return &BacktestResult{
		OutputDir:    b.outputDir,
		MarketDates:  b.marketDates,
		DailyEquity:  b.ledger.DailyEquity(),
		Transactions: b.ledger.Transactions(),
		Stats:        b.ledger.Stats(),
	}
}

func (b *Backtest) runDay(ctx context.Context, day time.Time) error {
	b.tornDown = false
	held := b.ledger.Positions()
	for _, p := range b.processors {
		p.ResetForSession(held, day)
	}

	stop := b.profile.Track(StageUniverseLoad)
	universes := loadUniverses(b.processors, day)
	stop()

	stop = b.profile.Track(StageIntradayLoad)
	intraday := marketdata.LoadIntraday(ctx, b.feed, neededSymbols(b.processors, universes), day, b.cfg.Workers, b.logger)
	stop()

	open, closeAt := models.MarketOpen(day), models.MarketClose(day)
	for start := open; start.Before(closeAt); start = start.Add(models.Interval) {
		if ctx.Err() != nil {
			break
		}
		now := start.Add(models.Interval)
		due := dueProcessors(b.processors, DueCadences(now, open, closeAt))
		if len(due) == 0 {
			continue
		}

		stop = b.profile.Track(StageContext)
		snaps := make(map[string]*processor.Snapshot)
		for _, symbol := range neededSymbols(due, universes) {
			if snap, ok := b.snapshot(symbol, day, start, now, intraday[symbol]); ok {
				snaps[symbol] = snap
			}
		}
		stop()

		actions := evaluate(due, universes, snaps, b.profile, b.logger)
		if len(actions) == 0 {
			continue
		}
		b.ledger.Apply(now, resolver.Resolve(actions, b.logger))
		if err := b.ledger.CheckInvariants(); err != nil {
			return fmt.Errorf("%s: %w", now.Format("2006-01-02 15:04"), err)
		}
	}

	b.teardown()
	report := b.ledger.EndDay(day, b.quotes(day))
	if text, ok := reporter.DayLog(report); ok {
		b.details.Info(text)
	}
	b.logger.Infof("[%s] Equity [%.4f]. Daily gain/loss [%+.2f%%]. Positions [%d].",
		day.Format("2006-01-02"), report.Equity, report.DailyPct*100, len(report.Positions))
	return nil
}

// snapshot builds the view of symbol for the interval starting at start. It
// needs a daily bar for day and an intraday bar starting exactly at start.
// Windows are capped so appending to them never writes into the loaded series.
func (b *Backtest) snapshot(symbol string, day, start, now time.Time, intraday models.Series) (*processor.Snapshot, bool) {
	interday, ok := b.interday[symbol]
	if !ok {
		return nil, false
	}
	di, ok := interday.IndexOf(models.MarketDay(day))
	if !ok {
		return nil, false
	}
	ii, ok := intraday.IndexOf(start)
	if !ok {
		return nil, false
	}
	window := intraday[: ii+1 : ii+1]
	return &processor.Snapshot{
		Symbol:   symbol,
		Time:     now,
		Price:    window.Last().Close,
		Interday: interday[:di:di],
		Intraday: window,
		Mode:     models.ModeBacktest,
	}, true
}

// quotes returns the daily closes of the held symbols on day.
func (b *Backtest) quotes(day time.Time) map[string]ledger.Quote {
	quotes := make(map[string]ledger.Quote)
	for _, p := range b.ledger.Positions() {
		series := b.interday[p.Symbol]
		i, ok := series.IndexOf(models.MarketDay(day))
		if !ok {
			continue
		}
		q := ledger.Quote{Close: series[i].Close}
		if i > 0 {
			q.PrevClose, q.HasPrev = series[i-1].Close, true
		}
		quotes[p.Symbol] = q
	}
	return quotes
}

func (b *Backtest) teardown() {
	if b.tornDown {
		return
	}
	for _, p := range b.processors {
		p.Teardown()
	}
	b.tornDown = true
}

func (b *Backtest) finish() {
	b.teardown()
	if text, ok := reporter.Summary(reporter.SummaryInput{
		MarketDates:  b.marketDates,
		DailyEquity:  b.ledger.DailyEquity(),
		Stats:        b.ledger.Stats(),
		Transactions: b.ledger.Transactions(),
		OutputDir:    b.outputDir,
	}); ok {
		summary := logger.NewFileLogger(filepath.Join(b.outputDir, "summary.txt"), false)
		summary.Info(text)
		_ = summary.Sync()
		b.logger.Info("\n" + text)
	}

	profile := b.profile.Render()
	if err := os.WriteFile(filepath.Join(b.outputDir, "profile.txt"), []byte(profile+"\n"), 0o644); err != nil {
		b.logger.Warnf("Failed to write profile: %v", err)
	}
	b.logger.Info("\n" + profile)
	_ = b.details.Sync()
}
