package engine

import (
	"alpharius-go/internal/broker"
	"alpharius-go/internal/logger"
	"alpharius-go/internal/marketdata"
	"alpharius-go/internal/models"
	"alpharius-go/internal/processor"
	"alpharius-go/internal/recorder"
	"alpharius-go/internal/resolver"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// priceDeviationLog is the relative gap between the last bar close and the
	// latest trade above which the patch is logged.
	priceDeviationLog = 0.01
	// minOpenFraction of the equity net of reserve is the smallest order worth placing.
	minOpenFraction = 0.01
	openWait        = 10 * time.Second
)

// LiveConfig describes one trading session.
type LiveConfig struct {
	Symbols    []string
	Processors []models.ProcessorConfig
	// OutputRoot holds the session directories, <root>/trading/YYYY-MM-DD.
	OutputRoot   string
	CashReserve  float64
	Workers      int
	AccountRetry broker.RetryPolicy
	OrderRetry   broker.RetryPolicy
	FillPoll     time.Duration
	FillTimeout  time.Duration
}

type liveClose struct {
	action   models.Action
	position models.Position
	orderID  string
}

// Live trades one session through a brokerage. Decisions and broker calls are
// serialized on the Run goroutine; only data refresh and recording run concurrently.
type Live struct {
	cfg      LiveConfig
	gateway  broker.Gateway
	feed     marketdata.Feed
	trades   marketdata.TradeSource
	registry *processor.Registry
	recorder *recorder.Recorder
	logger   *zap.SugaredLogger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	today     time.Time
	open      time.Time
	closeAt   time.Time
	outputDir string

	processors []processor.Processor
	universes  map[string][]string
	interday   map[string]models.Series
	intraday   map[string]models.Series

	equity     float64
	cash       float64
	positions  []models.Position
	entryTimes map[string]time.Time
}

// NewLive wires a session. rec may be nil when nothing is recorded.
func NewLive(cfg LiveConfig, gw broker.Gateway, feed marketdata.Feed, trades marketdata.TradeSource,
	registry *processor.Registry, rec *recorder.Recorder, log *zap.SugaredLogger) *Live {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.OutputRoot == "" {
		cfg.OutputRoot = "outputs"
	}
	if cfg.FillPoll <= 0 {
		cfg.FillPoll = 2 * time.Second
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 10 * time.Second
	}
	return &Live{
		cfg:        cfg,
		gateway:    gw,
		feed:       feed,
		trades:     trades,
		registry:   registry,
		recorder:   rec,
		logger:     log,
		now:        time.Now,
		sleep:      sleepContext,
		intraday:   make(map[string]models.Series),
		entryTimes: make(map[string]time.Time),
	}
}

// WithClock replaces the wall clock, for simulated sessions.
func (l *Live) WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) *Live {
	l.now = now
	l.sleep = sleep
	return l
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (l *Live) OutputDir() string {
	return l.outputDir
}

// Run trades today's session until the close. It returns nil without trading
// when the market does not open today or the open is more than an hour away.
func (l *Live) Run(ctx context.Context) error {
	now := l.now().In(models.MarketLocation())
	l.today = models.MarketDay(now)
	l.outputDir = filepath.Join(l.cfg.OutputRoot, "trading", l.today.Format("2006-01-02"))
	if err := os.MkdirAll(l.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	l.logger = logger.NewFileLogger(filepath.Join(l.outputDir, "trading.txt"), true)
	if host, err := os.Hostname(); err == nil {
		l.logger.Infof("Trading is running on [%s]", host)
	}

	calendar, err := broker.Retry(ctx, l.cfg.AccountRetry, l.logger, "get calendar", func() ([]broker.CalendarDay, error) {
		return l.gateway.GetCalendar(ctx, l.today, l.today)
	})
	if err != nil {
		return fmt.Errorf("load market calendar: %w", err)
	}
	if len(calendar) == 0 || !models.MarketDay(calendar[0].Date).Equal(l.today) {
		l.logger.Infof("Market does not open on [%s]", l.today.Format("2006-01-02"))
		return nil
	}
	l.open, l.closeAt = calendar[0].Open, calendar[0].Close
	if now.Before(l.open.Add(-time.Hour)) {
		l.logger.Info("Market open is more than one hour away")
		return nil
	}
	if clock, err := l.gateway.GetClock(ctx); err == nil {
		l.logger.Infof("Market clock: open [%t]; next open [%s]; next close [%s].", clock.IsOpen,
			clock.NextOpen.Format(time.RFC3339), clock.NextClose.Format(time.RFC3339))
	}

	if err := l.updateAccount(ctx); err != nil {
		return err
	}
	if err := l.updatePositions(ctx); err != nil {
		return err
	}
	if err := l.initProcessors(ctx); err != nil {
		return err
	}
	defer l.finish()

	for l.now().Before(l.open) {
		wait := min(openWait, l.open.Sub(l.now()))
		if err := l.sleep(ctx, wait); err != nil {
			l.logger.Warn("Trading interrupted before the open.")
			return nil
		}
	}

	processed := make(map[time.Time]bool)
	for l.now().Before(l.closeAt) {
		now := l.now().In(models.MarketLocation())
		if now.Minute()%5 == 4 {
			checkpoint := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), 0, 0,
				models.MarketLocation()).Add(time.Minute)
			trigger := 50
			if checkpoint.Equal(l.closeAt) {
				trigger -= 10
			}
			if now.Second() > trigger && !processed[checkpoint] {
				l.process(ctx, checkpoint)
				processed[checkpoint] = true
			}
		}
		if err := l.sleep(ctx, time.Second); err != nil {
			l.logger.Warn("Trading interrupted.")
			return nil
		}
	}
	return nil
}

func (l *Live) initProcessors(ctx context.Context) error {
	lookbackStart := l.today.Add(-models.InterdayLookbackLoad)
	l.interday = marketdata.LoadInterday(ctx, l.feed, l.cfg.Symbols, lookbackStart, l.today, l.cfg.Workers, l.logger)
	l.logger.Infof("Interday data loaded for [%d] symbols.", len(l.interday))

	processors, err := l.registry.BuildAll(l.cfg.Processors, processor.Config{
		LookbackStart: lookbackStart,
		LookbackEnd:   l.today,
		Interday:      l.interday,
		OutputDir:     l.outputDir,
	})
	if err != nil {
		return err
	}
	l.processors = processors
	names := make([]string, 0, len(processors))
	for _, p := range processors {
		p.ResetForSession(l.positions, l.today)
		names = append(names, p.Name())
	}
	l.logger.Infof("Initialized processors: %v", names)

	l.universes = loadUniverses(l.processors, l.today)
	l.logger.Infof("FIVE_MIN stock universe: %v",
		neededSymbols(dueProcessors(l.processors, []models.Cadence{models.FiveMin}), l.universes))
	l.uploadLogs()
	return nil
}

func (l *Live) finish() {
	for _, p := range l.processors {
		p.Teardown()
	}
	_ = l.logger.Sync()
	l.uploadLogs()
}

// process runs the pipeline for the tick ending at checkpoint.
func (l *Live) process(ctx context.Context, checkpoint time.Time) {
	l.logger.Infof("Process starts for [%s]", checkpoint.Format("15:04:05"))
	due := dueProcessors(l.processors, DueCadences(checkpoint, l.open, l.closeAt))
	symbols := neededSymbols(due, l.universes)
	l.refreshIntraday(ctx, symbols)

	snaps := make(map[string]*processor.Snapshot, len(symbols))
	for _, symbol := range symbols {
		interday := l.interday[symbol]
		if len(interday) == 0 {
			l.logger.Warnf("[%s] interday data not available", symbol)
			continue
		}
		intraday := l.intraday[symbol]
		if len(intraday) == 0 {
			l.logger.Warnf("[%s] intraday data not available", symbol)
			continue
		}
		snaps[symbol] = &processor.Snapshot{
			Symbol:   symbol,
			Time:     checkpoint,
			Price:    intraday.Last().Close,
			Interday: interday,
			Intraday: intraday,
			Mode:     models.ModeTrade,
		}
	}
	l.logger.Infof("Contexts prepared for [%d] symbols.", len(snaps))

	actions := evaluate(due, l.universes, snaps, nil, l.logger)
	l.logger.Infof("Got [%d] actions to process.", len(actions))

	executed := l.trade(ctx, actions, checkpoint)
	l.uploadLogs()
	if len(executed) > 0 && l.recorder != nil {
		l.recorder.Dispatch(recorder.Event{Type: recorder.TransactionsEvent, Day: l.today, Transactions: executed})
	}
}

// refreshIntraday reloads today's bars of symbols and patches the last close
// with the latest trade.
func (l *Live) refreshIntraday(ctx context.Context, symbols []string) {
	begin := time.Now()
	fresh := marketdata.LoadIntraday(ctx, l.feed, symbols, l.today, l.cfg.Workers, l.logger)
	for _, symbol := range symbols {
		l.intraday[symbol] = fresh[symbol]
	}

	prices, err := l.trades.LatestTrades(ctx, symbols)
	if err != nil {
		l.logger.Warnw("Failed to load latest trades", "error", err)
	}
	for symbol, price := range prices {
		series := l.intraday[symbol]
		if len(series) == 0 {
			continue
		}
		series = series.Clone()
		last := &series[len(series)-1]
		if last.Close > 0 && math.Abs(price/last.Close-1) > priceDeviationLog {
			l.logger.Infof("[%s] Current price is updated from [%.5g] to [%.5g]", symbol, last.Close, price)
		}
		last.Close = price
		l.intraday[symbol] = series
	}
	l.logger.Infof("Intraday data updated for [%d] symbols. Time elapsed [%.2fs]", len(symbols), time.Since(begin).Seconds())
}

// trade applies the resolved actions through the broker and returns the
// transactions of the closes that filled.
func (l *Live) trade(ctx context.Context, actions []models.Action, now time.Time) []models.Transaction {
	if len(actions) == 0 {
		return nil
	}
	res := resolver.Resolve(actions, l.logger)
	executed := l.closePositions(ctx, res.Closes, now)
	l.openPositions(ctx, res.Opens, res.OpenSlots(), now)
	return executed
}

func (l *Live) closePositions(ctx context.Context, actions []models.Action, now time.Time) []models.Transaction {
	if len(actions) == 0 {
		return nil
	}
	if err := l.updatePositions(ctx); err != nil {
		l.logger.Errorw("Skipping closes", "error", err)
		return nil
	}

	var pending []liveClose
	var ids []string
	for _, a := range actions {
		pos, ok := l.position(a.Symbol)
		if !ok {
			l.logger.Infof("Position for [%s] does not exist. Skipping close.", a.Symbol)
			continue
		}
		if a.Type == models.BuyToClose && pos.Qty > 0 {
			l.logger.Infof("Position for [%s] is already long-side. Skipping close.", a.Symbol)
			continue
		}
		if a.Type == models.SellToClose && pos.Qty < 0 {
			l.logger.Infof("Position for [%s] is already short-side. Skipping close.", a.Symbol)
			continue
		}
		side := broker.Sell
		if a.Type == models.BuyToClose {
			side = broker.Buy
		}
		qty := decimal.NewFromFloat(math.Abs(pos.Qty) * a.Percent).RoundDown(9)
		id, err := l.placeOrder(ctx, a.Symbol, side, &qty, nil)
		if err != nil {
			continue
		}
		ids = append(ids, id)
		pending = append(pending, liveClose{action: a, position: pos, orderID: id})
	}
	if len(ids) == 0 {
		return nil
	}
	if _, err := broker.WaitForFill(ctx, l.gateway, ids, l.cfg.FillPoll, l.cfg.FillTimeout, l.logger); err != nil {
		l.logger.Warnw("Failed to wait for close fills", "error", err)
	}

	var executed []models.Transaction
	for _, pc := range pending {
		if tx, ok := l.reconcile(ctx, pc, now); ok {
			executed = append(executed, tx)
		}
	}
	return executed
}

// reconcile turns a filled close order into a transaction priced at the fill.
func (l *Live) reconcile(ctx context.Context, pc liveClose, now time.Time) (models.Transaction, bool) {
	order, err := l.gateway.GetOrder(ctx, pc.orderID)
	if err != nil || !order.Filled() || order.FilledAvgPrice == nil {
		return models.Transaction{}, false
	}
	exitTime := now
	if order.FilledAt != nil {
		exitTime = *order.FilledAt
	}
	entryTime, ok := l.entryTimes[pc.action.Symbol]
	if !ok {
		entryTime = l.open
	}
	qty := order.FilledQty.InexactFloat64()
	if math.Abs(qty) >= math.Abs(pc.position.Qty)-models.Epsilon {
		delete(l.entryTimes, pc.action.Symbol)
	}

	isLong := pc.position.Qty > 0
	sign := 1.0
	if !isLong {
		sign = -1
	}
	entry, exit, intended := pc.position.EntryPrice, order.FilledAvgPrice.InexactFloat64(), pc.action.Price
	tx := models.Transaction{
		ID:         models.TransactionID(pc.action.Symbol, exitTime),
		Symbol:     pc.action.Symbol,
		IsLong:     isLong,
		Processor:  pc.action.ProcessorName(),
		EntryPrice: entry,
		ExitPrice:  exit,
		EntryTime:  entryTime,
		ExitTime:   exitTime,
		Qty:        qty,
		GL:         sign * (exit - entry) * qty,
	}
	if entry > 0 {
		tx.GLPct = sign * (exit/entry - 1)
	}
	if intended > 0 && qty > 0 {
		slippage := sign * (exit - intended) * qty
		slippagePct := slippage / (intended * qty)
		tx.Slippage, tx.SlippagePct = &slippage, &slippagePct
	}
	return tx, true
}

// openPositions sizes each open from the tradable cash: the cash above the
// reserve less the collateral held against shorts, split across slots.
func (l *Live) openPositions(ctx context.Context, actions []models.Action, slots int, now time.Time) {
	if len(actions) == 0 {
		return
	}
	if err := l.updateAccount(ctx); err != nil {
		l.logger.Errorw("Skipping opens", "error", err)
		return
	}
	if err := l.updatePositions(ctx); err != nil {
		l.logger.Errorw("Skipping opens", "error", err)
		return
	}

	tradable := l.tradableCash()
	if slots < len(actions) {
		slots = len(actions)
	}
	minCash := (l.equity - l.cfg.CashReserve) * minOpenFraction

	opened := make(map[string]string)
	var ids []string
	for _, a := range actions {
		cash := math.Min(tradable/float64(slots), tradable*a.Percent)
		if cash < minCash || cash <= 0 {
			l.logger.Infof("Cash [%.2f] too small to open position [%s]. Skip open.", cash, a.Symbol)
			continue
		}
		var id string
		var err error
		if a.Type == models.BuyToOpen {
			notional := decimal.NewFromFloat(cash).RoundDown(2)
			id, err = l.placeOrder(ctx, a.Symbol, broker.Buy, nil, &notional)
		} else {
			shares := math.Floor(cash / a.Price)
			if shares < 1 {
				l.logger.Infof("Cash [%.2f] buys no whole share of [%s] at [%.5g]. Skip open.", cash, a.Symbol, a.Price)
				continue
			}
			qty := decimal.NewFromFloat(shares)
			id, err = l.placeOrder(ctx, a.Symbol, broker.Sell, &qty, nil)
		}
		if err != nil {
			continue
		}
		ids = append(ids, id)
		opened[id] = a.Symbol
		if a.Source != nil {
			a.Source.OnOpenConfirmed(a.Symbol)
		}
	}
	if len(ids) == 0 {
		return
	}
	if _, err := broker.WaitForFill(ctx, l.gateway, ids, l.cfg.FillPoll, l.cfg.FillTimeout, l.logger); err != nil {
		l.logger.Warnw("Failed to wait for open fills", "error", err)
	}
	for id, symbol := range opened {
		if _, ok := l.entryTimes[symbol]; ok {
			continue
		}
		entered := now
		if order, err := l.gateway.GetOrder(ctx, id); err == nil && order.FilledAt != nil {
			entered = *order.FilledAt
		}
		l.entryTimes[symbol] = entered
	}
}

// tradableCash is never negative.
func (l *Live) tradableCash() float64 {
	tradable := l.cash - l.cfg.CashReserve
	for _, p := range l.positions {
		if p.Qty < 0 {
			tradable += p.EntryPrice * p.Qty * (1 + models.ShortReserveRatio)
		}
	}
	return math.Max(tradable, 0)
}

func (l *Live) placeOrder(ctx context.Context, symbol string, side broker.Side, qty, notional *decimal.Decimal) (string, error) {
	req := broker.MarketOrder(symbol, side, qty, notional)
	l.logger.Infow("Placing order", "symbol", symbol, "side", side, "qty", req.Qty, "notional", req.Notional)
	id, err := broker.Retry(ctx, l.cfg.OrderRetry, l.logger, "submit order "+symbol, func() (string, error) {
		return l.gateway.SubmitOrder(ctx, req)
	})
	if err != nil {
		l.logger.Errorw("Failed to place order", "symbol", symbol, "side", side, "error", err)
		return "", err
	}
	return id, nil
}

func (l *Live) updateAccount(ctx context.Context) error {
	account, err := broker.Retry(ctx, l.cfg.AccountRetry, l.logger, "get account", func() (*broker.Account, error) {
		return l.gateway.GetAccount(ctx)
	})
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	l.equity, l.cash = account.Equity, account.Cash
	l.logger.Infof("Account updated: equity [%.2f]; cash [%.2f]; day trading bp [%.2f].",
		account.Equity, account.Cash, account.DaytradingBuyingPower)
	return nil
}

func (l *Live) updatePositions(ctx context.Context) error {
	positions, err := broker.Retry(ctx, l.cfg.AccountRetry, l.logger, "list positions", func() ([]models.Position, error) {
		return l.gateway.ListPositions(ctx)
	})
	if err != nil {
		return fmt.Errorf("update positions: %w", err)
	}
	l.positions = positions
	l.logger.Infof("Positions updated: [%d] open positions.", len(positions))
	return nil
}

func (l *Live) position(symbol string) (models.Position, bool) {
	for _, p := range l.positions {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return models.Position{}, false
}

func (l *Live) uploadLogs() {
	if l.recorder == nil {
		return
	}
	l.recorder.Dispatch(recorder.Event{Type: recorder.LogUploadEvent, Day: l.today, Dir: l.outputDir})
}
