package broker

import (
	"alpharius-go/internal/models"
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceSource provides the prices paper orders fill at.
type PriceSource interface {
	LatestTrades(ctx context.Context, symbols []string) (map[string]float64, error)
}

// PaperGateway fills market orders immediately at the latest trade price and keeps the book in memory.
type PaperGateway struct {
	mu            sync.Mutex
	cash          float64
	positions     map[string]float64
	avgEntryPrice map[string]float64
	lastPrice     map[string]float64
	orders        map[string]*Order
	nextOrderID   int64
	prices        PriceSource
	now           func() time.Time
	logger        *zap.SugaredLogger
}

// NewPaperGateway creates a paper account holding initialCash.
func NewPaperGateway(initialCash float64, prices PriceSource, now func() time.Time, logger *zap.SugaredLogger) *PaperGateway {
	if now == nil {
		now = time.Now
	}
	return &PaperGateway{
		cash:          initialCash,
		positions:     make(map[string]float64),
		avgEntryPrice: make(map[string]float64),
		lastPrice:     make(map[string]float64),
		orders:        make(map[string]*Order),
		nextOrderID:   1,
		prices:        prices,
		now:           now,
		logger:        logger,
	}
}

func (g *PaperGateway) SubmitOrder(ctx context.Context, req OrderRequest) (string, error) {
	prices, err := g.prices.LatestTrades(ctx, []string{req.Symbol})
	if err != nil {
		return "", fmt.Errorf("%w: price %s: %w", models.ErrOrderFailure, req.Symbol, err)
	}
	price, ok := prices[req.Symbol]
	if !ok || price <= 0 {
		return "", fmt.Errorf("%w: no price for %s", models.ErrOrderFailure, req.Symbol)
	}

	var qty float64
	switch {
	case req.Qty != nil:
		qty = req.Qty.InexactFloat64()
	case req.Notional != nil:
		qty = req.Notional.InexactFloat64() / price
	}
	if qty <= 0 {
		return "", fmt.Errorf("%w: %s %s: non-positive size", models.ErrOrderFailure, req.Side, req.Symbol)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	id := strconv.FormatInt(g.nextOrderID, 10)
	g.nextOrderID++
	now := g.now()
	filledPrice := decimal.NewFromFloat(price)
	order := &Order{
		ID:             id,
		ClientOrderID:  req.ClientOrderID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Status:         StatusFilled,
		Qty:            req.Qty,
		Notional:       req.Notional,
		FilledQty:      decimal.NewFromFloat(qty),
		FilledAvgPrice: &filledPrice,
		SubmittedAt:    now,
		FilledAt:       &now,
	}
	g.orders[id] = order
	g.fill(req.Symbol, req.Side, qty, price)
	return id, nil
}

// fill updates cash, position and average entry price. Must be called with the lock held.
func (g *PaperGateway) fill(symbol string, side Side, qty, price float64) {
	signed := qty
	if side == Sell {
		signed = -qty
	}
	current := g.positions[symbol]
	next := current + signed
	g.cash -= signed * price
	g.lastPrice[symbol] = price

	switch {
	case math.Abs(next) <= models.Epsilon:
		delete(g.positions, symbol)
		delete(g.avgEntryPrice, symbol)
		return
	case current == 0 || (current > 0) != (next > 0):
		// new or reversed position enters at the fill price
		g.avgEntryPrice[symbol] = price
	case (current > 0) == (signed > 0):
		g.avgEntryPrice[symbol] = (g.avgEntryPrice[symbol]*math.Abs(current) + price*qty) / math.Abs(next)
	}
	g.positions[symbol] = next

	if g.logger != nil {
		g.logger.Debugf("Paper fill: %s %s %.4f @ %.4f, position %.4f, cash %.2f", side, symbol, qty, price, next, g.cash)
	}
}

func (g *PaperGateway) GetOrder(_ context.Context, id string) (*Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	order, ok := g.orders[id]
	if !ok {
		return nil, &models.Error{Status: 404, Msg: "order not found"}
	}
	copied := *order
	return &copied, nil
}

func (g *PaperGateway) ListPositions(_ context.Context) ([]models.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	positions := make([]models.Position, 0, len(g.positions))
	for symbol, qty := range g.positions {
		positions = append(positions, models.Position{
			Symbol:     symbol,
			Qty:        qty,
			EntryPrice: g.avgEntryPrice[symbol],
		})
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// GetAccount marks positions to their last fill price.
func (g *PaperGateway) GetAccount(_ context.Context) (*Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	equity := g.cash
	for symbol, qty := range g.positions {
		equity += qty * g.lastPrice[symbol]
	}
	return &Account{Cash: g.cash, Equity: equity, DaytradingBuyingPower: math.Max(0, g.cash) * 4}, nil
}

// GetCalendar treats every weekday between start and end as a regular session.
func (g *PaperGateway) GetCalendar(_ context.Context, start, end time.Time) ([]CalendarDay, error) {
	var days []CalendarDay
	for d := models.MarketDay(start); !d.After(models.MarketDay(end)); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		days = append(days, CalendarDay{Date: d, Open: models.MarketOpen(d), Close: models.MarketClose(d)})
	}
	return days, nil
}

func (g *PaperGateway) GetClock(_ context.Context) (*Clock, error) {
	now := g.now().In(models.MarketLocation())
	day := models.MarketDay(now)
	weekday := day.Weekday() != time.Saturday && day.Weekday() != time.Sunday
	open, closeAt := models.MarketOpen(day), models.MarketClose(day)
	isOpen := weekday && !now.Before(open) && now.Before(closeAt)

	nextOpen := open
	if !weekday || !now.Before(open) {
		nextOpen = nextWeekday(day).Add(9*time.Hour + 30*time.Minute)
	}
	nextClose := closeAt
	if !weekday || !now.Before(closeAt) {
		nextClose = nextWeekday(day).Add(16 * time.Hour)
	}
	return &Clock{Timestamp: now, IsOpen: isOpen, NextOpen: nextOpen, NextClose: nextClose}, nil
}

func nextWeekday(day time.Time) time.Time {
	d := day.AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}
