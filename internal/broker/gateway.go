package broker

import (
	"alpharius-go/internal/models"
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Order statuses reported by the broker.
const (
	StatusNew      = "new"
	StatusFilled   = "filled"
	StatusCanceled = "canceled"
	StatusRejected = "rejected"
)

// OrderRequest is a market day order sized either by Qty or by Notional.
type OrderRequest struct {
	Symbol        string           `json:"symbol"`
	Side          Side             `json:"side"`
	Type          string           `json:"type"`
	TimeInForce   string           `json:"time_in_force"`
	Qty           *decimal.Decimal `json:"qty,omitempty"`
	Notional      *decimal.Decimal `json:"notional,omitempty"`
	ClientOrderID string           `json:"client_order_id,omitempty"`
}

// MarketOrder builds a day market order. Exactly one of qty and notional should be set.
func MarketOrder(symbol string, side Side, qty, notional *decimal.Decimal) OrderRequest {
	return OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Type:          "market",
		TimeInForce:   "day",
		Qty:           qty,
		Notional:      notional,
		ClientOrderID: NewClientOrderID(),
	}
}

// Order is the broker's view of a submitted order.
type Order struct {
	ID             string           `json:"id"`
	ClientOrderID  string           `json:"client_order_id"`
	Symbol         string           `json:"symbol"`
	Side           Side             `json:"side"`
	Status         string           `json:"status"`
	Qty            *decimal.Decimal `json:"qty"`
	Notional       *decimal.Decimal `json:"notional"`
	FilledQty      decimal.Decimal  `json:"filled_qty"`
	FilledAvgPrice *decimal.Decimal `json:"filled_avg_price"`
	SubmittedAt    time.Time        `json:"submitted_at"`
	FilledAt       *time.Time       `json:"filled_at"`
}

func (o *Order) Filled() bool {
	return o.Status == StatusFilled
}

// Account holds the balances the live engine sizes orders with.
type Account struct {
	Cash                  float64
	Equity                float64
	DaytradingBuyingPower float64
}

// CalendarDay is one trading session of the broker calendar.
type CalendarDay struct {
	Date  time.Time
	Open  time.Time
	Close time.Time
}

// Clock is the broker's market clock.
type Clock struct {
	Timestamp time.Time
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
}

// Gateway is the brokerage surface the live engine trades through.
type Gateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (string, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
	ListPositions(ctx context.Context) ([]models.Position, error)
	GetAccount(ctx context.Context) (*Account, error)
	GetCalendar(ctx context.Context, start, end time.Time) ([]CalendarDay, error)
	GetClock(ctx context.Context) (*Clock, error)
}
