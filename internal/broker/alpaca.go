package broker

import (
	"alpharius-go/internal/models"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AlpacaGateway trades through the Alpaca trading REST API.
type AlpacaGateway struct {
	keyID      string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.SugaredLogger
}

// NewAlpacaGateway creates a gateway limited to the configured requests per minute.
func NewAlpacaGateway(cfg models.BrokerConfig, logger *zap.SugaredLogger) *AlpacaGateway {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 200
	}
	return &AlpacaGateway{
		keyID:      cfg.APIKeyID,
		secretKey:  cfg.APISecretKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 5),
		logger:     logger,
	}
}

// doRequest sends an authenticated request and decodes API errors into models.Error.
func (g *AlpacaGateway) doRequest(ctx context.Context, method, endpoint string, params url.Values, payload any) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	fullURL := g.baseURL + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", g.keyID)
	req.Header.Set("APCA-API-SECRET-KEY", g.secretKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &models.Error{Status: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || apiErr.Msg == "" {
			apiErr.Msg = string(respBody)
		}
		return respBody, apiErr
	}
	return respBody, nil
}

func (g *AlpacaGateway) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	body, err := g.doRequest(ctx, http.MethodGet, endpoint, params, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

// SubmitOrder places the order and returns the broker order id. Resubmitting
// an order the broker already accepted returns the id of the accepted order.
func (g *AlpacaGateway) SubmitOrder(ctx context.Context, req OrderRequest) (string, error) {
	body, err := g.doRequest(ctx, http.MethodPost, "/v2/orders", nil, req)
	if err != nil {
		if req.ClientOrderID != "" && isDuplicateClientOrderID(err) {
			order, lookupErr := g.orderByClientID(ctx, req.ClientOrderID)
			if lookupErr == nil && order.ID != "" {
				g.logger.Infow("Order was already accepted", "symbol", req.Symbol,
					"client_order_id", req.ClientOrderID, "id", order.ID)
				return order.ID, nil
			}
			g.logger.Warnw("Failed to look up duplicate order", "client_order_id", req.ClientOrderID, "error", lookupErr)
		}
		return "", fmt.Errorf("%w: %s %s: %w", models.ErrOrderFailure, req.Side, req.Symbol, err)
	}
	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return "", fmt.Errorf("%w: decode order: %v", models.ErrOrderFailure, err)
	}
	if order.ID == "" {
		return "", fmt.Errorf("%w: %s %s: empty order id", models.ErrOrderFailure, req.Side, req.Symbol)
	}
	return order.ID, nil
}

// isDuplicateClientOrderID reports whether the broker refused an order because its client id was taken.
func isDuplicateClientOrderID(err error) bool {
	var apiErr *models.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Status != http.StatusUnprocessableEntity && apiErr.Status != http.StatusConflict {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Msg), "client_order_id")
}

func (g *AlpacaGateway) orderByClientID(ctx context.Context, clientOrderID string) (*Order, error) {
	var order Order
	params := url.Values{"client_order_id": {clientOrderID}}
	if err := g.get(ctx, "/v2/orders:by_client_order_id", params, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (g *AlpacaGateway) GetOrder(ctx context.Context, id string) (*Order, error) {
	var order Order
	if err := g.get(ctx, "/v2/orders/"+url.PathEscape(id), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

type alpacaPosition struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
}

// ListPositions returns the open positions. Entry time and portion are unknown to the broker.
func (g *AlpacaGateway) ListPositions(ctx context.Context) ([]models.Position, error) {
	var raw []alpacaPosition
	if err := g.get(ctx, "/v2/positions", nil, &raw); err != nil {
		return nil, err
	}
	positions := make([]models.Position, 0, len(raw))
	for _, p := range raw {
		positions = append(positions, models.Position{
			Symbol:     p.Symbol,
			Qty:        p.Qty.InexactFloat64(),
			EntryPrice: p.AvgEntryPrice.InexactFloat64(),
		})
	}
	return positions, nil
}

type alpacaAccount struct {
	Cash                  decimal.Decimal `json:"cash"`
	Equity                decimal.Decimal `json:"equity"`
	DaytradingBuyingPower decimal.Decimal `json:"daytrading_buying_power"`
}

func (g *AlpacaGateway) GetAccount(ctx context.Context) (*Account, error) {
	var raw alpacaAccount
	if err := g.get(ctx, "/v2/account", nil, &raw); err != nil {
		return nil, err
	}
	return &Account{
		Cash:                  raw.Cash.InexactFloat64(),
		Equity:                raw.Equity.InexactFloat64(),
		DaytradingBuyingPower: raw.DaytradingBuyingPower.InexactFloat64(),
	}, nil
}

type alpacaCalendarDay struct {
	Date  string `json:"date"`
	Open  string `json:"open"`
	Close string `json:"close"`
}

// GetCalendar returns the sessions between start and end, both inclusive.
func (g *AlpacaGateway) GetCalendar(ctx context.Context, start, end time.Time) ([]CalendarDay, error) {
	params := url.Values{}
	params.Set("start", start.Format("2006-01-02"))
	params.Set("end", end.Format("2006-01-02"))
	var raw []alpacaCalendarDay
	if err := g.get(ctx, "/v2/calendar", params, &raw); err != nil {
		return nil, err
	}

	loc := models.MarketLocation()
	days := make([]CalendarDay, 0, len(raw))
	for _, d := range raw {
		date, err := time.ParseInLocation("2006-01-02", d.Date, loc)
		if err != nil {
			return nil, fmt.Errorf("parse calendar date %q: %w", d.Date, err)
		}
		open, err := time.ParseInLocation("2006-01-02 15:04", d.Date+" "+d.Open, loc)
		if err != nil {
			return nil, fmt.Errorf("parse calendar open %q: %w", d.Open, err)
		}
		closeAt, err := time.ParseInLocation("2006-01-02 15:04", d.Date+" "+d.Close, loc)
		if err != nil {
			return nil, fmt.Errorf("parse calendar close %q: %w", d.Close, err)
		}
		days = append(days, CalendarDay{Date: date, Open: open, Close: closeAt})
	}
	return days, nil
}

type alpacaClock struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

func (g *AlpacaGateway) GetClock(ctx context.Context) (*Clock, error) {
	var raw alpacaClock
	if err := g.get(ctx, "/v2/clock", nil, &raw); err != nil {
		return nil, err
	}
	loc := models.MarketLocation()
	return &Clock{
		Timestamp: raw.Timestamp.In(loc),
		IsOpen:    raw.IsOpen,
		NextOpen:  raw.NextOpen.In(loc),
		NextClose: raw.NextClose.In(loc),
	}, nil
}
