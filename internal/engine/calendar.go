package engine

import (
	"alpharius-go/internal/broker"
	"alpharius-go/internal/models"
	"context"
	"fmt"
	"time"
)

// GatewayCalendar reads trading dates from the broker's market calendar.
type GatewayCalendar struct {
	gateway broker.Gateway
}

func NewGatewayCalendar(gw broker.Gateway) *GatewayCalendar {
	return &GatewayCalendar{gateway: gw}
}

// TradingDays lists the sessions with start <= date < end.
func (c *GatewayCalendar) TradingDays(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	sessions, err := c.gateway.GetCalendar(ctx, start, end.AddDate(0, 0, -1))
	if err != nil {
		return nil, fmt.Errorf("broker calendar: %w", err)
	}
	days := make([]time.Time, 0, len(sessions))
	for _, s := range sessions {
		day := models.MarketDay(s.Date)
		if !day.Before(models.MarketDay(start)) && day.Before(end) {
			days = append(days, day)
		}
	}
	return days, nil
}
