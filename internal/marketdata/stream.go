package marketdata

import (
	"alpharius-go/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait
	reconnectDelay = 5 * time.Second
	// maxTradeAge is how long a streamed price stands in for the latest trade.
	maxTradeAge = models.Interval
)

type streamedTrade struct {
	price float64
	at    time.Time
}

type streamMessage struct {
	T   string  `json:"T"`
	S   string  `json:"S"`
	P   float64 `json:"p"`
	Msg string  `json:"msg"`
}

// TradeStream keeps the latest trade price of subscribed symbols from the
// Alpaca market data WebSocket. Run maintains the connection and reconnects
// until its context is cancelled. Prices older than maxTradeAge, or received
// before the last disconnect, are not reported.
type TradeStream struct {
	url       string
	keyID     string
	secretKey string
	logger    *zap.SugaredLogger

	mu      sync.RWMutex
	prices  map[string]streamedTrade
	symbols map[string]bool
	now     func() time.Time

	writeMu sync.Mutex
	conn    *websocket.Conn
}

func NewTradeStream(url, keyID, secretKey string, logger *zap.SugaredLogger) *TradeStream {
	return &TradeStream{
		url:       url,
		keyID:     keyID,
		secretKey: secretKey,
		logger:    logger,
		prices:    make(map[string]streamedTrade),
		symbols:   make(map[string]bool),
		now:       time.Now,
	}
}

// Subscribe adds symbols to the trade subscription. It takes effect on the
// live connection immediately and is replayed after every reconnect.
func (s *TradeStream) Subscribe(symbols []string) error {
	s.mu.Lock()
	var added []string
	for _, symbol := range symbols {
		if !s.symbols[symbol] {
			s.symbols[symbol] = true
			added = append(added, symbol)
		}
	}
	s.mu.Unlock()
	if len(added) == 0 {
		return nil
	}
	return s.writeJSON(map[string]any{"action": "subscribe", "trades": added})
}

// LatestTrades returns the fresh streamed prices of the requested symbols.
func (s *TradeStream) LatestTrades(_ context.Context, symbols []string) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-maxTradeAge)
	prices := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		if tr, ok := s.prices[symbol]; ok && tr.at.After(cutoff) {
			prices[symbol] = tr.price
		}
	}
	return prices, nil
}

// Run is the connection loop.
func (s *TradeStream) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			s.logger.Info("Trade stream stopped")
			return
		}
		if err := s.connect(ctx); err != nil {
			s.logger.Warnw("Trade stream connection failed, retrying", "error", err, "delay", reconnectDelay)
		} else {
			s.logger.Info("Trade stream connected")
			if err := s.handleMessages(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warnw("Trade stream disconnected", "error", err)
			}
			s.closeConn()
		}
		select {
		case <-ctx.Done():
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *TradeStream) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	s.conn = conn
	s.writeMu.Unlock()

	if err := s.writeJSON(map[string]any{"action": "auth", "key": s.keyID, "secret": s.secretKey}); err != nil {
		s.closeConn()
		return fmt.Errorf("authenticate: %w", err)
	}

	s.mu.RLock()
	symbols := make([]string, 0, len(s.symbols))
	for symbol := range s.symbols {
		symbols = append(symbols, symbol)
	}
	s.mu.RUnlock()
	if len(symbols) > 0 {
		sort.Strings(symbols)
		if err := s.writeJSON(map[string]any{"action": "subscribe", "trades": symbols}); err != nil {
			s.closeConn()
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	return nil
}

// handleMessages reads until the connection breaks and keeps it alive with pings.
func (s *TradeStream) handleMessages(ctx context.Context) error {
	s.writeMu.Lock()
	conn := s.conn
	s.writeMu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()
	pingStop := make(chan struct{})
	defer close(pingStop)

	go func() {
		for {
			select {
			case <-pingTicker.C:
				s.writeMu.Lock()
				err := conn.WriteMessage(websocket.PingMessage, nil)
				s.writeMu.Unlock()
				if err != nil {
					s.logger.Warnw("Failed to send ping", "error", err)
					return
				}
			case <-ctx.Done():
				s.writeMu.Lock()
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				s.writeMu.Unlock()
				conn.Close()
				return
			case <-pingStop:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		s.handleMessage(message)
	}
}

func (s *TradeStream) handleMessage(message []byte) {
	var batch []streamMessage
	if err := json.Unmarshal(message, &batch); err != nil {
		s.logger.Warnw("Failed to decode stream message", "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, m := range batch {
		switch m.T {
		case "t":
			if m.P > 0 {
				s.prices[m.S] = streamedTrade{price: m.P, at: now}
			}
		case "error":
			s.logger.Errorw("Trade stream error", "msg", m.Msg)
		}
	}
}

func (s *TradeStream) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.WriteJSON(v)
}

// closeConn drops the connection and the prices it delivered.
func (s *TradeStream) closeConn() {
	s.writeMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.writeMu.Unlock()

	s.mu.Lock()
	s.prices = make(map[string]streamedTrade)
	s.mu.Unlock()
}

// CombinedTrades prefers the primary source and asks the fallback for the rest.
type CombinedTrades struct {
	primary  TradeSource
	fallback TradeSource
}

func NewCombinedTrades(primary, fallback TradeSource) *CombinedTrades {
	return &CombinedTrades{primary: primary, fallback: fallback}
}

func (c *CombinedTrades) LatestTrades(ctx context.Context, symbols []string) (map[string]float64, error) {
	prices, err := c.primary.LatestTrades(ctx, symbols)
	if err != nil {
		prices = make(map[string]float64, len(symbols))
	}
	var missing []string
	for _, symbol := range symbols {
		if _, ok := prices[symbol]; !ok {
			missing = append(missing, symbol)
		}
	}
	if len(missing) == 0 {
		return prices, nil
	}
	rest, err := c.fallback.LatestTrades(ctx, missing)
	if err != nil {
		return prices, err
	}
	for symbol, p := range rest {
		prices[symbol] = p
	}
	return prices, nil
}
