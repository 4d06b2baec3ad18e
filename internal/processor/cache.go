package processor

import (
	"alpharius-go/internal/models"
	"time"
)

type sessionKey struct {
	symbol string
	date   string
}

// SessionCache memoises per-(symbol, trading date) values. Clear it from ResetForSession.
type SessionCache[V any] struct {
	values map[sessionKey]V
}

func NewSessionCache[V any]() *SessionCache[V] {
	return &SessionCache[V]{values: make(map[sessionKey]V)}
}

func keyOf(symbol string, t time.Time) sessionKey {
	return sessionKey{symbol: symbol, date: models.MarketDay(t).Format("2006-01-02")}
}

// GetOrCompute returns the cached value or stores the result of compute.
func (c *SessionCache[V]) GetOrCompute(symbol string, t time.Time, compute func() V) V {
	k := keyOf(symbol, t)
	if v, ok := c.values[k]; ok {
		return v
	}
	v := compute()
	c.values[k] = v
	return v
}

func (c *SessionCache[V]) Len() int {
	return len(c.values)
}

func (c *SessionCache[V]) Clear() {
	c.values = make(map[sessionKey]V)
}
