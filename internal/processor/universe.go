package processor

import (
	"alpharius-go/internal/models"
	"sort"
	"sync"
	"time"
)

// Universe selects the symbols a processor watches on a trading date.
type Universe interface {
	Symbols(asOf time.Time) []string
}

type scored struct {
	symbol string
	score  float64
}

// rank orders by descending score, then symbol, and keeps the first n.
func rank(items []scored, n int) []scored {
	sort.Slice(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].symbol < items[j].symbol
	})
	if len(items) > n {
		items = items[:n]
	}
	return items
}

// monthBefore returns the last 20 daily bars strictly before the date of asOf.
func monthBefore(series models.Series, asOf time.Time) (models.Series, bool) {
	window := series.Before(models.MarketDay(asOf)).Tail(models.DaysInAMonth)
	return window, len(window) == models.DaysInAMonth
}

func dollarVolume(window models.Series) float64 {
	values := make([]float64, len(window))
	for i, bar := range window {
		values[i] = bar.Close * bar.Volume
	}
	return mean(values)
}

type memoUniverse struct {
	mu   sync.Mutex
	memo map[string][]string
}

func (m *memoUniverse) get(asOf time.Time, compute func(time.Time) []string) []string {
	key := models.MarketDay(asOf).Format("2006-01-02")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.memo == nil {
		m.memo = make(map[string][]string)
	}
	if v, ok := m.memo[key]; ok {
		return v
	}
	v := compute(asOf)
	m.memo[key] = v
	return v
}

// TopVolumeUniverse picks the symbols with the highest 20-day average dollar volume.
type TopVolumeUniverse struct {
	interday map[string]models.Series
	size     int
	memo     memoUniverse
}

func NewTopVolumeUniverse(interday map[string]models.Series, size int) *TopVolumeUniverse {
	return &TopVolumeUniverse{interday: interday, size: size}
}

func (u *TopVolumeUniverse) Symbols(asOf time.Time) []string {
	return u.memo.get(asOf, func(asOf time.Time) []string {
		return symbolsOf(topVolume(u.interday, asOf, u.size))
	})
}

func topVolume(interday map[string]models.Series, asOf time.Time, n int) []scored {
	items := make([]scored, 0, len(interday))
	for symbol, series := range interday {
		window, ok := monthBefore(series, asOf)
		if !ok {
			continue
		}
		items = append(items, scored{symbol: symbol, score: dollarVolume(window)})
	}
	return rank(items, n)
}

// IntradayVolatilityUniverse picks the most volatile symbols, measured by the
// 20-day average high/low range, among the most traded ones.
type IntradayVolatilityUniverse struct {
	interday  map[string]models.Series
	size      int
	topVolume int
	memo      memoUniverse
}

func NewIntradayVolatilityUniverse(interday map[string]models.Series, size, topVolume int) *IntradayVolatilityUniverse {
	return &IntradayVolatilityUniverse{interday: interday, size: size, topVolume: topVolume}
}

func (u *IntradayVolatilityUniverse) Symbols(asOf time.Time) []string {
	return u.memo.get(asOf, func(asOf time.Time) []string {
		candidates := topVolume(u.interday, asOf, u.topVolume)
		items := make([]scored, 0, len(candidates))
		for _, c := range candidates {
			window, _ := monthBefore(u.interday[c.symbol], asOf)
			ranges := make([]float64, len(window))
			for i, bar := range window {
				ranges[i] = bar.High/bar.Low - 1
			}
			items = append(items, scored{symbol: c.symbol, score: mean(ranges)})
		}
		return symbolsOf(rank(items, u.size))
	})
}

func symbolsOf(items []scored) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.symbol
	}
	return out
}

// union merges symbol lists into one sorted list without duplicates.
func union(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}
