package processor

import (
	"math"
	"sort"

	"github.com/markcheno/go-talib"
)

// mean is the simple average of values; zero for an empty slice.
func mean(values []float64) float64 {
	switch len(values) {
	case 0:
		return 0
	case 1:
		return values[0]
	}
	sma := talib.Sma(values, len(values))
	return sma[len(sma)-1]
}

// stdDev is the population standard deviation of values.
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	dev := talib.StdDev(values, len(values), 1)
	return dev[len(dev)-1]
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func minimum(values []float64) float64 {
	m := math.Inf(1)
	for _, v := range values {
		m = math.Min(m, v)
	}
	return m
}

func sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}
