package processor

import (
	"alpharius-go/internal/models"
	"time"
)

var testDay = time.Date(2024, 3, 4, 0, 0, 0, 0, models.MarketLocation())

// dailyBars builds n daily bars ending the day before testDay.
func dailyBars(n int, bar func(i int) models.Bar) models.Series {
	s := make(models.Series, n)
	for i := 0; i < n; i++ {
		b := bar(i)
		b.Time = testDay.AddDate(0, 0, i-n)
		s[i] = b
	}
	return s
}

// sessionBars builds 5-minute bars starting at 09:30 of testDay.
func sessionBars(opens, closes []float64) models.Series {
	s := make(models.Series, len(opens))
	start := models.MarketOpen(testDay)
	for i := range opens {
		s[i] = models.Bar{
			Time:  start.Add(time.Duration(i) * models.Interval),
			Open:  opens[i],
			High:  max(opens[i], closes[i]),
			Low:   min(opens[i], closes[i]),
			Close: closes[i],
		}
	}
	return s
}

// tick returns the time of the tick closing the interval that starts at 09:30 + i*5m.
func tick(i int) time.Time {
	return models.MarketOpen(testDay).Add(time.Duration(i+1) * models.Interval)
}
