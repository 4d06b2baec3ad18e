package processor

import (
	"alpharius-go/internal/models"
	"sync"
	"time"
)

// Snapshot is the view of one symbol at one tick. Interday holds the daily
// bars before today and Intraday the 5-minute bars up to the current interval.
type Snapshot struct {
	Symbol   string
	Time     time.Time
	Price    float64
	Interday models.Series
	Intraday models.Series
	Mode     models.Mode

	openOnce  sync.Once
	openIndex int
	openFound bool

	rangeOnce sync.Once
	h2lAvg    float64
	h2lStd    float64
	l2hAvg    float64
}

// PrevDayClose is the close of the last daily bar.
func (s *Snapshot) PrevDayClose() float64 {
	if len(s.Interday) == 0 {
		return 0
	}
	return s.Interday.Last().Close
}

// MarketOpenIndex is the index of the first intraday bar at or after 09:30.
func (s *Snapshot) MarketOpenIndex() (int, bool) {
	s.openOnce.Do(func() {
		for i, bar := range s.Intraday {
			if models.ClockOf(bar.Time) >= 9*time.Hour+30*time.Minute {
				s.openIndex, s.openFound = i, true
				return
			}
		}
	})
	return s.openIndex, s.openFound
}

// TodayOpen is the open of the first regular-session bar.
func (s *Snapshot) TodayOpen() (float64, bool) {
	i, ok := s.MarketOpenIndex()
	if !ok {
		return 0, false
	}
	return s.Intraday[i].Open, true
}

func (s *Snapshot) computeRanges() {
	s.rangeOnce.Do(func() {
		month := s.Interday.Tail(models.DaysInAMonth)
		h2l := make([]float64, len(month))
		l2h := make([]float64, len(month))
		for i, bar := range month {
			h2l[i] = bar.Low/bar.High - 1
			l2h[i] = bar.High/bar.Low - 1
		}
		s.h2lAvg, s.h2lStd, s.l2hAvg = mean(h2l), stdDev(h2l), mean(l2h)
	})
}

// H2lAvg is the average daily low/high-1 over the last 20 daily bars.
func (s *Snapshot) H2lAvg() float64 {
	s.computeRanges()
	return s.h2lAvg
}

func (s *Snapshot) H2lStd() float64 {
	s.computeRanges()
	return s.h2lStd
}

// L2hAvg is the average daily high/low-1 over the last 20 daily bars.
func (s *Snapshot) L2hAvg() float64 {
	s.computeRanges()
	return s.l2hAvg
}
