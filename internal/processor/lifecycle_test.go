package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleTransitions(t *testing.T) {
	l := NewLifecycles()
	now := time.Now()

	assert.Equal(t, StatusNone, l.Status("AAPL"))
	assert.False(t, l.Confirm("AAPL"), "nothing to confirm")

	require.True(t, l.MarkPending("AAPL", now))
	assert.Equal(t, StatusPending, l.Status("AAPL"))
	assert.False(t, l.MarkClosing("AAPL"), "pending cannot close")

	assert.False(t, l.SetMeta("MSFT", "entry_price", 1), "untracked symbols carry no meta")
	require.True(t, l.SetMeta("AAPL", "entry_price", 180))

	require.True(t, l.Confirm("AAPL"))
	assert.False(t, l.Confirm("AAPL"), "confirmation happens once")
	lc, _ := l.Get("AAPL")
	assert.Equal(t, 180.0, lc.Meta["entry_price"], "meta survives transitions")
	assert.False(t, l.MarkPending("AAPL", now), "active cannot be re-opened")

	require.True(t, l.MarkClosing("AAPL"))
	assert.Equal(t, StatusClosing, l.Status("AAPL"))

	l.MarkPending("MSFT", now)
	l.MarkPending("TSLA", now)
	l.Confirm("TSLA")
	l.Prune()
	assert.Equal(t, []string{"TSLA"}, l.Symbols())

	l.Remove("TSLA")
	assert.Equal(t, 0, l.Len())
}

func TestSessionCache(t *testing.T) {
	c := NewSessionCache[int]()
	calls := 0
	compute := func() int { calls++; return calls }

	morning := testDay.Add(10 * time.Hour)
	assert.Equal(t, 1, c.GetOrCompute("AAPL", morning, compute))
	assert.Equal(t, 1, c.GetOrCompute("AAPL", morning.Add(time.Hour), compute), "same date hits the cache")
	assert.Equal(t, 2, c.GetOrCompute("AAPL", morning.AddDate(0, 0, 1), compute))
	assert.Equal(t, 3, c.GetOrCompute("MSFT", morning, compute))

	c.Clear()
	assert.Equal(t, 0, c.Len())
}
