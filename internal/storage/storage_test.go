package storage

import (
	"alpharius-go/internal/models"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "alpharius.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func at(day, hour, minute int) time.Time {
	return time.Date(2024, 3, day, hour, minute, 0, 0, models.MarketLocation())
}

func ptr(v float64) *float64 { return &v }

func transaction(symbol, processor string, exit time.Time, gl, glPct float64) models.Transaction {
	return models.Transaction{
		ID:         models.TransactionID(symbol, exit),
		Symbol:     symbol,
		IsLong:     true,
		Processor:  processor,
		EntryPrice: 100,
		ExitPrice:  100 + gl,
		EntryTime:  exit.Add(-30 * time.Minute),
		ExitTime:   exit,
		Qty:        1,
		GL:         gl,
		GLPct:      glPct,
	}
}

func TestSQLiteInsertAndQueryTransactions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx := transaction("AAPL", "O2h", at(4, 10, 35), 2, 0.02)
	tx.Slippage = ptr(-0.1)
	tx.SlippagePct = ptr(-0.001)
	require.NoError(t, store.InsertTransaction(ctx, tx))
	require.NoError(t, store.InsertTransaction(ctx, transaction("MSFT", "", at(5, 11, 0), -1, -0.01)))

	assert.Error(t, store.InsertTransaction(ctx, tx), "duplicate id must be rejected")

	txs, err := store.Transactions(ctx, at(4, 0, 0), at(5, 0, 0))
	require.NoError(t, err)
	require.Len(t, txs, 1)
	got := txs[0]
	assert.Equal(t, "AAPL 2024-03-04 10:35", got.ID)
	assert.Equal(t, "O2h", got.Processor)
	assert.True(t, got.ExitTime.Equal(tx.ExitTime))
	require.NotNil(t, got.Slippage)
	assert.Equal(t, -0.1, *got.Slippage)

	txs, err = store.Transactions(ctx, at(5, 0, 0), at(6, 0, 0))
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Empty(t, txs[0].Processor)
	assert.Nil(t, txs[0].Slippage, "zero or missing slippage is stored as null")
}

func TestUpdateAggregation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := transaction("AAPL", "O2h", at(4, 10, 35), 2, 0.02)
	a.Slippage, a.SlippagePct = ptr(-0.2), ptr(-0.002)
	b := transaction("MSFT", "O2h", at(4, 10, 40), -1, -0.01)
	c := transaction("TSLA", "Overnight", at(4, 9, 35), 0, 0)
	d := transaction("NVDA", "", at(4, 12, 0), 5, 0.05)
	for _, tx := range []models.Transaction{a, b, c, d} {
		require.NoError(t, store.InsertTransaction(ctx, tx))
	}

	require.NoError(t, UpdateAggregation(ctx, store, at(4, 16, 0)))
	// Recomputing the same day overwrites the rows instead of adding new ones.
	require.NoError(t, UpdateAggregation(ctx, store, at(4, 16, 0)))

	aggs, err := store.Aggregations(ctx)
	require.NoError(t, err)
	require.Len(t, aggs, 2)

	o2h := aggs[0]
	assert.Equal(t, "O2h", o2h.Processor)
	assert.True(t, o2h.Date.Equal(at(4, 0, 0)))
	assert.InDelta(t, 1, o2h.GL, 1e-9)
	assert.InDelta(t, 0.005, o2h.AvgGLPct, 1e-9)
	assert.Equal(t, 2, o2h.Count)
	assert.Equal(t, 1, o2h.WinCount)
	assert.Equal(t, 1, o2h.LoseCount)
	assert.Equal(t, 1, o2h.SlippageCount)
	assert.InDelta(t, -0.002, o2h.AvgSlippagePct, 1e-9)

	overnight := aggs[1]
	assert.Equal(t, "Overnight", overnight.Processor)
	assert.Equal(t, 1, overnight.WinCount, "a flat trade counts as a win")
}

func TestUploadLogs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "h2l_hour.txt"), []byte("opened AAPL"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "details.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("skip"), 0o644))

	require.NoError(t, UploadLogs(ctx, store, at(4, 0, 0), dir))
	content, err := store.Log(ctx, at(4, 0, 0), "H2lHour")
	require.NoError(t, err)
	assert.Equal(t, "opened AAPL", content)

	content, err = store.Log(ctx, at(4, 0, 0), "Details")
	require.NoError(t, err)
	assert.Empty(t, content, "empty files are not uploaded")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "h2l_hour.txt"), []byte("opened AAPL\nclosed AAPL"), 0o644))
	require.NoError(t, UploadLogs(ctx, store, at(4, 0, 0), dir))
	content, _ = store.Log(ctx, at(4, 0, 0), "H2lHour")
	assert.Equal(t, "opened AAPL\nclosed AAPL", content)

	assert.NoError(t, UploadLogs(ctx, store, at(4, 0, 0), filepath.Join(dir, "missing")))
}

func TestOpen(t *testing.T) {
	sink, err := Open(models.StorageConfig{})
	require.NoError(t, err)
	assert.Nil(t, sink)

	sink, err = Open(models.StorageConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	require.NotNil(t, sink)
	assert.NoError(t, sink.Close())

	_, err = Open(models.StorageConfig{Driver: "mongo"})
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestCamelName(t *testing.T) {
	assert.Equal(t, "H2lHour", camelName("h2l_hour"))
	assert.Equal(t, "O2h", camelName("o2h"))
	assert.Equal(t, "Summary", camelName("summary"))
}
