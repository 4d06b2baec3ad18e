package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPostgresStore runs against a real server when TEST_POSTGRES_DSN is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	store, err := NewPostgresStore(dsn)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	store.db.Exec("DELETE FROM transaction")
	store.db.Exec("DELETE FROM aggregation")

	store.db.Exec("DELETE FROM log")

	tx := transaction("AAPL", "O2h", at(4, 10, 35), 2, 0.02)
	tx.Slippage = ptr(0.1)
	require.NoError(t, store.InsertTransaction(ctx, tx))
	assert.Error(t, store.InsertTransaction(ctx, tx))
	require.NoError(t, UpdateAggregation(ctx, store, at(4, 16, 0)))

	aggs, err := store.Aggregations(ctx)
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	assert.Equal(t, 1, aggs[0].SlippageCount)

	require.NoError(t, store.UpsertLog(ctx, at(4, 0, 0), "Trading", "first"))
	require.NoError(t, store.UpsertLog(ctx, at(4, 0, 0), "Trading", "second"))
	content, err := store.Log(ctx, at(4, 0, 0), "Trading")
	require.NoError(t, err)
	assert.Equal(t, "second", content)
	content, err = store.Log(ctx, at(5, 0, 0), "Trading")
	require.NoError(t, err)
	assert.Empty(t, content)
}
