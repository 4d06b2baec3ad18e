package recorder

import (
	"alpharius-go/internal/models"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockSink is an in-memory Sink that records every call.
type mockSink struct {
	sync.Mutex
	transactions []models.Transaction
	aggregations []models.Aggregation
	logs         map[string]string
	insertError  error
	closed       bool
	block        chan struct{}
}

func newMockSink() *mockSink {
	return &mockSink{logs: make(map[string]string)}
}

func (m *mockSink) InsertTransaction(_ context.Context, tx models.Transaction) error {
	if m.block != nil {
		<-m.block
	}
	m.Lock()
	defer m.Unlock()
	if m.insertError != nil {
		return m.insertError
	}
	m.transactions = append(m.transactions, tx)
	return nil
}

func (m *mockSink) Transactions(_ context.Context, start, end time.Time) ([]models.Transaction, error) {
	m.Lock()
	defer m.Unlock()
	var out []models.Transaction
	for _, tx := range m.transactions {
		if !tx.ExitTime.Before(start) && tx.ExitTime.Before(end) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *mockSink) UpsertAggregation(_ context.Context, agg models.Aggregation) error {
	m.Lock()
	defer m.Unlock()
	m.aggregations = append(m.aggregations, agg)
	return nil
}

func (m *mockSink) Aggregations(context.Context) ([]models.Aggregation, error) {
	m.Lock()
	defer m.Unlock()
	return m.aggregations, nil
}

func (m *mockSink) UpsertLog(_ context.Context, _ time.Time, logger, content string) error {
	m.Lock()
	defer m.Unlock()
	m.logs[logger] = content
	return nil
}

func (m *mockSink) Log(_ context.Context, _ time.Time, logger string) (string, error) {
	m.Lock()
	defer m.Unlock()
	return m.logs[logger], nil
}

func (m *mockSink) Close() error {
	m.Lock()
	defer m.Unlock()
	m.closed = true
	return nil
}

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, models.MarketLocation())

func closedAt(symbol, processor string, hour int) models.Transaction {
	exit := day.Add(time.Duration(hour) * time.Hour)
	return models.Transaction{
		ID: models.TransactionID(symbol, exit), Symbol: symbol, Processor: processor,
		ExitTime: exit, GL: 1, GLPct: 0.01,
	}
}

func TestRecorderWritesTransactionsAndAggregation(t *testing.T) {
	sink := newMockSink()
	r := New(sink, zap.NewNop().Sugar())
	r.Start()

	ok := r.Dispatch(Event{Type: TransactionsEvent, Day: day, Transactions: []models.Transaction{
		closedAt("AAPL", "O2h", 10),
		closedAt("MSFT", "", 11),
	}})
	require.True(t, ok)
	r.Stop(time.Second)

	sink.Lock()
	defer sink.Unlock()
	require.Len(t, sink.transactions, 1, "transactions without a processor are not recorded")
	require.Len(t, sink.aggregations, 1)
	assert.Equal(t, "O2h", sink.aggregations[0].Processor)
	assert.True(t, sink.closed)
}

func TestRecorderLogsInsertErrors(t *testing.T) {
	sink := newMockSink()
	sink.insertError = errors.New("duplicate key")
	r := New(sink, zap.NewNop().Sugar())
	r.Start()

	r.Dispatch(Event{Type: TransactionsEvent, Day: day, Transactions: []models.Transaction{closedAt("AAPL", "O2h", 10)}})
	r.Stop(time.Second)

	sink.Lock()
	defer sink.Unlock()
	assert.Empty(t, sink.transactions)
	assert.Empty(t, sink.aggregations)
}

func TestRecorderUploadsLogs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "o2h.txt"), []byte("opened"), 0o644))

	sink := newMockSink()
	r := New(sink, zap.NewNop().Sugar())
	r.Start()
	r.Dispatch(Event{Type: LogUploadEvent, Day: day, Dir: dir})
	r.Stop(time.Second)

	sink.Lock()
	defer sink.Unlock()
	assert.Equal(t, "opened", sink.logs["O2h"])
}

// TestRecorderDispatchNeverBlocks verifies that a stuck sink does not stall the caller.
func TestRecorderDispatchNeverBlocks(t *testing.T) {
	sink := newMockSink()
	sink.block = make(chan struct{})
	r := New(sink, zap.NewNop().Sugar())
	r.Start()

	event := Event{Type: TransactionsEvent, Day: day, Transactions: []models.Transaction{closedAt("AAPL", "O2h", 10)}}
	dropped := false
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < cap(r.events)+2; i++ {
			if !r.Dispatch(event) {
				dropped = true
			}
		}
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked")
	}
	assert.True(t, dropped, "a full queue drops events")

	r.Stop(10 * time.Millisecond)
	close(sink.block)
	assert.False(t, r.Dispatch(event), "dispatch after stop is ignored")
}

func TestRecorderWithoutSink(t *testing.T) {
	r := New(nil, zap.NewNop().Sugar())
	r.Start()
	assert.False(t, r.Dispatch(Event{Type: LogUploadEvent, Day: day}))
	r.Stop(time.Second)
}
