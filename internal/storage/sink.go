package storage

import (
	"alpharius-go/internal/models"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Sink records live trading results for later reporting.
type Sink interface {
	// InsertTransaction fails if a transaction with the same id exists.
	InsertTransaction(ctx context.Context, tx models.Transaction) error
	// Transactions returns the transactions that exited in [start, end).
	Transactions(ctx context.Context, start, end time.Time) ([]models.Transaction, error)
	UpsertAggregation(ctx context.Context, agg models.Aggregation) error
	Aggregations(ctx context.Context) ([]models.Aggregation, error)
	UpsertLog(ctx context.Context, day time.Time, logger, content string) error
	// Log returns the stored content of (day, logger), or "" if none exists.
	Log(ctx context.Context, day time.Time, logger string) (string, error)
	Close() error
}

// Open creates the sink selected by driver. An empty driver disables recording.
func Open(cfg models.StorageConfig) (Sink, error) {
	switch strings.ToLower(cfg.Driver) {
	case "":
		return nil, nil
	case "sqlite":
		store, err := NewSQLiteStore(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		store, err := NewPostgresStore(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("%w: unknown storage driver %q", models.ErrConfiguration, cfg.Driver)
}

// UpdateAggregation recomputes the per-processor aggregation of day from its transactions.
func UpdateAggregation(ctx context.Context, sink Sink, day time.Time) error {
	start := models.MarketDay(day)
	txs, err := sink.Transactions(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return fmt.Errorf("load transactions of %s: %w", start.Format("2006-01-02"), err)
	}
	for _, agg := range Aggregate(start, txs) {
		if err := sink.UpsertAggregation(ctx, agg); err != nil {
			return fmt.Errorf("upsert aggregation of %s: %w", agg.Processor, err)
		}
	}
	return nil
}

// Aggregate groups transactions by processor. Transactions without a processor are ignored.
func Aggregate(day time.Time, txs []models.Transaction) []models.Aggregation {
	type acc struct {
		agg            models.Aggregation
		glPctSum       float64
		slippagePctSum float64
	}
	byProcessor := make(map[string]*acc)
	for _, tx := range txs {
		if tx.Processor == "" {
			continue
		}
		a, ok := byProcessor[tx.Processor]
		if !ok {
			a = &acc{agg: models.Aggregation{Date: models.MarketDay(day), Processor: tx.Processor}}
			byProcessor[tx.Processor] = a
		}
		a.agg.GL += tx.GL
		a.glPctSum += tx.GLPct
		if tx.Slippage != nil && *tx.Slippage != 0 {
			a.agg.Slippage += *tx.Slippage
			if tx.SlippagePct != nil {
				a.slippagePctSum += *tx.SlippagePct
			}
			a.agg.SlippageCount++
		}
		a.agg.Count++
		if tx.GL >= 0 {
			a.agg.WinCount++
		} else {
			a.agg.LoseCount++
		}
	}

	out := make([]models.Aggregation, 0, len(byProcessor))
	for _, a := range byProcessor {
		a.agg.AvgGLPct = a.glPctSum / float64(a.agg.Count)
		if a.agg.SlippageCount > 0 {
			a.agg.AvgSlippagePct = a.slippagePctSum / float64(a.agg.SlippageCount)
		}
		out = append(out, a.agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Processor < out[j].Processor })
	return out
}

// UploadLogs stores every non-empty .txt file of dir under its CamelCase logger name.
func UploadLogs(ctx context.Context, sink Sink, day time.Time, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".txt") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if len(content) == 0 {
			continue
		}
		if err := sink.UpsertLog(ctx, day, camelName(strings.TrimSuffix(name, ".txt")), string(content)); err != nil {
			return fmt.Errorf("upload log %s: %w", name, err)
		}
	}
	return nil
}

// camelName turns "h2l_hour" into "H2lHour".
func camelName(snake string) string {
	var b strings.Builder
	for _, part := range strings.Split(snake, "_") {
		if part == "" {
			continue
		}
		r := []rune(part)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	return b.String()
}

func nullable(v *float64) *float64 {
	if v == nil || *v == 0 {
		return nil
	}
	return v
}
