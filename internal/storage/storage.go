package storage

import (
	"alpharius-go/internal/models"
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // Import the sqlite3 driver
)

// SQLiteStore is a Sink backed by a local sqlite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database and creates the necessary tables.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// createTables creates the necessary database tables if they don't exist.
func createTables(db *sql.DB) error {
	// Times are stored as unix seconds so that range queries compare integers.
	createTransactionTableSQL := `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		is_long BOOLEAN NOT NULL,
		processor TEXT,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		entry_time INTEGER NOT NULL,
		exit_time INTEGER NOT NULL,
		qty REAL NOT NULL,
		gl REAL NOT NULL,
		gl_pct REAL NOT NULL,
		slippage REAL,
		slippage_pct REAL
	);`
	if _, err := db.Exec(createTransactionTableSQL); err != nil {
		return err
	}

	createAggregationTableSQL := `
	CREATE TABLE IF NOT EXISTS aggregation (
		date TEXT NOT NULL,
		processor TEXT NOT NULL,
		gl REAL NOT NULL,
		avg_gl_pct REAL NOT NULL,
		slippage REAL NOT NULL,
		avg_slippage_pct REAL NOT NULL,
		count INTEGER NOT NULL,
		win_count INTEGER NOT NULL,
		lose_count INTEGER NOT NULL,
		slippage_count INTEGER NOT NULL,
		PRIMARY KEY (date, processor)
	);`
	if _, err := db.Exec(createAggregationTableSQL); err != nil {
		return err
	}

	createLogTableSQL := `
	CREATE TABLE IF NOT EXISTS log (
		date TEXT NOT NULL,
		logger TEXT NOT NULL,
		content TEXT NOT NULL,
		PRIMARY KEY (date, logger)
	);`
	if _, err := db.Exec(createLogTableSQL); err != nil {
		return err
	}

	return nil
}

const insertTransactionSQL = `
	INSERT INTO transactions (id, symbol, is_long, processor, entry_price, exit_price,
		entry_time, exit_time, qty, gl, gl_pct, slippage, slippage_pct)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertTransaction inserts a new transaction into the database.
func (s *SQLiteStore) InsertTransaction(ctx context.Context, tx models.Transaction) error {
	if _, err := s.db.ExecContext(ctx, insertTransactionSQL, transactionArgs(tx)...); err != nil {
		return fmt.Errorf("failed to insert transaction %s: %w", transactionID(tx), err)
	}
	return nil
}

func transactionID(tx models.Transaction) string {
	if tx.ID != "" {
		return tx.ID
	}
	return models.TransactionID(tx.Symbol, tx.ExitTime)
}

func transactionArgs(tx models.Transaction) []any {
	var processor any
	if tx.Processor != "" {
		processor = tx.Processor
	}
	return []any{
		transactionID(tx), tx.Symbol, tx.IsLong, processor, tx.EntryPrice, tx.ExitPrice,
		tx.EntryTime.Unix(), tx.ExitTime.Unix(), tx.Qty, tx.GL, tx.GLPct,
		nullable(tx.Slippage), nullable(tx.SlippagePct),
	}
}

// Transactions retrieves the transactions that exited in [start, end).
func (s *SQLiteStore) Transactions(ctx context.Context, start, end time.Time) ([]models.Transaction, error) {
	query := `
	SELECT id, symbol, is_long, processor, entry_price, exit_price, entry_time, exit_time,
		qty, gl, gl_pct, slippage, slippage_pct
	FROM transactions
	WHERE exit_time >= ? AND exit_time < ?
	ORDER BY exit_time, id`

	rows, err := s.db.QueryContext(ctx, query, start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	loc := models.MarketLocation()
	var txs []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		var processor sql.NullString
		var entryTime, exitTime int64
		var slippage, slippagePct sql.NullFloat64
		if err := rows.Scan(
			&tx.ID, &tx.Symbol, &tx.IsLong, &processor, &tx.EntryPrice, &tx.ExitPrice,
			&entryTime, &exitTime, &tx.Qty, &tx.GL, &tx.GLPct, &slippage, &slippagePct,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		tx.Processor = processor.String
		tx.EntryTime = time.Unix(entryTime, 0).In(loc)
		tx.ExitTime = time.Unix(exitTime, 0).In(loc)
		if slippage.Valid {
			tx.Slippage = &slippage.Float64
		}
		if slippagePct.Valid {
			tx.SlippagePct = &slippagePct.Float64
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// UpsertAggregation creates or updates the row of (date, processor).
func (s *SQLiteStore) UpsertAggregation(ctx context.Context, agg models.Aggregation) error {
	query := `
	INSERT INTO aggregation (date, processor, gl, avg_gl_pct, slippage, avg_slippage_pct,
		count, win_count, lose_count, slippage_count)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(date, processor) DO UPDATE SET
		gl = excluded.gl,
		avg_gl_pct = excluded.avg_gl_pct,
		slippage = excluded.slippage,
		avg_slippage_pct = excluded.avg_slippage_pct,
		count = excluded.count,
		win_count = excluded.win_count,
		lose_count = excluded.lose_count,
		slippage_count = excluded.slippage_count;`

	_, err := s.db.ExecContext(ctx, query,
		agg.Date.Format("2006-01-02"), agg.Processor, agg.GL, agg.AvgGLPct, agg.Slippage,
		agg.AvgSlippagePct, agg.Count, agg.WinCount, agg.LoseCount, agg.SlippageCount,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert aggregation %s: %w", agg.Processor, err)
	}
	return nil
}

// Aggregations retrieves every aggregation row ordered by date and processor.
func (s *SQLiteStore) Aggregations(ctx context.Context) ([]models.Aggregation, error) {
	query := `
	SELECT date, processor, gl, avg_gl_pct, slippage, avg_slippage_pct,
		count, win_count, lose_count, slippage_count
	FROM aggregation
	ORDER BY date, processor`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregations: %w", err)
	}
	defer rows.Close()

	var aggs []models.Aggregation
	for rows.Next() {
		var agg models.Aggregation
		var date string
		if err := rows.Scan(
			&date, &agg.Processor, &agg.GL, &agg.AvgGLPct, &agg.Slippage, &agg.AvgSlippagePct,
			&agg.Count, &agg.WinCount, &agg.LoseCount, &agg.SlippageCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan aggregation row: %w", err)
		}
		if agg.Date, err = time.ParseInLocation("2006-01-02", date, models.MarketLocation()); err != nil {
			return nil, fmt.Errorf("failed to parse aggregation date %q: %w", date, err)
		}
		aggs = append(aggs, agg)
	}
	return aggs, rows.Err()
}

// UpsertLog creates or replaces the log content of (day, logger).
func (s *SQLiteStore) UpsertLog(ctx context.Context, day time.Time, logger, content string) error {
	query := `
	INSERT INTO log (date, logger, content) VALUES (?, ?, ?)
	ON CONFLICT(date, logger) DO UPDATE SET content = excluded.content;`
	if _, err := s.db.ExecContext(ctx, query, day.Format("2006-01-02"), logger, content); err != nil {
		return fmt.Errorf("failed to upsert log %s: %w", logger, err)
	}
	return nil
}

// Log returns the stored content of (day, logger), or "" if none exists.
func (s *SQLiteStore) Log(ctx context.Context, day time.Time, logger string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx, "SELECT content FROM log WHERE date = ? AND logger = ?",
		day.Format("2006-01-02"), logger).Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return content, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
