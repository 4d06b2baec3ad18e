package storage

import (
	"alpharius-go/internal/models"
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type transactionRow struct {
	ID          string `gorm:"primaryKey"`
	Symbol      string `gorm:"not null"`
	IsLong      bool   `gorm:"not null"`
	Processor   *string
	EntryPrice  float64   `gorm:"not null"`
	ExitPrice   float64   `gorm:"not null"`
	EntryTime   time.Time `gorm:"not null"`
	ExitTime    time.Time `gorm:"not null;index"`
	Qty         float64   `gorm:"not null"`
	GL          float64   `gorm:"column:gl;not null"`
	GLPct       float64   `gorm:"column:gl_pct;not null"`
	Slippage    *float64
	SlippagePct *float64
}

func (transactionRow) TableName() string { return "transaction" }

type aggregationRow struct {
	Date           time.Time `gorm:"primaryKey;type:date"`
	Processor      string    `gorm:"primaryKey"`
	GL             float64   `gorm:"column:gl"`
	AvgGLPct       float64   `gorm:"column:avg_gl_pct"`
	Slippage       float64
	AvgSlippagePct float64
	Count          int
	WinCount       int
	LoseCount      int
	SlippageCount  int
}

func (aggregationRow) TableName() string { return "aggregation" }

type logRow struct {
	Date    time.Time `gorm:"primaryKey;type:date"`
	Logger  string    `gorm:"primaryKey"`
	Content string
}

func (logRow) TableName() string { return "log" }

// PostgresStore is a Sink backed by a PostgreSQL server, the store the web dashboard reads.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects to dsn and migrates the tables.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return NewPostgresStoreFromDB(db)
}

// NewPostgresStoreFromDB wraps an existing gorm connection.
func NewPostgresStoreFromDB(db *gorm.DB) (*PostgresStore, error) {
	if err := db.AutoMigrate(&transactionRow{}, &aggregationRow{}, &logRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate tables: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func toTransactionRow(tx models.Transaction) transactionRow {
	row := transactionRow{
		ID:          transactionID(tx),
		Symbol:      tx.Symbol,
		IsLong:      tx.IsLong,
		EntryPrice:  tx.EntryPrice,
		ExitPrice:   tx.ExitPrice,
		EntryTime:   tx.EntryTime,
		ExitTime:    tx.ExitTime,
		Qty:         tx.Qty,
		GL:          tx.GL,
		GLPct:       tx.GLPct,
		Slippage:    nullable(tx.Slippage),
		SlippagePct: nullable(tx.SlippagePct),
	}
	if tx.Processor != "" {
		processor := tx.Processor
		row.Processor = &processor
	}
	return row
}

func (s *PostgresStore) InsertTransaction(ctx context.Context, tx models.Transaction) error {
	row := toTransactionRow(tx)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert transaction %s: %w", row.ID, err)
	}
	return nil
}

func (s *PostgresStore) Transactions(ctx context.Context, start, end time.Time) ([]models.Transaction, error) {
	var rows []transactionRow
	err := s.db.WithContext(ctx).
		Where("exit_time >= ? AND exit_time < ?", start, end).
		Order("exit_time, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}

	loc := models.MarketLocation()
	txs := make([]models.Transaction, 0, len(rows))
	for _, row := range rows {
		tx := models.Transaction{
			ID:          row.ID,
			Symbol:      row.Symbol,
			IsLong:      row.IsLong,
			EntryPrice:  row.EntryPrice,
			ExitPrice:   row.ExitPrice,
			EntryTime:   row.EntryTime.In(loc),
			ExitTime:    row.ExitTime.In(loc),
			Qty:         row.Qty,
			GL:          row.GL,
			GLPct:       row.GLPct,
			Slippage:    row.Slippage,
			SlippagePct: row.SlippagePct,
		}
		if row.Processor != nil {
			tx.Processor = *row.Processor
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (s *PostgresStore) UpsertAggregation(ctx context.Context, agg models.Aggregation) error {
	row := aggregationRow{
		Date:           agg.Date,
		Processor:      agg.Processor,
		GL:             agg.GL,
		AvgGLPct:       agg.AvgGLPct,
		Slippage:       agg.Slippage,
		AvgSlippagePct: agg.AvgSlippagePct,
		Count:          agg.Count,
		WinCount:       agg.WinCount,
		LoseCount:      agg.LoseCount,
		SlippageCount:  agg.SlippageCount,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}, {Name: "processor"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert aggregation %s: %w", agg.Processor, err)
	}
	return nil
}

func (s *PostgresStore) Aggregations(ctx context.Context) ([]models.Aggregation, error) {
	var rows []aggregationRow
	if err := s.db.WithContext(ctx).Order("date, processor").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query aggregations: %w", err)
	}
	aggs := make([]models.Aggregation, 0, len(rows))
	for _, row := range rows {
		aggs = append(aggs, models.Aggregation{
			Date:           models.MarketDay(row.Date),
			Processor:      row.Processor,
			GL:             row.GL,
			AvgGLPct:       row.AvgGLPct,
			Slippage:       row.Slippage,
			AvgSlippagePct: row.AvgSlippagePct,
			Count:          row.Count,
			WinCount:       row.WinCount,
			LoseCount:      row.LoseCount,
			SlippageCount:  row.SlippageCount,
		})
	}
	return aggs, nil
}

func (s *PostgresStore) UpsertLog(ctx context.Context, day time.Time, logger, content string) error {
	row := logRow{Date: models.MarketDay(day), Logger: logger, Content: content}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}, {Name: "logger"}},
		DoUpdates: clause.AssignmentColumns([]string{"content"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert log %s: %w", logger, err)
	}
	return nil
}

func (s *PostgresStore) Log(ctx context.Context, day time.Time, logger string) (string, error) {
	var rows []logRow
	err := s.db.WithContext(ctx).
		Where("date = ? AND logger = ?", models.MarketDay(day), logger).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return "", fmt.Errorf("failed to query log %s: %w", logger, err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].Content, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
