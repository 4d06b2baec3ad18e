package marketdata

import (
	"alpharius-go/internal/models"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var csvHeader = []string{"time", "open", "high", "low", "close", "volume"}

// CSVFeed reads bars from a directory laid out as
//
//	<dir>/interday/<SYMBOL>.csv
//	<dir>/intraday/<YYYY-MM-DD>/<SYMBOL>.csv
type CSVFeed struct {
	dir string
}

func NewCSVFeed(dir string) *CSVFeed {
	return &CSVFeed{dir: dir}
}

func (f *CSVFeed) InterdayPath(symbol string) string {
	return filepath.Join(f.dir, "interday", symbol+".csv")
}

func (f *CSVFeed) IntradayPath(symbol string, day time.Time) string {
	return filepath.Join(f.dir, "intraday", models.MarketDay(day).Format("2006-01-02"), symbol+".csv")
}

func (f *CSVFeed) Interday(_ context.Context, symbol string, start, end time.Time) (models.Series, error) {
	series, err := ReadCSV(f.InterdayPath(symbol))
	if err != nil {
		return nil, err
	}
	var out models.Series
	for _, bar := range series {
		if !bar.Time.Before(start) && bar.Time.Before(end) {
			out = append(out, bar)
		}
	}
	return out, nil
}

func (f *CSVFeed) Intraday(_ context.Context, symbol string, day time.Time) (models.Series, error) {
	return ReadCSV(f.IntradayPath(symbol, day))
}

// ReadCSV parses a bar file; a missing file is reported as ErrDataUnavailable.
func ReadCSV(path string) (models.Series, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", models.ErrDataUnavailable, path)
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(csvHeader)
	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}

	var series models.Series
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		bar, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		series = append(series, bar)
	}
	return series, nil
}

func parseRecord(record []string) (models.Bar, error) {
	t, err := time.Parse(time.RFC3339, record[0])
	if err != nil {
		return models.Bar{}, err
	}
	values := make([]float64, 5)
	for i := range values {
		if values[i], err = strconv.ParseFloat(record[i+1], 64); err != nil {
			return models.Bar{}, err
		}
	}
	return models.Bar{
		Time:   t.In(models.MarketLocation()),
		Open:   values[0],
		High:   values[1],
		Low:    values[2],
		Close:  values[3],
		Volume: values[4],
	}, nil
}

// WriteCSV stores a series in the layout ReadCSV expects, creating parent directories.
func WriteCSV(path string, series models.Series) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, bar := range series {
		record := []string{
			bar.Time.Format(time.RFC3339),
			strconv.FormatFloat(bar.Open, 'f', -1, 64),
			strconv.FormatFloat(bar.High, 'f', -1, 64),
			strconv.FormatFloat(bar.Low, 'f', -1, 64),
			strconv.FormatFloat(bar.Close, 'f', -1, 64),
			strconv.FormatFloat(bar.Volume, 'f', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}
