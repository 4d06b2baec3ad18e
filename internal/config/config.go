package config

import (
	"alpharius-go/internal/models"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	config := &models.Config{}
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", models.ErrConfiguration, path, err)
	}

	ApplyDefaults(config)
	return config, nil
}

// ApplyDefaults 为未设置的字段填充默认值
func ApplyDefaults(cfg *models.Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "outputs"
	}
	if cfg.CalendarSymbol == "" {
		cfg.CalendarSymbol = "SPY"
	}
	if cfg.BacktestWorkers <= 0 {
		cfg.BacktestWorkers = 20
	}
	if cfg.LiveWorkers <= 0 {
		cfg.LiveWorkers = 10
	}

	b := &cfg.Broker
	if b.BaseURL == "" {
		b.BaseURL = "https://paper-api.alpaca.markets"
	}
	if b.DataURL == "" {
		b.DataURL = "https://data.alpaca.markets"
	}
	if b.DataFeed == "" {
		b.DataFeed = "iex"
	}
	if b.RequestsPerMinute <= 0 {
		b.RequestsPerMinute = 200
	}
	if b.AccountRetries <= 0 {
		b.AccountRetries = 3
	}
	if b.OrderRetries <= 0 {
		b.OrderRetries = 5
	}
	if b.RetryInitialDelayMs <= 0 {
		b.RetryInitialDelayMs = 1000
	}
	if b.FillPollIntervalSec <= 0 {
		b.FillPollIntervalSec = 2
	}
	if b.FillTimeoutSec <= 0 {
		b.FillTimeoutSec = 10
	}

	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.LogConfig.Output == "" {
		cfg.LogConfig.Output = "console"
	}
}

// ApplyEnv 使用环境变量覆盖密钥和部分运行参数
func ApplyEnv(cfg *models.Config) error {
	cfg.Broker.APIKeyID = os.Getenv("APCA_API_KEY_ID")
	cfg.Broker.APISecretKey = os.Getenv("APCA_API_SECRET_KEY")
	if v := os.Getenv("CASH_RESERVE"); v != "" {
		reserve, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: CASH_RESERVE %q: %v", models.ErrConfiguration, v, err)
		}
		cfg.CashReserve = reserve
	}
	if v := os.Getenv("SQL_STRING"); v != "" {
		cfg.Storage.DSN = v
	}
	return nil
}

// Validate 检查配置是否完整, 所有错误都属于启动期致命错误
func Validate(cfg *models.Config, knownProcessors []string) error {
	if len(cfg.Processors) == 0 {
		return fmt.Errorf("%w: no processors configured", models.ErrConfiguration)
	}
	known := make(map[string]bool, len(knownProcessors))
	for _, name := range knownProcessors {
		known[name] = true
	}
	for _, p := range cfg.Processors {
		if !known[p.Name] {
			return fmt.Errorf("%w: unknown processor %q", models.ErrConfiguration, p.Name)
		}
	}
	if cfg.CashReserve < 0 {
		return fmt.Errorf("%w: cash reserve must not be negative", models.ErrConfiguration)
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unknown storage driver %q", models.ErrConfiguration, cfg.Storage.Driver)
	}
	switch strings.ToLower(cfg.LogConfig.Output) {
	case "console", "file", "both":
	default:
		return fmt.Errorf("%w: unknown log output %q", models.ErrConfiguration, cfg.LogConfig.Output)
	}
	return nil
}

// ParseDateRange 解析回测的起止日期, 结束日期必须晚于开始日期
func ParseDateRange(start, end string) (time.Time, time.Time, error) {
	loc := models.MarketLocation()
	s, err := time.ParseInLocation(dateLayout, start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start date %q: %v", models.ErrConfiguration, start, err)
	}
	e, err := time.ParseInLocation(dateLayout, end, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end date %q: %v", models.ErrConfiguration, end, err)
	}
	if !e.After(s) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end date %s is not after start date %s", models.ErrConfiguration, end, start)
	}
	return s, e, nil
}
