package models

import (
	"fmt"
)

// Config 结构体定义了交易引擎的所有配置参数
type Config struct {
	StartDate       string            `json:"start_date"`       // 回测开始日期 (YYYY-MM-DD)
	EndDate         string            `json:"end_date"`         // 回测结束日期 (不含当天)
	Symbols         []string          `json:"symbols"`          // 可交易股票池
	Processors      []ProcessorConfig `json:"processors"`       // 启用的策略及其参数
	DataDir         string            `json:"data_dir"`         // CSV 行情缓存目录
	CacheDBPath     string            `json:"cache_db_path"`    // badger 行情缓存路径, 为空则不缓存
	OutputDir       string            `json:"output_dir"`       // 输出目录 (日志, 报告)
	CalendarSymbol  string            `json:"calendar_symbol"`  // 离线回测时用于推导交易日的标的
	AckAll          bool              `json:"ack_all"`          // 调试用: 即使资金不足也确认所有开仓
	BacktestWorkers int               `json:"backtest_workers"` // 回测日内数据预加载并发数
	LiveWorkers     int               `json:"live_workers"`     // 实盘日内数据刷新并发数
	CashReserve     float64           `json:"cash_reserve"`     // 实盘保留现金, 可被环境变量 CASH_RESERVE 覆盖
	Broker          BrokerConfig      `json:"broker"`
	Storage         StorageConfig     `json:"storage"`
	LogConfig       LogConfig         `json:"log"`
	Profiler        ProfilerConfig    `json:"profiler"`
}

// ProcessorConfig 定义了单个策略的名称和私有参数
type ProcessorConfig struct {
	Name    string         `json:"name"`
	Options map[string]any `json:"options,omitempty"`
}

// BrokerConfig 定义了券商和行情接口相关的配置
type BrokerConfig struct {
	Paper               bool   `json:"paper"`                  // 使用内存模拟券商
	BaseURL             string `json:"base_url"`               // 交易 REST 地址
	DataURL             string `json:"data_url"`               // 行情 REST 地址
	StreamURL           string `json:"stream_url"`             // 行情 WebSocket 地址, 为空则仅使用 REST
	DataFeed            string `json:"data_feed"`              // iex 或 sip
	RequestsPerMinute   int    `json:"requests_per_minute"`    // REST 请求限速
	AccountRetries      int    `json:"account_retries"`        // 账户查询重试次数
	OrderRetries        int    `json:"order_retries"`          // 下单失败时的重试次数
	RetryInitialDelayMs int    `json:"retry_initial_delay_ms"` // 重试前的初始延迟毫秒数
	FillPollIntervalSec int    `json:"fill_poll_interval_sec"` // 等待成交的轮询间隔
	FillTimeoutSec      int    `json:"fill_timeout_sec"`       // 等待成交的超时时间

	APIKeyID     string `json:"-"` // 由环境变量 APCA_API_KEY_ID 提供
	APISecretKey string `json:"-"` // 由环境变量 APCA_API_SECRET_KEY 提供
}

// StorageConfig 定义了交易记录的落库方式
type StorageConfig struct {
	Driver string `json:"driver"` // "sqlite", "postgres" 或为空 (不落库)
	DSN    string `json:"dsn"`    // 可被环境变量 SQL_STRING 覆盖
}

// ProfilerConfig 定义了 pyroscope 持续性能分析的配置
type ProfilerConfig struct {
	ServerAddress   string `json:"server_address"`
	ApplicationName string `json:"application_name"`
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// Error 定义了券商API返回的错误信息结构
type Error struct {
	Status int    `json:"-"`
	Code   int    `json:"code"`
	Msg    string `json:"message"`
}

// Error 方法使得 Error 实现了 error 接口
func (e *Error) Error() string {
	return fmt.Sprintf("API Error: status=%d, code=%d, msg=%s", e.Status, e.Code, e.Msg)
}

// Permanent reports whether retrying the request cannot succeed.
func (e *Error) Permanent() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != 429
}
