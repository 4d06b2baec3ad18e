package main

import (
	"alpharius-go/internal/broker"
	"alpharius-go/internal/config"
	"alpharius-go/internal/engine"
	"alpharius-go/internal/logger"
	"alpharius-go/internal/marketdata"
	"alpharius-go/internal/models"
	"alpharius-go/internal/persistence"
	"alpharius-go/internal/processor"
	"alpharius-go/internal/recorder"
	"alpharius-go/internal/reporter"
	"alpharius-go/internal/storage"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

// 行情缓存条目的有效期
const cacheTTL = 30 * 24 * time.Hour

func main() {
	// --- 初始化日志 (提前) ---
	// 加载配置之前先使用默认的控制台日志
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	configFlag := &cli.StringFlag{Name: "config", Value: "config.json", Usage: "path to the config file"}
	startFlag := &cli.StringFlag{Name: "start", Usage: "start date (YYYY-MM-DD), overrides the config"}
	endFlag := &cli.StringFlag{Name: "end", Usage: "end date, exclusive (YYYY-MM-DD), overrides the config"}

	app := &cli.App{
		Name:  "alpharius",
		Usage: "backtest and trade intraday equity strategies",
		Commands: []*cli.Command{
			{
				Name:  "backtest",
				Usage: "replay the configured processors over historical bars",
				Flags: []cli.Flag{configFlag, startFlag, endFlag,
					&cli.BoolFlag{Name: "ack-all", Usage: "acknowledge opens even when the size is negligible"}},
				Action: runBacktestMode,
			},
			{
				Name:   "trade",
				Usage:  "trade today's session through the broker",
				Flags:  []cli.Flag{configFlag, &cli.BoolFlag{Name: "paper", Usage: "fill orders with the in-memory paper broker"}},
				Action: runLiveMode,
			},
			{
				Name:   "download",
				Usage:  "download daily and intraday bars into the CSV data directory",
				Flags:  []cli.Flag{configFlag, startFlag, endFlag},
				Action: runDownloadMode,
			},
			{
				Name:  "report",
				Usage: "print the recorded per-processor results, and optionally one day's log",
				Flags: []cli.Flag{configFlag,
					&cli.StringFlag{Name: "day", Usage: "trading day of the log to print (YYYY-MM-DD)"},
					&cli.StringFlag{Name: "logger", Value: "Trading", Usage: "name of the log to print"}},
				Action: runReportMode,
			},
			{
				Name:   "backfill",
				Usage:  "rebuild aggregations and re-upload logs from the trading output directories",
				Flags:  []cli.Flag{configFlag, startFlag},
				Action: runBackfillMode,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.S().Fatal(err)
	}
}

// loadConfig 加载 JSON 配置, 合并环境变量并重新初始化日志
func loadConfig(c *cli.Context, registry *processor.Registry) (*models.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("无法加载配置文件: %w", err)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if v := c.String("start"); v != "" {
		cfg.StartDate = v
	}
	if v := c.String("end"); v != "" {
		cfg.EndDate = v
	}
	if err := config.Validate(cfg, registry.Names()); err != nil {
		return nil, err
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	startProfiler(cfg.Profiler)
	return cfg, nil
}

// startProfiler 在配置了服务地址时启动 pyroscope 持续性能分析
func startProfiler(cfg models.ProfilerConfig) {
	if cfg.ServerAddress == "" {
		return
	}
	name := cfg.ApplicationName
	if name == "" {
		name = "alpharius"
	}
	if _, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: name,
		ServerAddress:   cfg.ServerAddress,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	}); err != nil {
		logger.S().Warnf("pyroscope 启动失败: %v", err)
	}
}

func hasCredentials(cfg *models.Config) bool {
	return cfg.Broker.APIKeyID != "" && cfg.Broker.APISecretKey != ""
}

// newFeed 选择行情来源: 有密钥时使用 Alpaca (可选 badger 缓存), 否则读取本地 CSV
func newFeed(cfg *models.Config) (marketdata.Feed, func(), error) {
	if !hasCredentials(cfg) {
		logger.S().Infof("未设置 Alpaca 密钥, 使用本地 CSV 行情: %s", cfg.DataDir)
		return marketdata.NewCSVFeed(cfg.DataDir), func() {}, nil
	}
	alpaca := marketdata.NewAlpacaFeed(cfg.Broker, logger.S())
	if cfg.CacheDBPath == "" {
		return alpaca, func() {}, nil
	}
	repo, err := persistence.NewBadgerRepository(cfg.CacheDBPath, cacheTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("打开行情缓存失败: %w", err)
	}
	closer := func() {
		if err := repo.Close(); err != nil {
			logger.S().Warnf("关闭行情缓存失败: %v", err)
		}
	}
	return marketdata.NewCachedFeed(alpaca, repo, logger.S()), closer, nil
}

// runBacktestMode 运行回测
func runBacktestMode(c *cli.Context) error {
	registry := processor.DefaultRegistry()
	cfg, err := loadConfig(c, registry)
	if err != nil {
		return err
	}
	defer logger.S().Sync()

	start, end, err := config.ParseDateRange(cfg.StartDate, cfg.EndDate)
	if err != nil {
		return err
	}
	feed, closeFeed, err := newFeed(cfg)
	if err != nil {
		return err
	}
	defer closeFeed()

	var calendar marketdata.Calendar = marketdata.NewSeriesCalendar(feed, cfg.CalendarSymbol)
	if hasCredentials(cfg) {
		calendar = engine.NewGatewayCalendar(broker.NewAlpacaGateway(cfg.Broker, logger.S()))
	}

	logger.S().Info("--- 启动回测模式 ---")
	bt, err := engine.NewBacktest(engine.BacktestConfig{
		Start:      start,
		End:        end,
		Symbols:    cfg.Symbols,
		Processors: cfg.Processors,
		OutputRoot: cfg.OutputDir,
		AckAll:     cfg.AckAll || c.Bool("ack-all"),
		Workers:    cfg.BacktestWorkers,
	}, feed, calendar, registry, logger.S())
	if err != nil {
		return err
	}
	if _, err := bt.Run(c.Context); err != nil {
		return fmt.Errorf("回测失败: %w", err)
	}
	logger.S().Infof("回测完成, 结果保存在 %s", bt.OutputDir())
	return nil
}

// runLiveMode 运行实盘交易
func runLiveMode(c *cli.Context) error {
	registry := processor.DefaultRegistry()
	cfg, err := loadConfig(c, registry)
	if err != nil {
		return err
	}
	defer logger.S().Sync()

	// 实时行情只能来自 Alpaca
	if !hasCredentials(cfg) {
		return fmt.Errorf("%w: APCA_API_KEY_ID 和 APCA_API_SECRET_KEY 环境变量必须被设置", models.ErrConfiguration)
	}
	ctx := c.Context
	feed, closeFeed, err := newFeed(cfg)
	if err != nil {
		return err
	}
	defer closeFeed()

	rest := marketdata.NewAlpacaFeed(cfg.Broker, logger.S())
	var trades marketdata.TradeSource = rest
	if cfg.Broker.StreamURL != "" {
		stream := marketdata.NewTradeStream(cfg.Broker.StreamURL, cfg.Broker.APIKeyID, cfg.Broker.APISecretKey, logger.S())
		if err := stream.Subscribe(cfg.Symbols); err != nil {
			logger.S().Warnf("订阅实时成交失败: %v", err)
		}
		go stream.Run(ctx)
		trades = marketdata.NewCombinedTrades(stream, rest)
	}

	var gateway broker.Gateway
	if c.Bool("paper") || cfg.Broker.Paper {
		logger.S().Info("正在使用内存模拟券商...")
		gateway = broker.NewPaperGateway(100000, trades, time.Now, logger.S())
	} else {
		logger.S().Infof("正在使用 Alpaca 券商: %s", cfg.Broker.BaseURL)
		gateway = broker.NewAlpacaGateway(cfg.Broker, logger.S())
	}

	sink, err := storage.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("打开交易数据库失败: %w", err)
	}
	rec := recorder.New(sink, logger.S())
	rec.Start()
	defer rec.Stop(100 * time.Second)

	accountRetry, orderRetry := broker.PolicyFromConfig(cfg.Broker)
	logger.S().Info("--- 启动实时交易模式 ---")
	live := engine.NewLive(engine.LiveConfig{
		Symbols:      cfg.Symbols,
		Processors:   cfg.Processors,
		OutputRoot:   cfg.OutputDir,
		CashReserve:  cfg.CashReserve,
		Workers:      cfg.LiveWorkers,
		AccountRetry: accountRetry,
		OrderRetry:   orderRetry,
		FillPoll:     time.Duration(cfg.Broker.FillPollIntervalSec) * time.Second,
		FillTimeout:  time.Duration(cfg.Broker.FillTimeoutSec) * time.Second,
	}, gateway, feed, trades, registry, rec, logger.S())
	if err := live.Run(ctx); err != nil {
		return fmt.Errorf("实盘交易失败: %w", err)
	}
	logger.S().Info("交易日结束。")
	return nil
}

// runDownloadMode 下载行情到本地 CSV 目录, 已存在的文件会被跳过
func runDownloadMode(c *cli.Context) error {
	registry := processor.DefaultRegistry()
	cfg, err := loadConfig(c, registry)
	if err != nil {
		return err
	}
	defer logger.S().Sync()

	if !hasCredentials(cfg) {
		return fmt.Errorf("%w: 下载行情需要 Alpaca 密钥", models.ErrConfiguration)
	}
	start, end, err := config.ParseDateRange(cfg.StartDate, cfg.EndDate)
	if err != nil {
		return err
	}
	source := marketdata.NewAlpacaFeed(cfg.Broker, logger.S())
	downloader := marketdata.NewDownloader(source, marketdata.NewCSVFeed(cfg.DataDir), cfg.BacktestWorkers, logger.S())
	logger.S().Infof("开始下载 %d 个标的从 %s 到 %s 的行情...", len(cfg.Symbols), cfg.StartDate, cfg.EndDate)
	if err := downloader.Download(c.Context, cfg.Symbols, cfg.CalendarSymbol, start, end); err != nil {
		return fmt.Errorf("下载数据失败: %w", err)
	}
	logger.S().Info("下载完成。")
	return nil
}

// openSink 打开配置的交易数据库, 未配置时返回错误
func openSink(cfg *models.Config) (storage.Sink, error) {
	sink, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("打开交易数据库失败: %w", err)
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: 未配置交易数据库 (storage.driver)", models.ErrConfiguration)
	}
	return sink, nil
}

// runReportMode 打印数据库中的策略汇总, 指定 --day 时同时打印当天的日志
func runReportMode(c *cli.Context) error {
	registry := processor.DefaultRegistry()
	cfg, err := loadConfig(c, registry)
	if err != nil {
		return err
	}
	defer logger.S().Sync()

	sink, err := openSink(cfg)
	if err != nil {
		return err
	}
	defer sink.Close()

	aggs, err := sink.Aggregations(c.Context)
	if err != nil {
		return err
	}
	if text, ok := reporter.Aggregations(aggs); ok {
		fmt.Println(text)
	} else {
		logger.S().Info("数据库中还没有交易记录。")
	}

	if v := c.String("day"); v != "" {
		day, err := time.ParseInLocation("2006-01-02", v, models.MarketLocation())
		if err != nil {
			return fmt.Errorf("%w: 无效的日期 %q", models.ErrConfiguration, v)
		}
		content, err := sink.Log(c.Context, day, c.String("logger"))
		if err != nil {
			return err
		}
		if content == "" {
			logger.S().Infof("%s 没有名为 %s 的日志。", v, c.String("logger"))
			return nil
		}
		fmt.Println(content)
	}
	return nil
}

// runBackfillMode 对 start_date 至今的每个工作日重新计算汇总并上传日志
func runBackfillMode(c *cli.Context) error {
	registry := processor.DefaultRegistry()
	cfg, err := loadConfig(c, registry)
	if err != nil {
		return err
	}
	defer logger.S().Sync()

	start, err := time.ParseInLocation("2006-01-02", cfg.StartDate, models.MarketLocation())
	if err != nil {
		return fmt.Errorf("%w: 无效的开始日期 %q", models.ErrConfiguration, cfg.StartDate)
	}
	sink, err := openSink(cfg)
	if err != nil {
		return err
	}
	defer sink.Close()

	today := models.MarketDay(time.Now())
	for day := models.MarketDay(start); !day.After(today); day = day.AddDate(0, 0, 1) {
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		if err := storage.UpdateAggregation(c.Context, sink, day); err != nil {
			return fmt.Errorf("回填 %s 汇总失败: %w", day.Format("2006-01-02"), err)
		}
		dir := filepath.Join(cfg.OutputDir, "trading", day.Format("2006-01-02"))
		if err := storage.UploadLogs(c.Context, sink, day, dir); err != nil {
			return fmt.Errorf("回填 %s 日志失败: %w", day.Format("2006-01-02"), err)
		}
	}
	logger.S().Info("回填完成。")
	return nil
}
