package logger

import (
	"alpharius-go/internal/models"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	sugaredLogger *zap.SugaredLogger
	mu            sync.Mutex
	fileLoggers   = make(map[string]*zap.SugaredLogger)
)

// marketTimeEncoder 以美东时间输出日志时间
func marketTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	zapcore.ISO8601TimeEncoder(t.In(models.MarketLocation()), enc)
}

func newEncoderConfig(color bool) zapcore.EncoderConfig {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = marketTimeEncoder
	if color {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return encoderConfig
}

// InitLogger 初始化zap日志记录器
func InitLogger(cfg models.LogConfig) {
	// 配置日志级别
	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(cfg.Level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel) // 默认为Info级别
	}

	var cores []zapcore.Core

	output := strings.ToLower(cfg.Output)
	if output == "file" || output == "both" {
		// 设置lumberjack进行日志切割
		writer := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(newEncoderConfig(false)), writer, logLevel))
	}

	// 如果没有有效的core（例如配置错误），则默认输出到控制台
	if output == "console" || output == "both" || len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(newEncoderConfig(true)), zapcore.AddSync(os.Stdout), logLevel))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())

	mu.Lock()
	sugaredLogger = logger.Sugar()
	mu.Unlock()
}

// S 返回全局的sugared logger实例
func S() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if sugaredLogger == nil {
		// 如果logger未初始化，则提供一个默认的应急logger
		logger, _ := zap.NewDevelopment()
		return logger.Sugar()
	}
	return sugaredLogger
}

// NewFileLogger 返回一个写入指定文件的 logger。
// detail 为 true 时带有级别、时间和调用位置, 并且同时把 info 以上的日志写到全局 logger;
// 为 false 时只输出消息本身, 用于明细和汇总报告。
// 同一路径只会创建一次。
func NewFileLogger(path string, detail bool) *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if l, ok := fileLoggers[path]; ok {
		return l
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return zap.NewNop().Sugar()
	}
	writer := zapcore.AddSync(&lumberjack.Logger{Filename: path, MaxSize: 500})

	var l *zap.Logger
	if detail {
		fileCore := zapcore.NewCore(zapcore.NewConsoleEncoder(newEncoderConfig(false)), writer, zap.DebugLevel)
		cores := []zapcore.Core{fileCore}
		if sugaredLogger != nil {
			stdout := zapcore.NewCore(zapcore.NewConsoleEncoder(newEncoderConfig(true)), zapcore.AddSync(os.Stdout), zap.InfoLevel)
			cores = append(cores, stdout)
		}
		l = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	} else {
		encoderConfig := zapcore.EncoderConfig{MessageKey: "msg", LineEnding: zapcore.DefaultLineEnding}
		l = zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), writer, zap.InfoLevel))
	}

	s := l.Sugar()
	fileLoggers[path] = s
	return s
}

// SnakeName 把 "H2lHour" 这样的名称转换为 "h2l_hour"
func SnakeName(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
