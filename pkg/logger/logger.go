package logger

import (
	"os"
	"shorturl-analytics/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	Logger = zap.NewNop()
	Sugar  = Logger.Sugar()
)

// InitLogger 根据配置初始化全局 zap 日志记录器
func InitLogger(cfg config.Log) *zap.Logger {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zapcore.InfoLevel)
	}

	core := zapcore.NewCore(getEncoder(), getLogWriter(cfg), level)

	Logger = zap.New(core, zap.AddCaller())
	Sugar = Logger.Sugar()

	// 将全局的 zap logger 替换为我们配置好的 logger
	zap.ReplaceGlobals(Logger)
	return Logger
}

// getEncoder 控制台格式，ISO8601 时间
func getEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

// getLogWriter 同时写入控制台和 lumberjack 切割的日志文件；File 为空时只写控制台
func getLogWriter(cfg config.Log) zapcore.WriteSyncer {
	stdout := zapcore.AddSync(os.Stdout)
	if cfg.File == "" {
		return stdout
	}
	lumberJackLogger := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	return zapcore.NewMultiWriteSyncer(stdout, zapcore.AddSync(lumberJackLogger))
}
