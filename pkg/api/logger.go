package api

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel 日志级别
type LogLevel int

const (
	LogError LogLevel = iota
	LogWarn
	LogInfo
	LogDebug
)

// String 返回日志级别字符串
func (l LogLevel) String() string {
	switch l {
	case LogError:
		return "ERROR"
	case LogWarn:
		return "WARN"
	case LogInfo:
		return "INFO"
	case LogDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel 从配置字符串解析日志级别，未知值返回 LogInfo
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "error", "ERROR":
		return LogError
	case "warn", "WARN", "warning":
		return LogWarn
	case "debug", "DEBUG":
		return LogDebug
	default:
		return LogInfo
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LogError:
		return zapcore.ErrorLevel
	case LogWarn:
		return zapcore.WarnLevel
	case LogDebug:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

func fromZapLevel(l zapcore.Level) LogLevel {
	switch {
	case l <= zapcore.DebugLevel:
		return LogDebug
	case l == zapcore.InfoLevel:
		return LogInfo
	case l == zapcore.WarnLevel:
		return LogWarn
	default:
		return LogError
	}
}

// Logger 日志接口
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	SetLevel(level LogLevel)
	GetLevel() LogLevel
}

// ZapLogger 基于 zap 的默认日志实现
type ZapLogger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

// NewDefaultLogger 创建默认日志（zap production 配置，输出到 stderr）
func NewDefaultLogger(level LogLevel) *ZapLogger {
	atom := zap.NewAtomicLevelAt(level.zapLevel())
	cfg := zap.NewProductionConfig()
	cfg.Level = atom
	cfg.Sampling = nil
	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{sugar: logger.Sugar(), level: atom}
}

// NewZapLogger 包装已有的 zap logger；级别由 level 控制，
// 仍受 logger 自身 core 的级别约束
func NewZapLogger(logger *zap.Logger, level LogLevel) *ZapLogger {
	atom := zap.NewAtomicLevelAt(level.zapLevel())
	core := &leveledCore{Core: logger.Core(), level: atom}
	return &ZapLogger{
		sugar: zap.New(core).Sugar(),
		level: atom,
	}
}

// With 返回附加了字段的子 logger
func (l *ZapLogger) With(args ...interface{}) *ZapLogger {
	return &ZapLogger{sugar: l.sugar.With(args...), level: l.level}
}

// Sync 刷新缓冲
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}

// SetLevel 设置日志级别
func (l *ZapLogger) SetLevel(level LogLevel) {
	l.level.SetLevel(level.zapLevel())
}

// GetLevel 获取日志级别
func (l *ZapLogger) GetLevel() LogLevel {
	return fromZapLevel(l.level.Level())
}

func (l *ZapLogger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *ZapLogger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *ZapLogger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *ZapLogger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// leveledCore 在原有 core 之上叠加一个可调整的级别
type leveledCore struct {
	zapcore.Core
	level zap.AtomicLevel
}

func (c *leveledCore) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l) && c.Core.Enabled(l)
}

func (c *leveledCore) With(fields []zapcore.Field) zapcore.Core {
	return &leveledCore{Core: c.Core.With(fields), level: c.level}
}

func (c *leveledCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.level.Enabled(ent.Level) {
		return ce
	}
	return c.Core.Check(ent, ce)
}

// NoOpLogger 空日志实现（用于禁用日志）
type NoOpLogger struct{}

// NewNoOpLogger 创建空日志
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(format string, args ...interface{}) {}
func (l *NoOpLogger) Info(format string, args ...interface{})  {}
func (l *NoOpLogger) Warn(format string, args ...interface{})  {}
func (l *NoOpLogger) Error(format string, args ...interface{}) {}
func (l *NoOpLogger) SetLevel(level LogLevel)                  {}
func (l *NoOpLogger) GetLevel() LogLevel                       { return LogInfo }
