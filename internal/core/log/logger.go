// Package log 提供统一的日志接口和实现
// 支持依赖注入，便于测试时替换
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger 日志接口
// 所有组件应通过此接口记录日志，而非直接使用全局函数
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger
	WithContext(ctx context.Context) Logger
}

// Config 日志配置
type Config struct {
	Level  string `yaml:"level"`  // debug / info / warn / error
	Format string `yaml:"format"` // text / json
	Output string `yaml:"output"` // stderr / stdout / file / discard
	File   string `yaml:"file"`
}

// ============================================================================
// logrusLogger - 基于 logrus 的 Logger 实现
// ============================================================================

type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger 创建基于 logrus 的 Logger
func NewLogrusLogger(l *logrus.Logger) Logger {
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *logrusLogger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *logrusLogger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *logrusLogger) Error(args ...interface{}) { l.entry.Error(args...) }

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

func (l *logrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{entry: l.entry.WithError(err)}
}

func (l *logrusLogger) WithContext(ctx context.Context) Logger {
	return &logrusLogger{entry: l.entry.WithContext(ctx)}
}

// NewFromConfig 根据配置创建 logrus Logger，返回需要在退出时关闭的文件（可能为 nil）
func NewFromConfig(cfg Config) (Logger, io.Closer, error) {
	l := logrus.New()

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	l.SetLevel(lv)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	default:
		return nil, nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		l.SetOutput(os.Stderr)
	case "stdout":
		l.SetOutput(os.Stdout)
	case "discard":
		l.SetOutput(io.Discard)
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output is file but no file given")
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		l.SetOutput(f)
		closer = f
	default:
		return nil, nil, fmt.Errorf("invalid log output %q", cfg.Output)
	}

	return NewLogrusLogger(l), closer, nil
}

// ============================================================================
// 默认 Logger 管理
// ============================================================================

var (
	defaultLogger     Logger
	defaultLoggerOnce sync.Once
	defaultLoggerMu   sync.RWMutex
	currentLogFile    io.Closer
)

// 库默认不输出，由调用方（CLI）显式 Configure
func initDefaultLogger() {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.InfoLevel)
	defaultLogger = NewLogrusLogger(l)
}

// Default 获取默认 Logger
func Default() Logger {
	defaultLoggerOnce.Do(initDefaultLogger)
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefault 设置默认 Logger
func SetDefault(l Logger) {
	defaultLoggerOnce.Do(initDefaultLogger)
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	defaultLogger = l
}

// Configure 按配置替换默认 Logger，之前打开的日志文件会被关闭
func Configure(cfg Config) error {
	l, closer, err := NewFromConfig(cfg)
	if err != nil {
		return err
	}
	defaultLoggerOnce.Do(initDefaultLogger)
	defaultLoggerMu.Lock()
	old := currentLogFile
	defaultLogger = l
	currentLogFile = closer
	defaultLoggerMu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// ForComponent 返回带 component 字段的默认 Logger
func ForComponent(name string) Logger {
	return Default().WithField("component", name)
}
