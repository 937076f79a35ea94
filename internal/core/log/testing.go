package log

import "context"

// NopLogger 静默日志，不输出任何内容
type NopLogger struct{}

func (NopLogger) Debug(args ...interface{})                         {}
func (NopLogger) Info(args ...interface{})                          {}
func (NopLogger) Warn(args ...interface{})                          {}
func (NopLogger) Error(args ...interface{})                         {}
func (NopLogger) Debugf(format string, args ...interface{})         {}
func (NopLogger) Infof(format string, args ...interface{})          {}
func (NopLogger) Warnf(format string, args ...interface{})          {}
func (NopLogger) Errorf(format string, args ...interface{})         {}
func (n NopLogger) WithField(key string, value interface{}) Logger  { return n }
func (n NopLogger) WithFields(fields map[string]interface{}) Logger { return n }
func (n NopLogger) WithError(err error) Logger                      { return n }
func (n NopLogger) WithContext(ctx context.Context) Logger          { return n }

// NewNopLogger 创建静默日志
func NewNopLogger() Logger {
	return NopLogger{}
}

// TestingT 兼容 *testing.T
type TestingT interface {
	Logf(format string, args ...interface{})
	Helper()
}

// TestLogger 输出到 testing.T，字段以 key=value 追加在消息后
type TestLogger struct {
	t      TestingT
	fields []string
}

// NewTestLogger 创建测试日志
func NewTestLogger(t TestingT) Logger {
	return &TestLogger{t: t}
}

func (l *TestLogger) emit(level, msg string) {
	l.t.Helper()
	if len(l.fields) == 0 {
		l.t.Logf("[%s] %s", level, msg)
		return
	}
	l.t.Logf("[%s] %s %v", level, msg, l.fields)
}

func (l *TestLogger) Debug(args ...interface{}) { l.emit("DEBUG", sprint(args...)) }
func (l *TestLogger) Info(args ...interface{})  { l.emit("INFO", sprint(args...)) }
func (l *TestLogger) Warn(args ...interface{})  { l.emit("WARN", sprint(args...)) }
func (l *TestLogger) Error(args ...interface{}) { l.emit("ERROR", sprint(args...)) }

func (l *TestLogger) Debugf(format string, args ...interface{}) { l.emit("DEBUG", sprintf(format, args...)) }
func (l *TestLogger) Infof(format string, args ...interface{})  { l.emit("INFO", sprintf(format, args...)) }
func (l *TestLogger) Warnf(format string, args ...interface{})  { l.emit("WARN", sprintf(format, args...)) }
func (l *TestLogger) Errorf(format string, args ...interface{}) { l.emit("ERROR", sprintf(format, args...)) }

func (l *TestLogger) WithField(key string, value interface{}) Logger {
	fields := append(append([]string(nil), l.fields...), sprintf("%s=%v", key, value))
	return &TestLogger{t: l.t, fields: fields}
}

func (l *TestLogger) WithFields(fields map[string]interface{}) Logger {
	var out Logger = l
	for k, v := range fields {
		out = out.WithField(k, v)
	}
	return out
}

func (l *TestLogger) WithError(err error) Logger {
	return l.WithField("error", err)
}

func (l *TestLogger) WithContext(ctx context.Context) Logger {
	return l
}
