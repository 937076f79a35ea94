package log

import "fmt"

// 全局便捷函数，内部调用 Default()

func Debug(args ...interface{}) { Default().Debug(args...) }
func Info(args ...interface{})  { Default().Info(args...) }
func Warn(args ...interface{})  { Default().Warn(args...) }
func Error(args ...interface{}) { Default().Error(args...) }

func Debugf(format string, args ...interface{}) { Default().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { Default().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { Default().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { Default().Errorf(format, args...) }

// WithField 创建带字段的日志
func WithField(key string, value interface{}) Logger {
	return Default().WithField(key, value)
}

// WithFields 创建带多个字段的日志
func WithFields(fields map[string]interface{}) Logger {
	return Default().WithFields(fields)
}

// WithError 创建带错误的日志
func WithError(err error) Logger {
	return Default().WithError(err)
}

func sprint(args ...interface{}) string {
	return fmt.Sprint(args...)
}

func sprintf(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}
