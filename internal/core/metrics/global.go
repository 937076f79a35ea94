package metrics

import (
	"sync"
)

var (
	globalMetrics Metrics
	globalMu      sync.RWMutex
)

// SetGlobalMetrics 设置全局 Metrics 实例，nil 表示关闭采集
func SetGlobalMetrics(m Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics 获取全局 Metrics 实例
func GetGlobalMetrics() Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// 以下便捷方法在未设置全局实例时静默忽略

func incr(name string, labels map[string]string) {
	if m := GetGlobalMetrics(); m != nil {
		_ = m.IncrementCounter(name, labels)
	}
}

func add(name string, v float64, labels map[string]string) {
	if m := GetGlobalMetrics(); m != nil {
		_ = m.AddCounter(name, v, labels)
	}
}

func observe(name string, v float64, labels map[string]string) {
	if m := GetGlobalMetrics(); m != nil {
		_ = m.ObserveHistogram(name, v, labels)
	}
}
