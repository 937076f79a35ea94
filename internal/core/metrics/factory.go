package metrics

import (
	"fmt"
)

// MetricsType 指标类型
type MetricsType string

const (
	MetricsTypeNone       MetricsType = "none"
	MetricsTypeMemory     MetricsType = "memory"
	MetricsTypePrometheus MetricsType = "prometheus"
)

// CreateMetrics 创建指标收集器实例，none 返回 nil
func CreateMetrics(metricsType MetricsType) (Metrics, error) {
	switch metricsType {
	case MetricsTypeNone, "":
		return nil, nil
	case MetricsTypeMemory:
		return NewMemoryMetrics(), nil
	case MetricsTypePrometheus:
		return NewPrometheusMetrics(), nil
	default:
		return nil, fmt.Errorf("unsupported metrics type: %s", metricsType)
	}
}
