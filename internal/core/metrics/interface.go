package metrics

// Metrics 指标收集接口
// 内存实现用于测试和单次命令，Prometheus 实现用于长期运行的 tail/shell
type Metrics interface {
	IncrementCounter(name string, labels map[string]string) error
	AddCounter(name string, value float64, labels map[string]string) error
	GetCounter(name string, labels map[string]string) (float64, error)

	SetGauge(name string, value float64, labels map[string]string) error
	GetGauge(name string, labels map[string]string) (float64, error)

	ObserveHistogram(name string, value float64, labels map[string]string) error

	Close() error
}
