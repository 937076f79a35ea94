package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	corelog "poolnet/internal/core/log"
)

const namespace = "poolnet"

// PrometheusMetrics 基于 client_golang 的实现
// 指标在首次使用时按名称和标签键集合创建，同名指标的标签键集合必须一致
type PrometheusMetrics struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec

	server *http.Server
}

// NewPrometheusMetrics 创建使用独立 registry 的收集器
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	return &PrometheusMetrics{
		registry:   reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry 返回底层 registry
func (p *PrometheusMetrics) Registry() *prometheus.Registry {
	return p.registry
}

// Handler 返回 /metrics HTTP 处理器
func (p *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Serve 在 addr 上暴露 /metrics，返回实际监听地址
func (p *PrometheusMetrics) Serve(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	p.mu.Lock()
	p.server = srv
	p.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			corelog.Warnf("metrics server stopped: %v", err)
		}
	}()
	return ln.Addr().String(), nil
}

func (p *PrometheusMetrics) counter(name string, labels map[string]string) (prometheus.Counter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	vec, ok := p.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      name,
		}, sortedKeys(labels))
		if err := p.registry.Register(vec); err != nil {
			return nil, err
		}
		p.counters[name] = vec
	}
	return vec.GetMetricWith(prometheus.Labels(labels))
}

func (p *PrometheusMetrics) gauge(name string, labels map[string]string) (prometheus.Gauge, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	vec, ok := p.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      name,
		}, sortedKeys(labels))
		if err := p.registry.Register(vec); err != nil {
			return nil, err
		}
		p.gauges[name] = vec
	}
	return vec.GetMetricWith(prometheus.Labels(labels))
}

// IncrementCounter 增加计数器
func (p *PrometheusMetrics) IncrementCounter(name string, labels map[string]string) error {
	return p.AddCounter(name, 1, labels)
}

// AddCounter 增加计数器指定值
func (p *PrometheusMetrics) AddCounter(name string, value float64, labels map[string]string) error {
	if value < 0 {
		return fmt.Errorf("counter %s cannot decrease", name)
	}
	c, err := p.counter(name, labels)
	if err != nil {
		return err
	}
	c.Add(value)
	return nil
}

// GetCounter 读取计数器当前值
func (p *PrometheusMetrics) GetCounter(name string, labels map[string]string) (float64, error) {
	c, err := p.counter(name, labels)
	if err != nil {
		return 0, err
	}
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0, err
	}
	return m.GetCounter().GetValue(), nil
}

// SetGauge 设置 Gauge 值
func (p *PrometheusMetrics) SetGauge(name string, value float64, labels map[string]string) error {
	g, err := p.gauge(name, labels)
	if err != nil {
		return err
	}
	g.Set(value)
	return nil
}

// GetGauge 读取 Gauge 当前值
func (p *PrometheusMetrics) GetGauge(name string, labels map[string]string) (float64, error) {
	g, err := p.gauge(name, labels)
	if err != nil {
		return 0, err
	}
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0, err
	}
	return m.GetGauge().GetValue(), nil
}

// ObserveHistogram 记录观测值，使用默认桶
func (p *PrometheusMetrics) ObserveHistogram(name string, value float64, labels map[string]string) error {
	p.mu.Lock()
	vec, ok := p.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Help:      name,
			Buckets:   prometheus.DefBuckets,
		}, sortedKeys(labels))
		if err := p.registry.Register(vec); err != nil {
			p.mu.Unlock()
			return err
		}
		p.histograms[name] = vec
	}
	p.mu.Unlock()

	h, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return err
	}
	h.Observe(value)
	return nil
}

// Close 停止 HTTP 暴露
func (p *PrometheusMetrics) Close() error {
	p.mu.Lock()
	srv := p.server
	p.server = nil
	p.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
