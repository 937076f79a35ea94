package metrics

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics_CountersAndGauges(t *testing.T) {
	p := NewPrometheusMetrics()
	defer p.Close()

	labels := map[string]string{"op": "next", "result": "ok"}
	require.NoError(t, p.IncrementCounter("fetches_total", labels))
	require.NoError(t, p.AddCounter("fetches_total", 2, labels))
	v, err := p.GetCounter("fetches_total", labels)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	require.NoError(t, p.SetGauge("pump_buffered", 42, nil))
	g, err := p.GetGauge("pump_buffered", nil)
	require.NoError(t, err)
	assert.Equal(t, 42.0, g)

	require.NoError(t, p.ObserveHistogram("connect_seconds", 0.02, map[string]string{"scheme": "tcp"}))

	// 同名指标标签键集合不一致
	assert.Error(t, p.IncrementCounter("fetches_total", map[string]string{"other": "x"}))
}

func TestPrometheusMetrics_Serve(t *testing.T) {
	p := NewPrometheusMetrics()
	require.NoError(t, p.IncrementCounter("deposits_total", nil))

	addr, err := p.Serve("127.0.0.1:0")
	require.NoError(t, err)
	defer p.Close()

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "poolnet_deposits_total 1")
}

func TestCreateMetrics(t *testing.T) {
	m, err := CreateMetrics(MetricsTypeNone)
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = CreateMetrics(MetricsTypeMemory)
	require.NoError(t, err)
	assert.IsType(t, &MemoryMetrics{}, m)

	m, err = CreateMetrics(MetricsTypePrometheus)
	require.NoError(t, err)
	assert.IsType(t, &PrometheusMetrics{}, m)

	_, err = CreateMetrics("statsd")
	assert.Error(t, err)
}
