package metrics

import "time"

// 客户端指标名
const (
	MetricConnects         = "connects_total"
	MetricConnectSeconds   = "connect_seconds"
	MetricHandshakeRetries = "handshake_retries_total"
	MetricLegacyFallbacks  = "legacy_fallbacks_total"
	MetricTLSUpgrades      = "tls_upgrades_total"
	MetricDeposits         = "deposits_total"
	MetricFetches          = "fetches_total"
	MetricWakeups          = "wakeups_total"
	MetricDirtyReconnects  = "dirty_reconnects_total"
	MetricTunnelBytes      = "tunnel_bytes_total"
)

// RecordConnect 记录一次连接建立的结果和耗时
func RecordConnect(scheme string, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	incr(MetricConnects, map[string]string{"scheme": scheme, "result": result})
	observe(MetricConnectSeconds, elapsed.Seconds(), map[string]string{"scheme": scheme})
}

func RecordHandshakeRetry(reason string) {
	incr(MetricHandshakeRetries, map[string]string{"reason": reason})
}

func RecordLegacyFallback() {
	incr(MetricLegacyFallbacks, nil)
}

func RecordTLSUpgrade() {
	incr(MetricTLSUpgrades, nil)
}

func RecordDeposit(bytes int) {
	incr(MetricDeposits, nil)
	observe("deposit_bytes", float64(bytes), nil)
}

// RecordFetch 记录一次取数操作，result 为错误码或 ok
func RecordFetch(op, result string) {
	incr(MetricFetches, map[string]string{"op": op, "result": result})
}

func RecordWakeup() {
	incr(MetricWakeups, nil)
}

func RecordDirtyReconnect() {
	incr(MetricDirtyReconnects, nil)
}

// AddTunnelBytes direction 为 up（明文到密文）或 down
func AddTunnelBytes(direction string, n int) {
	if n <= 0 {
		return
	}
	add(MetricTunnelBytes, float64(n), map[string]string{"direction": direction})
}
