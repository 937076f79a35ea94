// Package config 客户端配置：YAML 文件、环境变量覆盖、默认值和校验
package config

import (
	"time"

	"poolnet/internal/client"
	"poolnet/internal/client/transport"
	corelog "poolnet/internal/core/log"
	"poolnet/internal/core/metrics"
	"poolnet/internal/protocol"
)

// ClientConfig 客户端配置根
type ClientConfig struct {
	Handshake HandshakeConfig `yaml:"handshake"`
	Dial      DialConfig      `yaml:"dial"`
	TLS       TLSConfig       `yaml:"tls"`
	Hose      HoseConfig      `yaml:"hose"`
	Log       corelog.Config  `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// HandshakeConfig 握手重试和老服务端兼容
type HandshakeConfig struct {
	MaxTries    int           `yaml:"max_tries"`
	BackoffStep time.Duration `yaml:"backoff_step"`
	// LegacyCommands 老服务端假定支持的命令码，为空时使用内置集合
	LegacyCommands []int `yaml:"legacy_commands"`
}

// DialConfig 建立 TCP 连接
type DialConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// DSCP 写入 TOS 字节的值，-1 表示不设置
	DSCP    int  `yaml:"dscp"`
	NoDelay bool `yaml:"no_delay"`
	// ResolverCacheSize 大于 0 时缓存解析结果
	ResolverCacheSize int           `yaml:"resolver_cache_size"`
	ResolverCacheTTL  time.Duration `yaml:"resolver_cache_ttl"`
}

// TLSConfig STARTTLS 参数
type TLSConfig struct {
	// Certificate 和 PrivateKey 是 PEM 内容，不是路径
	Certificate string `yaml:"certificate"`
	PrivateKey  string `yaml:"private_key"`
	CAFile      string `yaml:"ca_file"`
}

type HoseConfig struct {
	Name string `yaml:"name"`
}

// MetricsConfig 指标后端
type MetricsConfig struct {
	Type metrics.MetricsType `yaml:"type"`
	// Listen prometheus 的 HTTP 监听地址，为空时不暴露
	Listen string `yaml:"listen"`
}

// Default 默认配置
func Default() *ClientConfig {
	legacy := protocol.LegacyCommands().Commands()
	codes := make([]int, len(legacy))
	for i, c := range legacy {
		codes[i] = int(c)
	}
	return &ClientConfig{
		Handshake: HandshakeConfig{
			MaxTries:       client.DefaultMaxTries,
			BackoffStep:    client.DefaultBackoffStep,
			LegacyCommands: codes,
		},
		Dial: DialConfig{
			Timeout:          10 * time.Second,
			DSCP:             transport.DSCPRealTimeInteractive,
			NoDelay:          true,
			ResolverCacheTTL: time.Minute,
		},
		Log: corelog.Config{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Type: metrics.MetricsTypeNone,
		},
	}
}
