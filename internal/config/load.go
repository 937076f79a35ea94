package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	coreerrors "poolnet/internal/core/errors"
	corelog "poolnet/internal/core/log"
	"poolnet/internal/core/metrics"
)

const (
	// DefaultFileName 工作目录和用户目录下查找的文件名
	DefaultFileName = "poolnet.yaml"
	// EnvPrefix 环境变量前缀
	EnvPrefix = "POOLNET_"
)

// FindConfigFile 查找配置文件：显式路径、工作目录、~/.poolnet/
// 显式路径不存在时返回错误，其余位置都不存在时返回空字符串
func FindConfigFile(explicit string) (string, error) {
	if explicit != "" {
		p, err := expandPath(explicit)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(p); err != nil {
			return "", coreerrors.Wrapf(err, coreerrors.CodeConfigBadth, "config file %q", explicit)
		}
		return p, nil
	}

	candidates := []string{DefaultFileName}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".poolnet", "config.yaml"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", coreerrors.Wrap(err, coreerrors.CodeConfigBadth, "resolve home directory")
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Clean(path), nil
}

// Load 读取配置：默认值 < YAML 文件 < 环境变量
//
// path 为空时按 FindConfigFile 的顺序查找，找不到文件不是错误。
// 返回的配置已经过校验。
func Load(path string) (*ClientConfig, error) {
	cfg := Default()

	file, err := FindConfigFile(path)
	if err != nil {
		return nil, err
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, coreerrors.Wrapf(err, coreerrors.CodeConfigBadth, "read config file %q", file)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, coreerrors.Wrapf(err, coreerrors.CodeConfigBadth, "parse config file %q", file)
		}
		corelog.Debugf("loaded configuration from %s", file)
	}

	applyEnv(cfg, os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse 把 YAML 叠加到 cfg 上，未出现的字段保持原值
func Parse(data []byte, cfg *ClientConfig) error {
	return yaml.Unmarshal(data, cfg)
}

// Marshal 输出 YAML，用于 poolctl config
func (c *ClientConfig) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

type lookupFunc func(key string) (string, bool)

// applyEnv 环境变量覆盖，格式错误的值记录警告后忽略
func applyEnv(cfg *ClientConfig, lookup lookupFunc) {
	env := envReader{lookup: lookup}

	env.int("HANDSHAKE_MAX_TRIES", &cfg.Handshake.MaxTries)
	env.duration("HANDSHAKE_BACKOFF_STEP", &cfg.Handshake.BackoffStep)
	env.duration("DIAL_TIMEOUT", &cfg.Dial.Timeout)
	env.int("DIAL_DSCP", &cfg.Dial.DSCP)
	env.string("TLS_CA_FILE", &cfg.TLS.CAFile)
	env.string("TLS_CERTIFICATE", &cfg.TLS.Certificate)
	env.string("TLS_PRIVATE_KEY", &cfg.TLS.PrivateKey)
	env.string("HOSE_NAME", &cfg.Hose.Name)
	env.string("LOG_LEVEL", &cfg.Log.Level)
	env.string("LOG_FORMAT", &cfg.Log.Format)
	env.string("LOG_FILE", &cfg.Log.File)

	var mt string
	if env.string("METRICS_TYPE", &mt) {
		cfg.Metrics.Type = metrics.MetricsType(mt)
	}
	env.string("METRICS_LISTEN", &cfg.Metrics.Listen)
}

type envReader struct {
	lookup lookupFunc
}

func (e envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e envReader) string(key string, dst *string) bool {
	v, ok := e.get(key)
	if ok {
		*dst = v
	}
	return ok
}

func (e envReader) int(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		corelog.Warnf("ignoring %s%s=%q: %v", EnvPrefix, key, v, err)
		return
	}
	*dst = n
}

func (e envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		corelog.Warnf("ignoring %s%s=%q: %v", EnvPrefix, key, v, err)
		return
	}
	*dst = d
}
