package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	coreerrors "poolnet/internal/core/errors"
	"poolnet/internal/core/metrics"
)

// ValidationError 单个字段的校验错误
type ValidationError struct {
	Field   string // 字段路径，例如 "handshake.max_tries"
	Value   string
	Message string
	Hint    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult 收集全部校验错误
type ValidationResult struct {
	Errors []ValidationError
}

func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) Error() string {
	if r.IsValid() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for i, err := range r.Errors {
		fmt.Fprintf(&sb, "  %d. %s: %s", i+1, err.Field, err.Message)
		if err.Value != "" {
			fmt.Fprintf(&sb, " (got %s)", err.Value)
		}
		sb.WriteString("\n")
		if err.Hint != "" {
			fmt.Fprintf(&sb, "     hint: %s\n", err.Hint)
		}
	}
	return sb.String()
}

func (r *ValidationResult) AddError(field, value, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
		Hint:    hint,
	})
}

// Fields 出错的字段路径
func (r *ValidationResult) Fields() []string {
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.Field
	}
	return out
}

type rule func(c *ClientConfig, r *ValidationResult)

var rules = []rule{
	validateHandshake,
	validateDial,
	validateTLS,
	validateLog,
	validateMetrics,
}

// Check 执行全部规则，返回的结果可能为空
func (c *ClientConfig) Check() *ValidationResult {
	r := &ValidationResult{}
	for _, fn := range rules {
		fn(c, r)
	}
	return r
}

// Validate 校验配置，失败时返回 CONFIG_BADTH，Cause 为 *ValidationResult
func (c *ClientConfig) Validate() error {
	r := c.Check()
	if r.IsValid() {
		return nil
	}
	return coreerrors.Wrap(r, coreerrors.CodeConfigBadth, "invalid configuration")
}

func validateHandshake(c *ClientConfig, r *ValidationResult) {
	if c.Handshake.MaxTries < 1 {
		r.AddError("handshake.max_tries", fmt.Sprint(c.Handshake.MaxTries),
			"must be at least 1", "use 1 to disable retries")
	}
	if c.Handshake.BackoffStep < 0 {
		r.AddError("handshake.backoff_step", c.Handshake.BackoffStep.String(), "must not be negative", "")
	}
	for _, code := range c.Handshake.LegacyCommands {
		if code < 0 || code > 63 {
			r.AddError("handshake.legacy_commands", fmt.Sprint(code),
				"command code out of range", "codes are between 0 and 63")
		}
	}
}

func validateDial(c *ClientConfig, r *ValidationResult) {
	if c.Dial.Timeout < 0 {
		r.AddError("dial.timeout", c.Dial.Timeout.String(), "must not be negative", "use 0 for no timeout")
	}
	if c.Dial.DSCP < -1 || c.Dial.DSCP > 255 {
		r.AddError("dial.dscp", fmt.Sprint(c.Dial.DSCP), "must fit in the TOS byte", "use -1 to leave it unset")
	}
	if c.Dial.ResolverCacheSize < 0 {
		r.AddError("dial.resolver_cache_size", fmt.Sprint(c.Dial.ResolverCacheSize), "must not be negative", "use 0 to disable caching")
	}
	if c.Dial.ResolverCacheSize > 0 && c.Dial.ResolverCacheTTL <= 0 {
		r.AddError("dial.resolver_cache_ttl", c.Dial.ResolverCacheTTL.String(), "must be positive when caching is enabled", "")
	}
}

func validateTLS(c *ClientConfig, r *ValidationResult) {
	cert, key := c.TLS.Certificate, c.TLS.PrivateKey
	switch {
	case cert == "" && key == "":
	case cert == "" || key == "":
		r.AddError("tls", "", "certificate and private_key must be set together", "")
	default:
		if _, err := tls.X509KeyPair([]byte(cert), []byte(key)); err != nil {
			r.AddError("tls.certificate", "<redacted>", err.Error(), "both values are PEM contents, not file paths")
		}
	}

	if c.TLS.CAFile != "" {
		if _, err := loadCAFile(c.TLS.CAFile); err != nil {
			r.AddError("tls.ca_file", c.TLS.CAFile, err.Error(), "")
		}
	}
}

func validateLog(c *ClientConfig, r *ValidationResult) {
	if c.Log.Level != "" {
		if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
			r.AddError("log.level", c.Log.Level, "unknown level", "debug, info, warn or error")
		}
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		r.AddError("log.format", c.Log.Format, "unknown format", "text or json")
	}
}

func validateMetrics(c *ClientConfig, r *ValidationResult) {
	switch c.Metrics.Type {
	case "", metrics.MetricsTypeNone, metrics.MetricsTypeMemory, metrics.MetricsTypePrometheus:
	default:
		r.AddError("metrics.type", string(c.Metrics.Type), "unknown metrics type", "none, memory or prometheus")
	}
	if c.Metrics.Listen != "" && c.Metrics.Type != metrics.MetricsTypePrometheus {
		r.AddError("metrics.listen", c.Metrics.Listen, "only the prometheus backend can be exposed", "set metrics.type to prometheus")
	}
}

func loadCAFile(path string) (*x509.CertPool, error) {
	p, err := expandPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
