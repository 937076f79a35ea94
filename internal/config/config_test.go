package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolnet/internal/client"
	coreerrors "poolnet/internal/core/errors"
	"poolnet/internal/core/metrics"
	"poolnet/internal/protocol"
	"poolnet/internal/testutils"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, client.DefaultMaxTries, cfg.Handshake.MaxTries)
	assert.Equal(t, client.DefaultBackoffStep, cfg.Handshake.BackoffStep)
	assert.Len(t, cfg.Handshake.LegacyCommands, len(protocol.LegacyCommands().Commands()))
	assert.Equal(t, 32, cfg.Dial.DSCP)
	assert.True(t, cfg.Dial.NoDelay)
	assert.Equal(t, metrics.MetricsTypeNone, cfg.Metrics.Type)
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	testChdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Equal(t, coreerrors.CodeConfigBadth, coreerrors.GetCode(err))
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "poolnet.yaml", `
handshake:
  max_tries: 5
  backoff_step: 250ms
  legacy_commands: [0, 1, 2]
dial:
  timeout: 2s
  dscp: -1
  resolver_cache_size: 64
hose:
  name: recorder
log:
  level: debug
  format: json
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Handshake.MaxTries)
	assert.Equal(t, 250*time.Millisecond, cfg.Handshake.BackoffStep)
	assert.Equal(t, []int{0, 1, 2}, cfg.Handshake.LegacyCommands)
	assert.Equal(t, 2*time.Second, cfg.Dial.Timeout)
	assert.Equal(t, -1, cfg.Dial.DSCP)
	assert.Equal(t, 64, cfg.Dial.ResolverCacheSize)
	// 未出现的字段保持默认值
	assert.Equal(t, time.Minute, cfg.Dial.ResolverCacheTTL)
	assert.True(t, cfg.Dial.NoDelay)
	assert.Equal(t, "recorder", cfg.Hose.Name)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, DefaultFileName, "hose:\n  name: from-cwd\n")
	testChdir(t, dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-cwd", cfg.Hose.Name)
}

func TestLoad_HomeDirectory(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".poolnet"), 0o700))
	writeFile(t, filepath.Join(home, ".poolnet"), "config.yaml", "hose:\n  name: from-home\n")
	t.Setenv("HOME", home)
	testChdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-home", cfg.Hose.Name)

	cfg, err = Load("~/.poolnet/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "from-home", cfg.Hose.Name)
}

func TestLoad_BadYAML(t *testing.T) {
	p := writeFile(t, t.TempDir(), "bad.yaml", "handshake: [\n")
	_, err := Load(p)
	assert.Equal(t, coreerrors.CodeConfigBadth, coreerrors.GetCode(err))

	// 时长必须写成字符串
	p = writeFile(t, t.TempDir(), "int.yaml", "dial:\n  timeout: soon\n")
	_, err = Load(p)
	assert.Equal(t, coreerrors.CodeConfigBadth, coreerrors.GetCode(err))
}

func TestLoad_EnvOverrides(t *testing.T) {
	p := writeFile(t, t.TempDir(), "c.yaml", "hose:\n  name: file\nlog:\n  level: warn\n")
	t.Setenv("POOLNET_HOSE_NAME", "env")
	t.Setenv("POOLNET_HANDSHAKE_MAX_TRIES", "7")
	t.Setenv("POOLNET_DIAL_TIMEOUT", "3s")
	t.Setenv("POOLNET_METRICS_TYPE", "memory")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "env", cfg.Hose.Name)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 7, cfg.Handshake.MaxTries)
	assert.Equal(t, 3*time.Second, cfg.Dial.Timeout)
	assert.Equal(t, metrics.MetricsTypeMemory, cfg.Metrics.Type)
}

func TestApplyEnv_IgnoresMalformed(t *testing.T) {
	env := map[string]string{
		"POOLNET_HANDSHAKE_MAX_TRIES": "many",
		"POOLNET_DIAL_TIMEOUT":        "10",
		"POOLNET_HOSE_NAME":           "",
	}
	cfg := Default()
	cfg.Hose.Name = "kept"
	applyEnv(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, client.DefaultMaxTries, cfg.Handshake.MaxTries)
	assert.Equal(t, 10*time.Second, cfg.Dial.Timeout)
	assert.Equal(t, "kept", cfg.Hose.Name)
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Handshake.MaxTries = 0
	cfg.Handshake.LegacyCommands = []int{3, 64}
	cfg.Dial.DSCP = 256
	cfg.Dial.ResolverCacheSize = 8
	cfg.Dial.ResolverCacheTTL = 0
	cfg.TLS.Certificate = "-----BEGIN CERTIFICATE-----"
	cfg.Log.Level = "loud"
	cfg.Log.Format = "xml"
	cfg.Metrics.Listen = ":9100"

	r := cfg.Check()
	assert.False(t, r.IsValid())
	assert.Equal(t, []string{
		"handshake.max_tries",
		"handshake.legacy_commands",
		"dial.dscp",
		"dial.resolver_cache_ttl",
		"tls",
		"log.level",
		"log.format",
		"metrics.listen",
	}, r.Fields())

	err := cfg.Validate()
	assert.Equal(t, coreerrors.CodeConfigBadth, coreerrors.GetCode(err))
	var vr *ValidationResult
	require.True(t, errors.As(err, &vr))
	assert.Len(t, vr.Errors, 8)
	assert.Contains(t, err.Error(), "hint: set metrics.type to prometheus")
}

func TestValidate_TLS(t *testing.T) {
	cert, err := testutils.NewTestCert("127.0.0.1")
	require.NoError(t, err)
	dir := t.TempDir()

	cfg := Default()
	cfg.TLS.Certificate = string(cert.CertPEM)
	cfg.TLS.PrivateKey = string(cert.KeyPEM)
	cfg.TLS.CAFile = writeFile(t, dir, "ca.pem", string(cert.CertPEM))
	require.NoError(t, cfg.Validate())

	cfg.TLS.PrivateKey = "garbage"
	cfg.TLS.CAFile = writeFile(t, dir, "empty.pem", "not a certificate")
	assert.Equal(t, []string{"tls.certificate", "tls.ca_file"}, cfg.Check().Fields())

	cfg.TLS.CAFile = filepath.Join(dir, "missing.pem")
	assert.Contains(t, cfg.Check().Fields(), "tls.ca_file")
}

func TestClientOptions(t *testing.T) {
	cert, err := testutils.NewTestCert("127.0.0.1")
	require.NoError(t, err)

	cfg := Default()
	cfg.Handshake.MaxTries = 4
	cfg.Handshake.LegacyCommands = []int{int(protocol.CmdCreate), int(protocol.CmdDeposit)}
	cfg.Dial.DSCP = -1
	cfg.Dial.ResolverCacheSize = 16
	cfg.TLS.Certificate = string(cert.CertPEM)
	cfg.TLS.PrivateKey = string(cert.KeyPEM)
	cfg.TLS.CAFile = writeFile(t, t.TempDir(), "ca.pem", string(cert.CertPEM))
	cfg.Hose.Name = "h"
	require.NoError(t, cfg.Validate())

	opts, err := cfg.ClientOptions()
	require.NoError(t, err)

	var o client.Options
	for _, fn := range opts {
		fn(&o)
	}
	assert.Equal(t, 4, o.MaxTries)
	assert.Equal(t, cfg.Handshake.BackoffStep, o.BackoffStep)
	assert.Equal(t, []protocol.Command{protocol.CmdCreate, protocol.CmdDeposit}, o.LegacyCommands.Commands())
	assert.Equal(t, cfg.Dial.Timeout, o.DialTimeout)
	assert.Equal(t, -1, o.SocketOptions.TOS)
	assert.True(t, o.SocketOptions.NoDelay)
	assert.NotNil(t, o.Resolver)
	assert.NotNil(t, o.RootCAs)
	assert.Equal(t, string(cert.CertPEM), o.Certificate)
	assert.Equal(t, "h", o.HoseName)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Hose.Name = "x"
	data, err := cfg.Marshal()
	require.NoError(t, err)

	out := &ClientConfig{}
	require.NoError(t, Parse(data, out))
	assert.Equal(t, cfg, out)
}

// testChdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func testChdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
