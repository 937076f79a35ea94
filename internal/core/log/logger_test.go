package log

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()

	logger.Debug("test")
	logger.Infof("test %s", "arg")

	_, ok := logger.WithField("key", "value").(NopLogger)
	assert.True(t, ok)
	_, ok = logger.WithContext(context.Background()).(NopLogger)
	assert.True(t, ok)
}

type recordingT struct {
	lines []string
}

func (r *recordingT) Logf(format string, args ...interface{}) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func (r *recordingT) Helper() {}

func TestTestLogger_Fields(t *testing.T) {
	rec := &recordingT{}
	logger := NewTestLogger(rec)

	logger.WithField("pool", "tcp://h/p").Infof("try %d", 2)
	logger.Warn("plain")

	require.Len(t, rec.lines, 2)
	assert.Equal(t, "[INFO] try 2 [pool=tcp://h/p]", rec.lines[0])
	assert.Equal(t, "[WARN] plain", rec.lines[1])
}

func TestLogrusLogger(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	logger := NewLogrusLogger(l)

	logger.Debug("debug message")
	assert.Contains(t, buf.String(), "debug message")

	buf.Reset()
	logger.WithField("key", "value").Info("with field")
	assert.Contains(t, buf.String(), "key=value")

	buf.Reset()
	logger.WithFields(map[string]interface{}{"k1": "v1", "k2": "v2"}).Info("with fields")
	out := buf.String()
	assert.True(t, strings.Contains(out, "k1=v1") && strings.Contains(out, "k2=v2"))
}

func TestNewFromConfig(t *testing.T) {
	_, _, err := NewFromConfig(Config{Level: "loud"})
	assert.Error(t, err)

	_, _, err = NewFromConfig(Config{Format: "xml"})
	assert.Error(t, err)

	_, _, err = NewFromConfig(Config{Output: "file"})
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "client.log")
	logger, closer, err := NewFromConfig(Config{Level: "debug", Format: "json", Output: "file", File: path})
	require.NoError(t, err)
	require.NotNil(t, closer)

	logger.WithField("hose", "h1").Debug("dirty net pool hose, reconnecting")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"hose":"h1"`)
	assert.Contains(t, string(data), "reconnecting")
}

func TestDefaultLogger(t *testing.T) {
	logger := Default()
	require.NotNil(t, logger)

	nop := NewNopLogger()
	SetDefault(nop)
	assert.Equal(t, nop, Default())

	SetDefault(logger)
}

func TestConfigure_ReplacesDefault(t *testing.T) {
	orig := Default()
	defer SetDefault(orig)

	require.NoError(t, Configure(Config{Output: "discard"}))
	assert.NotEqual(t, orig, Default())

	ForComponent("handshake").Info("quiet")
	Infof("quiet %d", 1)
}
