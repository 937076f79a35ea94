package tunnel

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"

	coreerrors "poolnet/internal/core/errors"
	corelog "poolnet/internal/core/log"
	"poolnet/internal/testutils"
)

// startEchoTLS 启动一个 TLS 回显服务
func startEchoTLS(t *testing.T, cert *testutils.TestCert) net.Listener {
	t.Helper()
	ln, err := nettest.NewLocalListener("tcp4")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				tc := tls.Server(c, cert.ServerConfig())
				_, _ = io.Copy(tc, tc)
				_ = tc.Close()
			}()
		}
	}()
	return ln
}

func dialAndLaunch(t *testing.T, ln net.Listener, opts TLSOptions) (net.Conn, *Task) {
	t.Helper()
	physical, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	clear, task, err := Launch(context.Background(), physical, opts, corelog.NewTestLogger(t))
	require.NoError(t, err)
	return clear, task
}

func TestLaunch_RoundTrip(t *testing.T) {
	cert, err := testutils.NewTestCert("127.0.0.1")
	require.NoError(t, err)
	ln := startEchoTLS(t, cert)

	clear, task := dialAndLaunch(t, ln, TLSOptions{ServerName: "127.0.0.1", RootCAs: cert.Pool})

	payload := make([]byte, 256*1024)
	_, _ = rand.Read(payload)
	go func() { _, _ = clear.Write(payload) }()

	got := make([]byte, len(payload))
	require.NoError(t, clear.SetReadDeadline(time.Now().Add(10*time.Second)))
	_, err = io.ReadFull(clear, got)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got))

	require.NoError(t, clear.Close())
	assert.NoError(t, task.Wait())

	s := task.Snapshot()
	assert.Equal(t, int64(len(payload)), s.BytesAToB)
	assert.Equal(t, int64(len(payload)), s.BytesBToA)
}

func TestLaunch_VerifyFailure(t *testing.T) {
	cert, err := testutils.NewTestCert("127.0.0.1")
	require.NoError(t, err)
	ln := startEchoTLS(t, cert)

	clear, task := dialAndLaunch(t, ln, TLSOptions{ServerName: "127.0.0.1", RootCAs: x509.NewCertPool()})
	defer clear.Close()

	err = task.Wait()
	require.Error(t, err)
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeTLSError))
	assert.Equal(t, coreerrors.CategoryTunnel, coreerrors.CategoryFor(err))

	// 握手失败后明文端收到 EOF
	require.NoError(t, clear.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = clear.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestLaunch_AllowUnverified(t *testing.T) {
	cert, err := testutils.NewTestCert("pool.example")
	require.NoError(t, err)
	ln := startEchoTLS(t, cert)

	clear, task := dialAndLaunch(t, ln, TLSOptions{ServerName: "127.0.0.1", AllowUnverified: true})

	_, err = clear.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	require.NoError(t, clear.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = io.ReadFull(clear, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	task.Stop()
	assert.NoError(t, task.Wait())
	select {
	case <-task.Done():
	default:
		t.Fatal("task should be done after Wait")
	}
	assert.NoError(t, task.Err())
	clear.Close()
}

func TestLaunch_ContextCancel(t *testing.T) {
	cert, err := testutils.NewTestCert("127.0.0.1")
	require.NoError(t, err)
	ln := startEchoTLS(t, cert)

	physical, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	clear, task, err := Launch(ctx, physical, TLSOptions{ServerName: "127.0.0.1", RootCAs: cert.Pool}, nil)
	require.NoError(t, err)
	defer clear.Close()

	_, err = clear.Write([]byte("x"))
	require.NoError(t, err)
	buf := make([]byte, 1)
	_, err = io.ReadFull(clear, buf)
	require.NoError(t, err)

	cancel()
	assert.NoError(t, task.Wait())
}

// startSilent 接受连接但从不回应
func startSilent(t *testing.T) net.Listener {
	t.Helper()
	ln, err := nettest.NewLocalListener("tcp4")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_, _ = io.Copy(io.Discard, c)
			}()
		}
	}()
	return ln
}

func TestLaunch_HandshakeTimeout(t *testing.T) {
	ln := startSilent(t)

	start := time.Now()
	clear, task := dialAndLaunch(t, ln, TLSOptions{ServerName: "127.0.0.1", HandshakeTimeout: 100 * time.Millisecond})
	defer clear.Close()

	err := task.Wait()
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeTLSError))
	assert.Less(t, time.Since(start), 3*time.Second)

	// 握手失败后明文端被关闭
	_, err = clear.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestLaunch_StopAbortsHandshake(t *testing.T) {
	ln := startSilent(t)
	clear, task := dialAndLaunch(t, ln, TLSOptions{ServerName: "127.0.0.1"})
	defer clear.Close()

	time.AfterFunc(100*time.Millisecond, task.Stop)
	done := make(chan error, 1)
	go func() { done <- task.Wait() }()
	select {
	case err := <-done:
		assert.True(t, coreerrors.IsCode(err, coreerrors.CodeTLSError))
	case <-time.After(5 * time.Second):
		t.Fatal("handshake was not aborted")
	}
}
