package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "poolnet/internal/core/errors"
	corelog "poolnet/internal/core/log"
	"poolnet/internal/packet"
	"poolnet/internal/protocol"
	"poolnet/internal/testutils"
)

func testOptions(t *testing.T, extra ...Option) []Option {
	return append([]Option{
		WithLogger(corelog.NewTestLogger(t)),
		WithHandshakeRetry(3, time.Millisecond),
		WithDialTimeout(5 * time.Second),
	}, extra...)
}

func newServer(t *testing.T, mutate func(*testutils.PoolServerConfig)) *testutils.PoolServer {
	cfg := testutils.DefaultPoolServerConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return testutils.NewPoolServer(t, cfg)
}

func newTLSServer(t *testing.T, mutate func(*testutils.PoolServerConfig)) (*testutils.PoolServer, *testutils.TestCert) {
	cert, err := testutils.NewTestCert("127.0.0.1")
	require.NoError(t, err)
	srv := newServer(t, func(cfg *testutils.PoolServerConfig) {
		cfg.Cert = cert
		if mutate != nil {
			mutate(cfg)
		}
	})
	return srv, cert
}

func dialURI(t *testing.T, uri string, extra ...Option) (*Connection, error) {
	t.Helper()
	addr, err := ParsePoolAddress(uri, true)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return Dial(ctx, addr, buildOptions(testOptions(t, extra...)))
}

func TestDial(t *testing.T) {
	srv := newServer(t, nil)

	c, err := dialURI(t, srv.URI("tcp", "p"))
	require.NoError(t, err)
	testutils.Cleanup(t, c)

	s := c.Session()
	assert.Equal(t, uint8(protocol.CurrentNetVersion), s.NetVersion)
	assert.False(t, s.Legacy)
	assert.True(t, s.Supports(protocol.CmdFancyAddAwaiter))
	assert.False(t, c.Tunneled())
	assert.GreaterOrEqual(t, c.Fd(), 0)
	assert.Equal(t, 1, srv.Greetings())
}

func TestDial_LegacyFallback(t *testing.T) {
	srv := newServer(t, func(cfg *testutils.PoolServerConfig) { cfg.Legacy = true })

	c, err := dialURI(t, srv.URI("tcp", "p"))
	require.NoError(t, err)
	defer c.Close()

	s := c.Session()
	assert.True(t, s.Legacy)
	assert.Equal(t, uint8(protocol.LegacySlawVersion), s.SlawVersion)
	assert.True(t, s.Supports(protocol.CmdDeposit))
	assert.False(t, s.Supports(protocol.CmdFancyAddAwaiter))
	assert.Equal(t, 1, srv.Greetings())
	// 旧协议重连不发送任何数据，服务端计数可能稍晚
	testutils.Eventually(t, 2*time.Second, func() bool { return srv.Accepted() == 2 }, "legacy reconnect accepted")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, srv.Accepted())
}

func TestDial_LegacyCommandsConfigurable(t *testing.T) {
	srv := newServer(t, func(cfg *testutils.PoolServerConfig) { cfg.Legacy = true })

	c, err := dialURI(t, srv.URI("tcp", "p"), WithLegacyCommands(protocol.NewCommandSet(protocol.CmdParticipate)))
	require.NoError(t, err)
	defer c.Close()
	assert.False(t, c.Session().Supports(protocol.CmdDeposit))
}

func TestDial_RetriesHandshakeFailures(t *testing.T) {
	srv := newServer(t, func(cfg *testutils.PoolServerConfig) { cfg.FailGreetings = 2 })

	c, err := dialURI(t, srv.URI("tcp", "p"))
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, 3, srv.Greetings())
}

func TestDial_GivesUpAfterMaxTries(t *testing.T) {
	srv := newServer(t, func(cfg *testutils.PoolServerConfig) { cfg.FailGreetings = 3 })

	_, err := dialURI(t, srv.URI("tcp", "p"))
	require.Error(t, err)
	assert.Equal(t, coreerrors.CodeUnexpectedClose, coreerrors.GetCode(err))
	assert.Equal(t, 3, srv.Greetings())
}

func TestDial_WrongVersionIsFatal(t *testing.T) {
	srv := newServer(t, func(cfg *testutils.PoolServerConfig) { cfg.RawReply = []byte("HTTP/1.0 400 Bad Request\r\n") })

	_, err := dialURI(t, srv.URI("tcp", "p"))
	require.Error(t, err)
	assert.Equal(t, coreerrors.CodeWrongVersion, coreerrors.GetCode(err))
	assert.Equal(t, 1, srv.Greetings())
}

func TestDial_Unreachable(t *testing.T) {
	srv := newServer(t, nil)
	uri := srv.URI("tcp", "p")
	require.NoError(t, srv.Close())

	_, err := dialURI(t, uri)
	require.Error(t, err)
	assert.Equal(t, coreerrors.CategoryConnectivity, coreerrors.CategoryFor(err))
}

func TestDial_SecureWithoutTLS(t *testing.T) {
	srv := newServer(t, nil)

	_, err := dialURI(t, srv.URI("tcps", "p"))
	require.Error(t, err)
	assert.Equal(t, coreerrors.CodeNoTLS, coreerrors.GetCode(err))
}

func TestDial_OpportunisticWithoutTLS(t *testing.T) {
	srv := newServer(t, nil)

	c, err := dialURI(t, srv.URI("tcpo", "p"))
	require.NoError(t, err)
	defer c.Close()
	assert.False(t, c.Tunneled())
}

func TestDial_TLSRequired(t *testing.T) {
	srv, _ := newTLSServer(t, func(cfg *testutils.PoolServerConfig) { cfg.TLSOnly = true })

	_, err := dialURI(t, srv.URI("tcp", "p"))
	require.Error(t, err)
	assert.Equal(t, coreerrors.CodeTLSRequired, coreerrors.GetCode(err))
}

func TestDial_InsecureIgnoresStartTLS(t *testing.T) {
	srv, _ := newTLSServer(t, nil)

	c, err := dialURI(t, srv.URI("tcp", "p"))
	require.NoError(t, err)
	defer c.Close()
	assert.False(t, c.Tunneled())
	assert.Zero(t, srv.Received(protocol.CmdStartTLS))
}

func TestDial_Opportunistic(t *testing.T) {
	srv, _ := newTLSServer(t, nil)

	c, err := dialURI(t, srv.URI("tcpo", "p"))
	require.NoError(t, err)
	assert.True(t, c.Tunneled())
	assert.Equal(t, 1, srv.Received(protocol.CmdStartTLS))

	// 隧道内仍能正常收发
	r, err := c.callRetort(packet.NewOp(protocol.CmdCreate, packet.String("t"), packet.String("mmap"), packet.Map()))
	require.NoError(t, err)
	assert.Equal(t, protocol.RetortOK, r)
	assert.True(t, srv.HasPool("t"))

	require.NoError(t, c.Close())
}

func TestDial_SecureVerifiesCertificate(t *testing.T) {
	srv, cert := newTLSServer(t, nil)

	c, err := dialURI(t, srv.URI("tcps", "p"), WithRootCAs(cert.Pool))
	require.NoError(t, err)
	assert.True(t, c.Tunneled())
	require.NoError(t, c.Close())
}

func TestDial_SecureUnknownAuthority(t *testing.T) {
	srv, _ := newTLSServer(t, nil)

	_, err := dialURI(t, srv.URI("tcps", "p"))
	require.Error(t, err)
	assert.Equal(t, coreerrors.CodeTLSError, coreerrors.GetCode(err))
}

func TestDial_StartTLSRefused(t *testing.T) {
	srv, _ := newTLSServer(t, func(cfg *testutils.PoolServerConfig) {
		cfg.StartTLSRetort = protocol.RetortUnsupportedOperation
	})

	_, err := dialURI(t, srv.URI("tcpo", "p"))
	require.Error(t, err)
	assert.Equal(t, coreerrors.CodeUnsupportedOperation, coreerrors.GetCode(err))
}

func TestDial_TunnelBroken(t *testing.T) {
	srv, _ := newTLSServer(t, func(cfg *testutils.PoolServerConfig) { cfg.BreakTLS = true })

	_, err := dialURI(t, srv.URI("tcpo", "p"))
	require.Error(t, err)
	assert.Equal(t, coreerrors.CodeTLSError, coreerrors.GetCode(err))
}

func TestDial_StalledTLSHandshakeTimesOut(t *testing.T) {
	srv, _ := newTLSServer(t, func(cfg *testutils.PoolServerConfig) { cfg.StallTLS = true })

	start := time.Now()
	_, err := dialURI(t, srv.URI("tcpo", "p"), WithDialTimeout(200*time.Millisecond))
	require.Error(t, err)
	assert.Equal(t, coreerrors.CategoryTunnel, coreerrors.CategoryFor(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDial_CancelDuringTLSHandshake(t *testing.T) {
	srv, _ := newTLSServer(t, func(cfg *testutils.PoolServerConfig) { cfg.StallTLS = true })
	addr, err := ParsePoolAddress(srv.URI("tcpo", "p"), false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(150*time.Millisecond, cancel)

	start := time.Now()
	_, err = Dial(ctx, addr, buildOptions(testOptions(t, WithDialTimeout(time.Minute))))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestConnection_CloseTwice(t *testing.T) {
	srv := newServer(t, nil)

	c, err := dialURI(t, srv.URI("tcp", "p"))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.NotPanics(t, func() { _ = c.Close() })
}
