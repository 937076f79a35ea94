package tunnel

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/prep/socketpair"
	"golang.org/x/sync/errgroup"

	coreerrors "poolnet/internal/core/errors"
	corelog "poolnet/internal/core/log"
	"poolnet/internal/core/metrics"
	"poolnet/internal/wakeup"
)

// TLSOptions 隧道的 TLS 客户端参数
type TLSOptions struct {
	// ServerName 用于 SNI 和证书校验，通常是池地址中的主机名
	ServerName string
	// AllowUnverified 为 true 时不校验服务端证书
	AllowUnverified bool
	// RootCAs 为空时使用系统根证书
	RootCAs *x509.CertPool
	// Certificates 客户端证书，可为空
	Certificates []tls.Certificate
	// HandshakeTimeout 大于 0 时限制 TLS 握手的时长
	HandshakeTimeout time.Duration
}

func (o TLSOptions) config() *tls.Config {
	return &tls.Config{
		ServerName:         o.ServerName,
		InsecureSkipVerify: o.AllowUnverified,
		RootCAs:            o.RootCAs,
		Certificates:       o.Certificates,
		MinVersion:         tls.VersionTLS12,
	}
}

// Task 一个正在运行的隧道
type Task struct {
	g    *errgroup.Group
	done chan struct{}
	stop *wakeup.Wakeup
	// abort 取消尚未完成的握手
	abort context.CancelFunc

	mu       sync.Mutex
	err      error
	snapshot Snapshot
}

// Launch 在 physical 上启动 TLS 隧道，返回本地明文端
//
// 握手和转发都在后台进行；握手失败时明文端会被关闭，错误通过 Wait 返回。
// ctx 结束或调用 Stop 都会中止握手或结束转发。隧道结束时会关闭 physical。
func Launch(ctx context.Context, physical net.Conn, opts TLSOptions, logger corelog.Logger) (net.Conn, *Task, error) {
	if logger == nil {
		logger = corelog.Default()
	}
	clear, tunnelEnd, err := socketpair.New("unix")
	if err != nil {
		return nil, nil, coreerrors.Wrap(err, coreerrors.CodeSockBadth, "create tunnel socket pair")
	}
	a, err := NewSocketEndpoint(tunnelEnd)
	if err != nil {
		_ = clear.Close()
		_ = tunnelEnd.Close()
		return nil, nil, coreerrors.Wrap(err, coreerrors.CodeSockBadth, "tunnel endpoint")
	}
	stop, err := wakeup.New()
	if err != nil {
		_ = clear.Close()
		_ = tunnelEnd.Close()
		return nil, nil, coreerrors.Wrap(err, coreerrors.CodeSockBadth, "tunnel stop signal")
	}

	t := &Task{done: make(chan struct{}), stop: stop}
	g, gctx := errgroup.WithContext(ctx)
	t.g = g
	hctx, abort := context.WithCancel(gctx)
	t.abort = abort

	g.Go(func() error {
		defer close(t.done)
		defer abort()
		err := t.run(hctx, physical, a, opts, logger)
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		return err
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			_ = stop.Signal()
		case <-t.done:
		}
		return nil
	})

	return clear, t, nil
}

func (t *Task) run(ctx context.Context, physical net.Conn, a Endpoint, opts TLSOptions, logger corelog.Logger) error {
	defer func() {
		_ = a.Close()
	}()

	hctx := ctx
	if opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, opts.HandshakeTimeout)
		defer cancel()
	}
	b, err := newTLSEndpoint(hctx, physical, opts.config())
	if err != nil {
		_ = physical.Close()
		logger.WithError(err).Debug("tls handshake failed")
		return coreerrors.Wrap(err, coreerrors.CodeTLSError, "tls handshake")
	}
	metrics.RecordTLSUpgrade()

	p := NewPump(a, b, t.stop, logger)
	perr := p.Run()

	t.mu.Lock()
	t.snapshot = p.Snapshot()
	t.mu.Unlock()

	if cerr := b.Close(); cerr != nil {
		logger.WithError(cerr).Debug("tls shutdown")
	}
	if perr != nil {
		return coreerrors.Wrap(perr, coreerrors.CodeTLSError, "tunnel transfer")
	}
	return nil
}

// Done 隧道结束后关闭
func (t *Task) Done() <-chan struct{} { return t.done }

// Err 隧道结束前返回 nil
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Stop 请求隧道结束，不等待；握手中调用会中止握手
func (t *Task) Stop() {
	select {
	case <-t.done:
	default:
		t.abort()
		if err := t.stop.Signal(); err != nil && !errors.Is(err, net.ErrClosed) {
			corelog.Debugf("tunnel stop: %v", err)
		}
	}
}

// Wait 等待隧道结束
func (t *Task) Wait() error {
	err := t.g.Wait()
	_ = t.stop.Close()
	return err
}

// Snapshot 隧道结束时的泵状态
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot
}
