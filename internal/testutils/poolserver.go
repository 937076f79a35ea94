package testutils

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"

	"golang.org/x/net/nettest"

	corelog "poolnet/internal/core/log"
	"poolnet/internal/packet"
	"poolnet/internal/packet/builder"
	"poolnet/internal/packet/parser"
	"poolnet/internal/protocol"
)

// PoolServerConfig 测试服务端的行为
type PoolServerConfig struct {
	NetVersion  uint8
	SlawVersion uint8
	// Commands 握手时通告的命令集
	Commands protocol.CommandSet

	// Legacy 对问候回复 (0,0) 并断开，之后接受不带问候的连接
	Legacy bool

	// Cert 非空时支持 STARTTLS
	Cert *TestCert
	// TLSOnly 升级前只通告 STARTTLS
	TLSOnly bool
	// StartTLSRetort 非零时 STARTTLS 直接返回它
	StartTLSRetort protocol.Retort
	// BreakTLS STARTTLS 成功后立即断开，不做 TLS 握手
	BreakTLS bool
	// StallTLS STARTTLS 成功后不做 TLS 握手，直到连接关闭
	StallTLS bool

	// FailGreetings 前 n 个带问候的连接在读完问候后直接断开
	FailGreetings int
	// RawReply 非空时对问候原样回复这些字节并断开
	RawReply []byte
}

// DefaultPoolServerConfig 当前版本、全部命令
func DefaultPoolServerConfig() PoolServerConfig {
	return PoolServerConfig{
		NetVersion:  protocol.CurrentNetVersion,
		SlawVersion: protocol.CurrentSlawVersion,
		Commands:    protocol.AllCommands(),
	}
}

// PoolServer 进程内的 pool 服务端，用于端到端测试客户端
type PoolServer struct {
	cfg PoolServerConfig
	ln  net.Listener
	log corelog.Logger

	mu        sync.Mutex
	pools     map[string]*memPool
	conns     map[net.Conn]struct{}
	received  map[protocol.Command]int
	names     []string
	greetings int
	accepted  int
	closed    bool
	quit      chan struct{}

	wg sync.WaitGroup
}

// NewPoolServer 在本地回环地址上启动服务端，测试结束时关闭
func NewPoolServer(t testing.TB, cfg PoolServerConfig) *PoolServer {
	t.Helper()
	ln, err := nettest.NewLocalListener("tcp4")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &PoolServer{
		cfg:      cfg,
		ln:       ln,
		log:      corelog.NewTestLogger(t).WithField("component", "poolserver"),
		pools:    make(map[string]*memPool),
		conns:    make(map[net.Conn]struct{}),
		received: make(map[protocol.Command]int),
		quit:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Addr 监听地址
func (s *PoolServer) Addr() *net.TCPAddr { return s.ln.Addr().(*net.TCPAddr) }

// URI 指向本服务端上 pool 的地址
func (s *PoolServer) URI(scheme, pool string) string {
	return fmt.Sprintf("%s://127.0.0.1:%s/%s", scheme, strconv.Itoa(s.Addr().Port), pool)
}

// Close 关闭监听和所有连接，等待处理 goroutine 退出
func (s *PoolServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.quit)
	err := s.ln.Close()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

// DropConnections 断开当前所有连接，模拟网络故障
func (s *PoolServer) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

// CreatePool 直接在服务端创建 pool
func (s *PoolServer) CreatePool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pools[name]; !ok {
		s.pools[name] = newMemPool(name, "mmap", packet.Map())
	}
}

// HasPool pool 是否存在
func (s *PoolServer) HasPool(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pools[name]
	return ok
}

// Deposit 绕过客户端直接存入，返回索引
func (s *PoolServer) Deposit(pool string, data []byte) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[pool]
	if !ok {
		p = newMemPool(pool, "mmap", packet.Map())
		s.pools[pool] = p
	}
	sp, _ := p.deposit(data)
	return sp.index
}

// AdvanceOldest 丢弃 idx 之前的数据
func (s *PoolServer) AdvanceOldest(pool string, idx int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pools[pool]; ok {
		p.advanceOldest(idx)
	}
}

// Received 收到某个命令的次数
func (s *PoolServer) Received(c protocol.Command) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received[c]
}

// HoseNames 通过 set_hose_name 收到的名称
func (s *PoolServer) HoseNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

// Greetings 收到的完整问候数量
func (s *PoolServer) Greetings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.greetings
}

// Accepted 接受的连接数量
func (s *PoolServer) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

func (s *PoolServer) acceptLoop() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = c.Close()
			return
		}
		s.conns[c] = struct{}{}
		s.accepted++
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.forget(c)
			if err := s.serve(c); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Debugf("connection ended: %v", err)
			}
		}()
	}
}

func (s *PoolServer) forget(c net.Conn) {
	_ = c.Close()
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *PoolServer) versionReply(cmds protocol.CommandSet) []byte {
	mask := cmds.Bitmask()
	out := []byte{s.cfg.NetVersion, s.cfg.SlawVersion, byte(len(mask))}
	return append(out, mask...)
}

func (s *PoolServer) advertised() protocol.CommandSet {
	cmds := s.cfg.Commands
	if s.cfg.Cert == nil {
		cmds = cmds.Without(protocol.CmdStartTLS)
	}
	if s.cfg.TLSOnly {
		return protocol.NewCommandSet(protocol.CmdStartTLS)
	}
	return cmds
}

// serve 处理一条连接：首字节 0 是问候，1 是操作帧（老客户端）
func (s *PoolServer) serve(c net.Conn) error {
	r := bufio.NewReader(c)
	first, err := r.Peek(1)
	if err != nil {
		return err
	}

	sess := &serverSession{
		srv:     s,
		conn:    c,
		r:       r,
		builder: builder.NewDefaultPacketBuilder(),
		parser:  parser.NewDefaultPacketParser(),
		cursor:  0,
	}

	if first[0] == 0 {
		greet := make([]byte, protocol.GreetingLen)
		if _, err := io.ReadFull(r, greet); err != nil {
			return err
		}
		if !protocol.IsGreeting(greet) {
			return fmt.Errorf("bad greeting % x", greet[:8])
		}
		s.mu.Lock()
		s.greetings++
		fail := s.cfg.FailGreetings > 0
		if fail {
			s.cfg.FailGreetings--
		}
		s.mu.Unlock()

		switch {
		case fail:
			return nil
		case s.cfg.RawReply != nil:
			_, err := c.Write(s.cfg.RawReply)
			return err
		case s.cfg.Legacy:
			_, err := c.Write([]byte{0, 0})
			return err
		}
		sess.netVersion = s.cfg.NetVersion
		sess.cmds = s.advertised()
		if _, err := c.Write(s.versionReply(sess.cmds)); err != nil {
			return err
		}
	} else {
		sess.legacy = true
		sess.cmds = protocol.LegacyCommands()
	}

	defer sess.close()
	return sess.loop()
}

// startTLS 在原连接上完成 TLS 握手和简短问候
func (s *PoolServer) startTLS(sess *serverSession) error {
	if s.cfg.BreakTLS {
		return errors.New("dropping connection instead of TLS")
	}
	if s.cfg.StallTLS {
		_, _ = io.Copy(io.Discard, sess.conn)
		return errors.New("stalled TLS handshake")
	}
	tc := tls.Server(sess.conn, s.cfg.Cert.ServerConfig())
	if err := tc.Handshake(); err != nil {
		return err
	}
	var vers [2]byte
	if _, err := io.ReadFull(tc, vers[:]); err != nil {
		return err
	}
	cmds := s.cfg.Commands
	if _, err := tc.Write(s.versionReply(cmds)); err != nil {
		return err
	}
	sess.mu.Lock()
	sess.out = tc
	sess.mu.Unlock()
	sess.r = bufio.NewReader(tc)
	sess.cmds = cmds
	sess.netVersion = s.cfg.NetVersion
	return nil
}
