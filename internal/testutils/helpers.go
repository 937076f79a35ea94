package testutils

import (
	"context"
	"io"
	"testing"
	"time"

	"poolnet/internal/core/dispose"
	coreerrors "poolnet/internal/core/errors"
)

// Cleanup 注册在测试结束时按逆序关闭的资源
func Cleanup(t testing.TB, closers ...io.Closer) {
	t.Helper()
	var d dispose.Dispose
	for _, c := range closers {
		c := c
		d.AddCleanHandler("test resource", c.Close)
	}
	t.Cleanup(func() { d.Close() })
}

// Eventually 轮询 cond 直到成立或超时
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// ConcurrentTest 并发测试工具
type ConcurrentTest struct {
	t             *testing.T
	numGoroutines int
	results       chan error
	timeout       time.Duration
}

// NewConcurrentTest 创建新的并发测试工具
func NewConcurrentTest(t *testing.T, numGoroutines int) *ConcurrentTest {
	return &ConcurrentTest{
		t:             t,
		numGoroutines: numGoroutines,
		results:       make(chan error, numGoroutines),
		timeout:       30 * time.Second,
	}
}

// SetTimeout 设置超时时间
func (ct *ConcurrentTest) SetTimeout(timeout time.Duration) {
	ct.timeout = timeout
}

// RunConcurrent 并发运行 testFunc，第 i 个 goroutine 收到 i
func (ct *ConcurrentTest) RunConcurrent(testFunc func(i int) error) {
	ctx, cancel := context.WithTimeout(context.Background(), ct.timeout)
	defer cancel()

	for i := 0; i < ct.numGoroutines; i++ {
		go func(i int) {
			done := make(chan error, 1)
			go func() { done <- testFunc(i) }()
			select {
			case err := <-done:
				ct.results <- err
			case <-ctx.Done():
				ct.results <- coreerrors.Wrap(ctx.Err(), coreerrors.CodeAwaitTimedOut, "concurrent test timeout")
			}
		}(i)
	}

	for i := 0; i < ct.numGoroutines; i++ {
		select {
		case err := <-ct.results:
			if err != nil {
				ct.t.Errorf("Concurrent test failed: %v", err)
			}
		case <-ctx.Done():
			ct.t.Fatalf("Concurrent test timeout after %v", ct.timeout)
		}
	}
}
