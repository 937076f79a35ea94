// Package dispose 管理一组按获取顺序登记、按相反顺序释放的资源
package dispose

import (
	"errors"
	"fmt"
	"sync"

	corelog "poolnet/internal/core/log"
)

// DisposeError 清理过程中的错误信息
type DisposeError struct {
	HandlerIndex int
	ResourceName string
	Err          error
}

func (e *DisposeError) Error() string {
	if e.ResourceName != "" {
		return fmt.Sprintf("cleanup resource[%s] handler[%d] failed: %v", e.ResourceName, e.HandlerIndex, e.Err)
	}
	return fmt.Sprintf("cleanup handler[%d] failed: %v", e.HandlerIndex, e.Err)
}

func (e *DisposeError) Unwrap() error {
	return e.Err
}

// DisposeResult 清理结果
type DisposeResult struct {
	Errors         []*DisposeError
	ActualDisposal bool // 本次调用是否实际执行了释放
}

func (r *DisposeResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Err 合并所有清理错误，没有错误时返回 nil
func (r *DisposeResult) Err() error {
	if !r.HasErrors() {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

type handler struct {
	name string
	fn   func() error
	skip bool
}

// Dispose 资源释放栈，零值可用
type Dispose struct {
	mu       sync.Mutex
	closed   bool
	handlers []handler
	result   *DisposeResult
}

// AddCleanHandler 登记一个清理函数，Close 时后登记的先执行
func (c *Dispose) AddCleanHandler(name string, f func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		// 已关闭时立即释放，避免泄漏
		if err := f(); err != nil {
			corelog.Warnf("dispose: late cleanup of %s failed: %v", name, err)
		}
		return
	}
	c.handlers = append(c.handlers, handler{name: name, fn: f})
}

// Skip 标记名为 name 的清理函数在 Close 时不执行
func (c *Dispose) Skip(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.handlers {
		if c.handlers[i].name == name {
			c.handlers[i].skip = true
		}
	}
}

func (c *Dispose) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close 逆序执行清理函数，重复调用返回第一次的结果
func (c *Dispose) Close() *DisposeResult {
	c.mu.Lock()
	if c.closed {
		r := c.result
		c.mu.Unlock()
		return &DisposeResult{Errors: r.Errors}
	}
	c.closed = true
	handlers := c.handlers
	c.handlers = nil
	c.mu.Unlock()

	result := &DisposeResult{ActualDisposal: true}
	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		if h.skip {
			continue
		}
		if err := h.fn(); err != nil {
			result.Errors = append(result.Errors, &DisposeError{HandlerIndex: i, ResourceName: h.name, Err: err})
			// 继续执行其余清理
			corelog.Debugf("dispose: cleanup %s failed: %v", h.name, err)
		}
	}

	c.mu.Lock()
	c.result = result
	c.mu.Unlock()
	return result
}
