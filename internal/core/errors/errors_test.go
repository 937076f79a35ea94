package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "without cause",
			err:      New(CodeNoSuchPool, "pool foo not found"),
			expected: "[NO_SUCH_POOL] pool foo not found",
		},
		{
			name:     "with cause",
			err:      Wrap(errors.New("connection reset"), CodeRecvBadth, "read greeting reply"),
			expected: "[RECV_BADTH] read greeting reply: connection reset",
		},
		{
			name:     "formatted message",
			err:      Newf(CodePoolnameBadth, "invalid port: %d", 99999),
			expected: "[POOLNAME_BADTH] invalid port: 99999",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestError_Is(t *testing.T) {
	err1 := New(CodeNoSuchProtein, "index 7")
	err2 := New(CodeNoSuchProtein, "index 9")
	err3 := New(CodeAwaitTimedOut, "timed out")

	// 相同错误码应该匹配
	if !errors.Is(err1, err2) {
		t.Error("errors with same code should match")
	}

	// 不同错误码不应该匹配
	if errors.Is(err1, err3) {
		t.Error("errors with different code should not match")
	}

	// 包装后仍可匹配哨兵错误
	wrapped := fmt.Errorf("fetch: %w", err1)
	if !errors.Is(wrapped, ErrNoSuchProtein) {
		t.Error("should match sentinel error with same code")
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("original error")
	wrapped := Wrap(cause, CodeSendBadth, "wrapped")

	if errors.Unwrap(wrapped) != cause {
		t.Error("Unwrap should return the cause")
	}
}

func TestError_WithDetail(t *testing.T) {
	err := New(CodeServerError, "server said no").
		WithDetailInt("retort", -200570)

	v, ok := err.GetDetailInt("retort")
	if !ok || v != -200570 {
		t.Error("detail 'retort' should be -200570")
	}
	if _, ok := err.GetDetailInt("missing"); ok {
		t.Error("missing detail should report not found")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{"custom error", New(CodeEmptyGang, "empty"), CodeEmptyGang},
		{"wrapped error", fmt.Errorf("ctx: %w", Wrap(errors.New("x"), CodeTLSError, "tls")), CodeTLSError},
		{"standard error", errors.New("standard"), CodeInternal},
		{"nil error", nil, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.expected {
				t.Errorf("GetCode() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCategoryFor(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"bad address", ErrPoolnameBadth, CategoryAddress},
		{"unreachable", ErrServerUnreach, CategoryConnectivity},
		{"resolver", ErrNoSuchPool, CategoryConnectivity},
		{"send", ErrSendBadth, CategoryHandshakeIO},
		{"recv", ErrRecvBadth, CategoryHandshakeIO},
		{"closed", ErrUnexpectedClose, CategoryHandshakeIO},
		{"version", ErrWrongVersion, CategoryProtocol},
		{"no tls", ErrNoTLS, CategorySecurity},
		{"tls required", ErrTLSRequired, CategorySecurity},
		{"tunnel", ErrTLSError, CategoryTunnel},
		{"command", ErrNoSuchProtein, CategoryCommand},
		{"plain", errors.New("x"), CategoryUnknown},
		{"nil", nil, CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategoryFor(tt.err); got != tt.expected {
				t.Errorf("CategoryFor() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"send", ErrSendBadth, true},
		{"recv", Wrap(errors.New("eof"), CodeRecvBadth, "reply"), true},
		{"unexpected close", ErrUnexpectedClose, true},
		{"wrong version", ErrWrongVersion, false},
		{"unreachable", ErrServerUnreach, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.expected {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.expected)
			}
		})
	}
}
