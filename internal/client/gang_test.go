package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "poolnet/internal/core/errors"
	"poolnet/internal/wakeup"
)

func newGang(t *testing.T) *Gang {
	g, err := NewGang()
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Disband(false) })
	return g
}

func TestGang_Membership(t *testing.T) {
	srv := newServer(t, nil)
	a := participate(t, srv, "a")
	b := participate(t, srv, "b")
	g := newGang(t)

	_, _, err := g.Next()
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeEmptyGang))

	require.NoError(t, g.Join(a))
	require.NoError(t, g.Join(b))
	assert.Equal(t, 2, g.Count())
	assert.Same(t, b, g.Nth(0))
	assert.Same(t, a, g.Nth(1))
	assert.Nil(t, g.Nth(2))
	assert.Nil(t, g.Nth(-1))

	assert.True(t, coreerrors.IsCode(g.Join(a), coreerrors.CodeAlreadyGangMember))

	other := newGang(t)
	assert.True(t, coreerrors.IsCode(other.Join(a), coreerrors.CodeAlreadyGangMember))
	assert.True(t, coreerrors.IsCode(other.Leave(a), coreerrors.CodeNotAGangMember))

	require.NoError(t, g.Leave(a))
	assert.Equal(t, 1, g.Count())
	require.NoError(t, other.Join(a))

	// withdraw 时自动离开 gang
	require.NoError(t, a.Withdraw())
	assert.Zero(t, other.Count())
}

func TestGang_NextRoundRobin(t *testing.T) {
	for name, cmds := range awaitVariants {
		t.Run(name, func(t *testing.T) {
			srv := serverWith(t, cmds)
			a := participate(t, srv, "a")
			b := participate(t, srv, "b")
			deposit(t, a, "a0", "a1")
			deposit(t, b, "b0", "b1")

			g := newGang(t)
			require.NoError(t, g.Join(a))
			require.NoError(t, g.Join(b))

			var got []string
			for i := 0; i < 4; i++ {
				h, p, err := g.Next()
				require.NoError(t, err)
				assert.Same(t, map[byte]*Hose{'a': a, 'b': b}[p.Data[0]], h)
				got = append(got, string(p.Data))
			}
			assert.Equal(t, []string{"b0", "a0", "b1", "a1"}, got)

			_, _, err := g.Next()
			assert.True(t, coreerrors.IsNoSuchProtein(err))
		})
	}
}

func TestGang_LeaveKeepsRotation(t *testing.T) {
	srv := newServer(t, nil)
	a := participate(t, srv, "a")
	b := participate(t, srv, "b")
	c := participate(t, srv, "c")
	for _, h := range []*Hose{a, b, c} {
		deposit(t, h, h.Address().Pool+"0", h.Address().Pool+"1")
	}

	g := newGang(t)
	for _, h := range []*Hose{a, b, c} {
		require.NoError(t, g.Join(h))
	}
	// 成员顺序 c b a，从 a 之后开始
	h, _, err := g.Next()
	require.NoError(t, err)
	assert.Same(t, c, h)

	require.NoError(t, g.Leave(c))
	h, _, err = g.Next()
	require.NoError(t, err)
	assert.Same(t, b, h)
}

func TestGang_AwaitNext(t *testing.T) {
	for name, cmds := range awaitVariants {
		t.Run(name, func(t *testing.T) {
			srv := serverWith(t, cmds)
			a := participate(t, srv, "a")
			b := participate(t, srv, "b")
			g := newGang(t)
			require.NoError(t, g.Join(a))
			require.NoError(t, g.Join(b))

			_, _, err := g.AwaitNext(NoWait)
			assert.True(t, coreerrors.IsTimeout(err))

			start := time.Now()
			_, _, err = g.AwaitNext(50 * time.Millisecond)
			assert.True(t, coreerrors.IsTimeout(err))
			assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

			go func() {
				time.Sleep(50 * time.Millisecond)
				srv.Deposit("a", []byte("late"))
			}()
			h, p, err := g.AwaitNext(5 * time.Second)
			require.NoError(t, err)
			assert.Same(t, a, h)
			assert.Equal(t, "late", string(p.Data))
			assert.Equal(t, int64(1), a.Index())

			// 其它成员的等待被取消后仍可正常使用
			deposit(t, b, "b0")
			h, p, err = g.Next()
			require.NoError(t, err)
			assert.Same(t, b, h)
			assert.Equal(t, "b0", string(p.Data))
		})
	}
}

func TestGang_WakeUp(t *testing.T) {
	srv := newServer(t, nil)
	a := participate(t, srv, "a")
	g := newGang(t)
	require.NoError(t, g.Join(a))

	require.NoError(t, g.WakeUp())
	_, _, err := g.AwaitNext(WaitForever)
	assert.ErrorIs(t, err, coreerrors.ErrAwaitWoken)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = g.WakeUp()
	}()
	_, _, err = g.AwaitNext(WaitForever)
	assert.True(t, coreerrors.IsWoken(err))

	// 唤醒被消耗后正常等待
	srv.Deposit("a", []byte("x"))
	_, p, err := g.AwaitNext(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "x", string(p.Data))
}

func TestGang_WakeUpWinsOverReadyMember(t *testing.T) {
	srv := newServer(t, nil)
	a := participate(t, srv, "a")
	g := newGang(t)
	require.NoError(t, g.Join(a))

	// 第一次轮询同时报告成员可读和唤醒，之后恢复真实轮询
	calls := 0
	pollGang = func(timeout time.Duration, w *wakeup.Wakeup, fds ...int) ([]int, bool, error) {
		calls++
		if calls == 1 {
			return []int{0}, true, nil
		}
		return wakeup.Wait(timeout, w, fds...)
	}
	t.Cleanup(func() { pollGang = wakeup.Wait })

	_, _, err := g.AwaitNext(200 * time.Millisecond)
	assert.True(t, coreerrors.IsWoken(err), "got %v", err)
	assert.Equal(t, 1, calls)
}

func TestGang_DisbandWithdraws(t *testing.T) {
	srv := newServer(t, nil)
	a := participate(t, srv, "a")
	g, err := NewGang()
	require.NoError(t, err)
	require.NoError(t, g.Join(a))

	require.NoError(t, g.Disband(true))
	assert.Zero(t, g.Count())
	_, err = a.Next()
	assert.Equal(t, coreerrors.CodeNullHose, coreerrors.GetCode(err))
}
