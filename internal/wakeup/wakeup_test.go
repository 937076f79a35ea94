package wakeup

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prep/socketpair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWakeup_SignalReleasesWaiter(t *testing.T) {
	w, err := New()
	require.NoError(t, err)
	defer w.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	var woken bool
	go func() {
		defer wg.Done()
		_, woken, err = Wait(Forever, w)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, w.Signal())
	wg.Wait()

	require.NoError(t, err)
	assert.True(t, woken)
}

func TestWakeup_RepeatedSignalsReleaseOnce(t *testing.T) {
	w, err := New()
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, w.Signal())
	}

	_, woken, err := Wait(Forever, w)
	require.NoError(t, err)
	assert.True(t, woken)

	// 唤醒已被清空，下一次等待应超时
	ready, woken, err := Wait(30*time.Millisecond, w)
	require.NoError(t, err)
	assert.False(t, woken)
	assert.Empty(t, ready)
}

func TestWait_ReadableFd(t *testing.T) {
	a, b, err := socketpair.New("unix")
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	fd, err := ConnFd(a)
	require.NoError(t, err)

	ready, woken, err := Wait(20*time.Millisecond, nil, fd)
	require.NoError(t, err)
	assert.False(t, woken)
	assert.Empty(t, ready)

	_, err = b.Write([]byte("x"))
	require.NoError(t, err)

	w, err := New()
	require.NoError(t, err)
	defer w.Close()

	ready, woken, err = Wait(time.Second, w, -1, fd)
	require.NoError(t, err)
	assert.False(t, woken)
	assert.Equal(t, []int{1}, ready)
}

func TestWakeup_SignalAfterClose(t *testing.T) {
	w, err := New()
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Signal(), net.ErrClosed)
}

func TestConnFd_NotSyscallConn(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	_, err := ConnFd(a)
	assert.Error(t, err)
}
