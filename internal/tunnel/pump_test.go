package tunnel

import (
	"bytes"
	"crypto/rand"
	"io"
	"net"
	"testing"
	"time"

	"github.com/prep/socketpair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corelog "poolnet/internal/core/log"
	"poolnet/internal/wakeup"
)

type pumpRig struct {
	aUser, bUser net.Conn
	pump         *Pump
	stop         *wakeup.Wakeup
	done         chan struct{}
	err          error
}

// newPumpRig 用两对 socket pair 搭建 aUser <-> pump <-> bUser
func newPumpRig(t *testing.T) *pumpRig {
	t.Helper()
	aUser, aPump, err := socketpair.New("unix")
	require.NoError(t, err)
	bPump, bUser, err := socketpair.New("unix")
	require.NoError(t, err)

	a, err := NewSocketEndpoint(aPump)
	require.NoError(t, err)
	b, err := NewSocketEndpoint(bPump)
	require.NoError(t, err)
	stop, err := wakeup.New()
	require.NoError(t, err)

	r := &pumpRig{
		aUser: aUser,
		bUser: bUser,
		pump:  NewPump(a, b, stop, corelog.NewTestLogger(t)),
		stop:  stop,
		done:  make(chan struct{}),
	}
	go func() {
		r.err = r.pump.Run()
		close(r.done)
	}()

	t.Cleanup(func() {
		_ = stop.Signal()
		select {
		case <-r.done:
		case <-time.After(5 * time.Second):
		}
		aUser.Close()
		bUser.Close()
		aPump.Close()
		bPump.Close()
		stop.Close()
	})
	return r
}

func (r *pumpRig) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-r.done:
		return r.err
	case <-time.After(5 * time.Second):
		t.Fatal("pump did not finish")
		return nil
	}
}

func TestPump_BothDirections(t *testing.T) {
	r := newPumpRig(t)

	up := make([]byte, 300*1024)
	down := make([]byte, 200*1024)
	_, _ = rand.Read(up)
	_, _ = rand.Read(down)

	go func() { _, _ = r.aUser.Write(up) }()
	go func() { _, _ = r.bUser.Write(down) }()

	gotUp := make([]byte, len(up))
	gotDown := make([]byte, len(down))
	errs := make(chan error, 2)
	go func() { _, err := io.ReadFull(r.bUser, gotUp); errs <- err }()
	go func() { _, err := io.ReadFull(r.aUser, gotDown); errs <- err }()
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	assert.True(t, bytes.Equal(up, gotUp))
	assert.True(t, bytes.Equal(down, gotDown))
}

func TestPump_EOFEndsCleanly(t *testing.T) {
	r := newPumpRig(t)

	_, err := r.aUser.Write([]byte("last words"))
	require.NoError(t, err)
	buf := make([]byte, 10)
	_, err = io.ReadFull(r.bUser, buf)
	require.NoError(t, err)
	assert.Equal(t, "last words", string(buf))

	require.NoError(t, r.aUser.Close())
	assert.NoError(t, r.wait(t))

	s := r.pump.Snapshot()
	assert.Equal(t, int64(10), s.BytesAToB)
	assert.Equal(t, int64(0), s.BytesBToA)
}

// stall 从 src 写入 1MiB 而 dst 暂不读取，等泵把缓冲区填满
func (r *pumpRig) stall(t *testing.T, src net.Conn) []byte {
	t.Helper()
	payload := make([]byte, 1<<20)
	_, _ = rand.Read(payload)
	go func() { _, _ = src.Write(payload) }()
	time.Sleep(300 * time.Millisecond)
	return payload
}

func TestPump_Backpressure(t *testing.T) {
	cases := []struct {
		name     string
		src, dst func(r *pumpRig) net.Conn
		buffered func(s Snapshot) int
		moved    func(s Snapshot) int64
	}{
		{
			name:     "clear to cipher",
			src:      func(r *pumpRig) net.Conn { return r.aUser },
			dst:      func(r *pumpRig) net.Conn { return r.bUser },
			buffered: func(s Snapshot) int { return s.AToB },
			moved:    func(s Snapshot) int64 { return s.BytesAToB },
		},
		{
			name:     "cipher to clear",
			src:      func(r *pumpRig) net.Conn { return r.bUser },
			dst:      func(r *pumpRig) net.Conn { return r.aUser },
			buffered: func(s Snapshot) int { return s.BToA },
			moved:    func(s Snapshot) int64 { return s.BytesBToA },
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newPumpRig(t)
			payload := r.stall(t, tc.src(r))

			// 对端不读时泵停止读取，只保留一个满缓冲区
			require.NoError(t, r.stop.Signal())
			require.NoError(t, r.wait(t))

			s := r.pump.Snapshot()
			assert.Equal(t, BufSize, tc.buffered(s))
			assert.Less(t, tc.moved(s), int64(len(payload)))
		})
	}
}

func TestPump_BackpressureResumes(t *testing.T) {
	for _, toCipher := range []bool{true, false} {
		name := "cipher to clear"
		if toCipher {
			name = "clear to cipher"
		}
		t.Run(name, func(t *testing.T) {
			r := newPumpRig(t)
			src, dst := r.bUser, r.aUser
			if toCipher {
				src, dst = r.aUser, r.bUser
			}
			payload := r.stall(t, src)

			got := make([]byte, len(payload))
			_, err := io.ReadFull(dst, got)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(payload, got), "delivered bytes differ")

			require.NoError(t, r.stop.Signal())
			require.NoError(t, r.wait(t))
			s := r.pump.Snapshot()
			if toCipher {
				assert.Equal(t, int64(len(payload)), s.BytesAToB)
				assert.Equal(t, 0, s.AToB)
			} else {
				assert.Equal(t, int64(len(payload)), s.BytesBToA)
				assert.Equal(t, 0, s.BToA)
			}
		})
	}
}

func TestRing(t *testing.T) {
	r := newRing()
	assert.Equal(t, BufSize, r.room())

	n := copy(r.space(), []byte("abcdef"))
	r.produce(n)
	r.consume(2)
	assert.Equal(t, "cdef", string(r.data()))

	r.produce(copy(r.space(), bytes.Repeat([]byte("x"), r.room()-2)))
	// 尾部已满，space 会先把数据挪到开头
	assert.Len(t, r.space(), 2)
	assert.Equal(t, 0, r.room()-2)
	assert.Equal(t, "cdef", string(r.data()[:4]))

	r.consume(r.len())
	assert.Equal(t, 0, r.len())
}

func TestStageState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "want-read", WouldBlockOnRead.String())
	assert.Equal(t, "want-write", WouldBlockOnWrite.String())
}
