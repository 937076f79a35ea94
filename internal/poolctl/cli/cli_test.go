package cli

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolnet/internal/client"
	corelog "poolnet/internal/core/log"
	"poolnet/internal/packet"
	"poolnet/internal/testutils"
)

func newShell(t *testing.T) (*Shell, *testutils.PoolServer, *bytes.Buffer) {
	t.Helper()
	srv := testutils.NewPoolServer(t, testutils.DefaultPoolServerConfig())
	srv.CreatePool("p")
	h, err := client.Participate(context.Background(), srv.URI("tcp", "p"),
		client.WithLogger(corelog.NewTestLogger(t)),
		client.WithHandshakeRetry(1, time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Withdraw() })

	var buf bytes.Buffer
	return NewShell(context.Background(), h, NewOutputTo(&buf, true, 120)), srv, &buf
}

func run(s *Shell, buf *bytes.Buffer, line string) string {
	buf.Reset()
	s.Execute(line)
	return buf.String()
}

func TestShell_DepositAndRead(t *testing.T) {
	s, _, buf := newShell(t)

	assert.Contains(t, run(s, buf, "deposit hello world"), "deposited at index 0")
	assert.Contains(t, run(s, buf, "d second"), "deposited at index 1")

	out := run(s, buf, "next 2")
	assert.Contains(t, out, "hello world")
	assert.Contains(t, out, "second")
	assert.Equal(t, int64(2), s.hose.Index())

	assert.Contains(t, run(s, buf, "prev"), "second")
	assert.Contains(t, run(s, buf, "nth 0"), "hello world")
	assert.Contains(t, run(s, buf, "curr"), "second")
	assert.Contains(t, run(s, buf, "next"), "second")

	assert.Contains(t, run(s, buf, "next"), "NO_SUCH_PROTEIN")
}

func TestShell_Seek(t *testing.T) {
	s, srv, buf := newShell(t)
	for _, d := range []string{"a", "b", "c"} {
		srv.Deposit("p", []byte(d))
	}

	assert.Contains(t, run(s, buf, "tolast"), "index 2")
	assert.Contains(t, run(s, buf, "rewind"), "index 0")
	assert.Contains(t, run(s, buf, "runout"), "index 3")
	assert.Contains(t, run(s, buf, "seek 1"), "index 1")
	assert.Contains(t, run(s, buf, "seek +1"), "index 2")
	assert.Contains(t, run(s, buf, "seek -2"), "index 0")

	out := run(s, buf, "seek x")
	assert.Contains(t, out, "invalid index")
	assert.Contains(t, out, "usage: seek")
}

func TestShell_ProbeAndAwait(t *testing.T) {
	s, srv, buf := newShell(t)
	srv.Deposit("p", []byte("alpha"))
	srv.Deposit("p", []byte("beta"))

	assert.Contains(t, run(s, buf, "probe bet"), "beta")
	assert.Contains(t, run(s, buf, "probe alp back"), "alpha")
	assert.Contains(t, run(s, buf, "probe x sideways"), "unknown direction")

	s.hose.SeekTo(2)
	assert.Contains(t, run(s, buf, "await 0"), "AWAIT_TIMEDOUT")

	go func() {
		time.Sleep(50 * time.Millisecond)
		srv.Deposit("p", []byte("gamma"))
	}()
	assert.Contains(t, run(s, buf, "await 5s"), "gamma")
	assert.False(t, s.awaiting.Load())
}

func TestShell_Fetch(t *testing.T) {
	s, srv, buf := newShell(t)
	srv.Deposit("p", []byte("one"))
	srv.Deposit("p", []byte("two"))

	out := run(s, buf, "fetch 0 1")
	assert.Contains(t, out, "INDEX")
	assert.Contains(t, out, "one")
	assert.Contains(t, out, "two")
	assert.Contains(t, out, "pool holds 0..1")
}

func TestShell_InfoStatusName(t *testing.T) {
	s, _, buf := newShell(t)

	assert.NotEmpty(t, run(s, buf, "info"))

	out := run(s, buf, "status")
	assert.Contains(t, out, "Pool:")
	assert.Contains(t, out, "Net version:")

	assert.Contains(t, run(s, buf, "name shell-test"), "renamed")
	assert.Equal(t, "shell-test\n", run(s, buf, "name"))
}

func TestShell_UnknownAndExit(t *testing.T) {
	s, _, buf := newShell(t)

	assert.Contains(t, run(s, buf, "frobnicate"), "Unknown command")
	assert.False(t, s.Execute(""))
	assert.True(t, s.Execute("exit"))
	assert.True(t, s.Execute("Q"))

	out := run(s, buf, "help")
	for _, c := range commands {
		assert.Contains(t, out, c.usage)
	}
}

func TestParseTimeout(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", client.WaitForever},
		{"forever", client.WaitForever},
		{"-1", client.WaitForever},
		{"0", 0},
		{"1.5", 1500 * time.Millisecond},
		{"250ms", 250 * time.Millisecond},
	}
	for _, tt := range tests {
		got, err := ParseTimeout(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseTimeout("soon")
	assert.Error(t, err)
}

func TestParseComparison(t *testing.T) {
	for in, want := range map[string]client.TimeComparison{
		"":        client.Closest,
		"closest": client.Closest,
		"lower":   client.ClosestLower,
		"higher":  client.ClosestHigher,
	} {
		got, err := ParseComparison(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseComparison("nearest")
	assert.Error(t, err)
}

func TestCompleter(t *testing.T) {
	c := NewCommandCompleter()
	assert.Equal(t, []string{"await", "await-probe"}, c.Filter("aw"))
	assert.Empty(t, c.Filter("zz"))
	assert.Contains(t, AllCommands(), "quit")
	assert.NotNil(t, c.BuildCompleter())
}

func TestFormatData(t *testing.T) {
	assert.Equal(t, "plain text", FormatData([]byte("plain text")))
	assert.Equal(t, "0x00ff", FormatData([]byte{0x00, 0xff}))
	assert.Equal(t, "", FormatData(nil))
}

func TestOutput_Protein(t *testing.T) {
	var buf bytes.Buffer
	o := NewOutputTo(&buf, true, 40)
	o.Protein(client.Protein{Index: 7, Timestamp: math.NaN(), Data: []byte(strings.Repeat("x", 100))})

	line := strings.TrimRight(buf.String(), "\n")
	assert.True(t, strings.HasSuffix(line, "..."))
	assert.Contains(t, line, "       7  ---")
	assert.LessOrEqual(t, len([]rune(line)), 40)
}

func TestOutput_Value(t *testing.T) {
	var buf bytes.Buffer
	o := NewOutputTo(&buf, true, 80)
	o.Value(packet.Map(
		packet.Entry("type", packet.String("mmap")),
		packet.Entry("size", packet.Int(1024)),
		packet.Entry("hops", packet.List(packet.Int(1), packet.Map(packet.Entry("k", packet.Bytes([]byte("v")))))),
	))
	assert.Equal(t, "type: mmap\nsize: 1024\nhops:\n  - 1\n  -\n    k: v\n", buf.String())
}
