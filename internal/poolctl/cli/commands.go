package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"poolnet/internal/client"
)

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...interface{}) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

type shellCommand struct {
	name    string
	aliases []string
	usage   string
	help    string
	params  []string
	quit    bool
	run     func(s *Shell, args []string) error
}

var commands []shellCommand

func init() {
	commands = []shellCommand{
		{name: "help", aliases: []string{"h", "?"}, usage: "help", help: "Show this help", run: (*Shell).cmdHelp},
		{name: "exit", aliases: []string{"quit", "q"}, usage: "exit", help: "Leave the shell", quit: true},
		{name: "status", aliases: []string{"st"}, usage: "status", help: "Show hose and session state", run: (*Shell).cmdStatus},
		{name: "curr", usage: "curr", help: "Read the protein at the current index", run: (*Shell).cmdCurr},
		{name: "next", aliases: []string{"n"}, usage: "next [count]", help: "Read forward without waiting", run: (*Shell).cmdNext},
		{name: "prev", aliases: []string{"p"}, usage: "prev", help: "Read the protein before the current index", run: (*Shell).cmdPrev},
		{name: "nth", usage: "nth <index>", help: "Read one protein without moving", run: (*Shell).cmdNth},
		{name: "await", aliases: []string{"a"}, usage: "await [timeout]", help: "Wait for the next protein (Ctrl+C interrupts)", run: (*Shell).cmdAwait},
		{name: "probe", usage: "probe <pattern> [back]", help: "Search for data containing pattern", params: []string{"back"}, run: (*Shell).cmdProbe},
		{name: "await-probe", usage: "await-probe <pattern> [timeout]", help: "Wait for a protein containing pattern", run: (*Shell).cmdAwaitProbe},
		{name: "deposit", aliases: []string{"d"}, usage: "deposit <text...>", help: "Deposit text as a protein", run: (*Shell).cmdDeposit},
		{name: "seek", usage: "seek <index>|+N|-N", help: "Move the read index", run: (*Shell).cmdSeek},
		{name: "rewind", usage: "rewind", help: "Seek to the oldest protein", run: (*Shell).cmdRewind},
		{name: "tolast", usage: "tolast", help: "Seek to the newest protein", run: (*Shell).cmdToLast},
		{name: "runout", usage: "runout", help: "Seek past the newest protein", run: (*Shell).cmdRunout},
		{name: "lookup", usage: "lookup <unix-seconds> [closest|lower|higher]", help: "Find the index nearest a timestamp",
			params: []string{"closest", "lower", "higher"}, run: (*Shell).cmdLookup},
		{name: "fetch", usage: "fetch <index...>", help: "Fetch several proteins at once (clamped)", run: (*Shell).cmdFetch},
		{name: "info", usage: "info [hops]", help: "Show pool information", run: (*Shell).cmdInfo},
		{name: "name", usage: "name [new-name]", help: "Show or change the hose name", run: (*Shell).cmdName},
	}
}

func lookupCommand(name string) (shellCommand, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
		for _, a := range c.aliases {
			if a == name {
				return c, true
			}
		}
	}
	return shellCommand{}, false
}

func (s *Shell) cmdHelp(args []string) error {
	s.out.Header("Commands")
	for _, c := range commands {
		s.out.Plain("  %-44s %s", c.usage, colorFaint(c.help))
	}
	return nil
}

func (s *Shell) cmdStatus(args []string) error {
	sess := s.hose.Session()
	s.out.KeyValue("Pool", s.hose.Address().String())
	s.out.KeyValue("Hose name", s.hose.Name())
	s.out.KeyValue("Index", strconv.FormatInt(s.hose.Index(), 10))
	s.out.KeyValue("Net version", strconv.Itoa(int(sess.NetVersion)))
	s.out.KeyValue("Slaw version", strconv.Itoa(int(sess.SlawVersion)))
	s.out.KeyValue("Legacy server", strconv.FormatBool(sess.Legacy))
	s.out.KeyValue("Commands", sess.Commands.String())
	s.out.KeyValue("Uptime", time.Since(s.startTime).Truncate(time.Second).String())
	if s.hose.Dirty() {
		s.out.Warning("hose is dirty and will reconnect on the next command")
	}
	return nil
}

func (s *Shell) cmdCurr(args []string) error {
	p, err := s.hose.Curr()
	if err != nil {
		return err
	}
	s.out.Protein(p)
	return nil
}

func (s *Shell) cmdNext(args []string) error {
	count := 1
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return usagef("invalid count %q", args[0])
		}
		count = n
	}
	for i := 0; i < count; i++ {
		p, err := s.hose.Next()
		if err != nil {
			return err
		}
		s.out.Protein(p)
	}
	return nil
}

func (s *Shell) cmdPrev(args []string) error {
	p, err := s.hose.Prev()
	if err != nil {
		return err
	}
	s.out.Protein(p)
	return nil
}

func (s *Shell) cmdNth(args []string) error {
	if len(args) != 1 {
		return usagef("nth takes one index")
	}
	idx, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return usagef("invalid index %q", args[0])
	}
	p, err := s.hose.Nth(idx)
	if err != nil {
		return err
	}
	s.out.Protein(p)
	return nil
}

// ParseTimeout 空字符串、"forever" 和负数表示一直等待
func ParseTimeout(arg string) (time.Duration, error) {
	switch arg {
	case "", "forever":
		return client.WaitForever, nil
	}
	d, err := time.ParseDuration(arg)
	if err != nil {
		secs, ferr := strconv.ParseFloat(arg, 64)
		if ferr != nil {
			return 0, usagef("invalid timeout %q", arg)
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d < 0 {
		return client.WaitForever, nil
	}
	return d, nil
}

func (s *Shell) await(fn func() (client.Protein, error)) error {
	s.awaiting.Store(true)
	defer s.awaiting.Store(false)
	p, err := fn()
	if err != nil {
		return err
	}
	s.out.Protein(p)
	return nil
}

func (s *Shell) cmdAwait(args []string) error {
	var arg string
	if len(args) > 0 {
		arg = args[0]
	}
	timeout, err := ParseTimeout(arg)
	if err != nil {
		return err
	}
	return s.await(func() (client.Protein, error) { return s.hose.AwaitNext(timeout) })
}

func (s *Shell) cmdProbe(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usagef("probe takes a pattern and an optional direction")
	}
	pattern := []byte(args[0])
	var (
		p   client.Protein
		err error
	)
	if len(args) == 2 {
		if args[1] != "back" {
			return usagef("unknown direction %q", args[1])
		}
		p, err = s.hose.ProbeBackward(pattern)
	} else {
		p, err = s.hose.ProbeForward(pattern)
	}
	if err != nil {
		return err
	}
	s.out.Protein(p)
	return nil
}

func (s *Shell) cmdAwaitProbe(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usagef("await-probe takes a pattern and an optional timeout")
	}
	var arg string
	if len(args) == 2 {
		arg = args[1]
	}
	timeout, err := ParseTimeout(arg)
	if err != nil {
		return err
	}
	pattern := []byte(args[0])
	return s.await(func() (client.Protein, error) { return s.hose.AwaitProbeForward(pattern, timeout) })
}

func (s *Shell) cmdDeposit(args []string) error {
	if len(args) == 0 {
		return usagef("nothing to deposit")
	}
	idx, ts, err := s.hose.Deposit([]byte(strings.Join(args, " ")))
	if err != nil {
		return err
	}
	s.out.Success("deposited at index %d (%s)", idx, formatTimestamp(ts))
	return nil
}

func (s *Shell) cmdSeek(args []string) error {
	if len(args) != 1 {
		return usagef("seek takes one index or offset")
	}
	arg := args[0]
	n, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return usagef("invalid index %q", arg)
	}
	if strings.HasPrefix(arg, "+") || strings.HasPrefix(arg, "-") {
		s.hose.SeekBy(n)
	} else {
		s.hose.SeekTo(n)
	}
	s.out.Info("index %d", s.hose.Index())
	return nil
}

func (s *Shell) seekWith(fn func() error) error {
	if err := fn(); err != nil {
		return err
	}
	s.out.Info("index %d", s.hose.Index())
	return nil
}

func (s *Shell) cmdRewind(args []string) error { return s.seekWith(s.hose.Rewind) }

func (s *Shell) cmdToLast(args []string) error { return s.seekWith(s.hose.ToLast) }

func (s *Shell) cmdRunout(args []string) error { return s.seekWith(s.hose.Runout) }

// ParseComparison closest、lower、higher
func ParseComparison(arg string) (client.TimeComparison, error) {
	switch arg {
	case "", "closest":
		return client.Closest, nil
	case "lower":
		return client.ClosestLower, nil
	case "higher":
		return client.ClosestHigher, nil
	}
	return 0, usagef("unknown comparison %q", arg)
}

func (s *Shell) cmdLookup(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usagef("lookup takes a timestamp and an optional comparison")
	}
	ts, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return usagef("invalid timestamp %q", args[0])
	}
	var arg string
	if len(args) == 2 {
		arg = args[1]
	}
	cmp, err := ParseComparison(arg)
	if err != nil {
		return err
	}
	idx, err := s.hose.IndexLookup(ts, cmp, false)
	if err != nil {
		return err
	}
	s.out.Info("%s index for %s: %d", cmp, formatTimestamp(ts), idx)
	return nil
}

func (s *Shell) cmdFetch(args []string) error {
	if len(args) == 0 {
		return usagef("fetch needs at least one index")
	}
	ops := make([]client.FetchOp, len(args))
	for i, a := range args {
		idx, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return usagef("invalid index %q", a)
		}
		ops[i] = client.FetchOp{Index: idx, RudeOffset: 0, RudeLength: -1}
	}
	results, oldest, newest, err := s.hose.Fetch(ops, true)
	if err != nil {
		return err
	}

	t := NewTable("INDEX", "TIME", "BYTES", "DATA")
	for _, r := range results {
		if r.Err != nil {
			t.AddRow(strconv.FormatInt(r.Index, 10), "-", "-", r.Err.Error())
			continue
		}
		t.AddRow(strconv.FormatInt(r.Index, 10), formatTimestamp(r.Timestamp),
			strconv.FormatInt(r.TotalBytes, 10), FormatData(r.Data))
	}
	s.out.Render(t)
	s.out.Info("pool holds %d..%d", oldest, newest)
	return nil
}

func (s *Shell) cmdInfo(args []string) error {
	hops := int64(0)
	if len(args) > 0 {
		n, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return usagef("invalid hops %q", args[0])
		}
		hops = n
	}
	v, err := s.hose.Info(hops)
	if err != nil {
		return err
	}
	s.out.Value(v)
	return nil
}

func (s *Shell) cmdName(args []string) error {
	if len(args) == 0 {
		s.out.Plain("%s", s.hose.Name())
		return nil
	}
	if err := s.hose.SetName(args[0]); err != nil {
		return err
	}
	s.out.Success("hose renamed to %s", args[0])
	return nil
}
