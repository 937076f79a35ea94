package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"poolnet/internal/client"
	coreerrors "poolnet/internal/core/errors"
	corelog "poolnet/internal/core/log"
	"poolnet/internal/poolctl/cli"
)

type tailOptions struct {
	timeout string
	from    string
	count   int
	rate    float64
	raw     bool
	match   string
}

func newTailCmd(a *app) *cobra.Command {
	o := &tailOptions{}
	c := &cobra.Command{
		Use:   "tail URI",
		Short: "Follow a pool and print proteins as they arrive",
		Long: `Follow a pool. By default only proteins deposited after the command
starts are printed; use --from oldest to replay the whole pool first.
Stops on Ctrl+C, after --count proteins, or when --timeout passes
without a new protein.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withHose(cmd, args[0], func(h *client.Hose) error {
				return tail(cmd.Context(), h, a.output(cmd), o)
			})
		},
	}
	f := c.Flags()
	f.StringVar(&o.timeout, "timeout", "forever", "Stop after waiting this long for a protein")
	f.StringVar(&o.from, "from", "newest", "Start position: oldest, newest or an index")
	f.IntVarP(&o.count, "count", "n", 0, "Stop after this many proteins (0 for no limit)")
	f.Float64Var(&o.rate, "rate", 0, "Print at most this many proteins per second (0 for no limit)")
	f.BoolVar(&o.raw, "raw", false, "Print only the payloads")
	f.StringVar(&o.match, "match", "", "Only print proteins whose payload contains this text")
	return c
}

func seekFrom(h *client.Hose, from string) error {
	switch from {
	case "oldest":
		return h.Rewind()
	case "", "newest":
		return h.Runout()
	}
	idx, err := parseIndex(from)
	if err != nil {
		return err
	}
	h.SeekTo(idx)
	return nil
}

func tail(ctx context.Context, h *client.Hose, out *cli.Output, o *tailOptions) error {
	timeout, err := cli.ParseTimeout(o.timeout)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeInvalidParam, "--timeout")
	}
	if err := seekFrom(h, o.from); err != nil {
		return err
	}

	// ctx 结束时唤醒阻塞的 await
	if err := h.EnableWakeup(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		if err := h.WakeUp(); err != nil {
			corelog.Warnf("wake up hose: %v", err)
		}
	})
	defer stop()

	var limiter *rate.Limiter
	if o.rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.rate), 1)
	}

	var pattern []byte
	if o.match != "" {
		pattern = []byte(o.match)
	}

	for n := 0; o.count == 0 || n < o.count; n++ {
		var p client.Protein
		if pattern != nil {
			p, err = h.AwaitProbeForward(pattern, timeout)
		} else {
			p, err = h.AwaitNext(timeout)
		}
		switch {
		case coreerrors.IsWoken(err), coreerrors.IsTimeout(err):
			return nil
		case err != nil:
			return err
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		if o.raw {
			out.ProteinRaw(p)
		} else {
			out.Protein(p)
		}
	}
	return nil
}
