package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"poolnet/internal/client"
	coreerrors "poolnet/internal/core/errors"
	"poolnet/internal/poolctl/cli"
)

func parseIndex(s string) (int64, error) {
	idx, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, coreerrors.Newf(coreerrors.CodeInvalidParam, "invalid index %q", s)
	}
	return idx, nil
}

func newCreateCmd(a *app) *cobra.Command {
	var (
		poolType string
		size     int64
	)
	c := &cobra.Command{
		Use:   "create URI",
		Short: "Create a pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Create(cmd.Context(), args[0], poolType, createOptions(size), a.opts...); err != nil {
				return err
			}
			a.output(cmd).Success("created %s", args[0])
			return nil
		},
	}
	c.Flags().StringVar(&poolType, "type", "mmap", "Pool type")
	c.Flags().Int64Var(&size, "size", 0, "Pool size in bytes (0 for the server default)")
	return c
}

// simpleCmd 只需要一个 URI 的管理命令
func simpleCmd(a *app, use, short, done string, fn func(cmd *cobra.Command, uri string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " URI",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := fn(cmd, args[0]); err != nil {
				return err
			}
			a.output(cmd).Success("%s %s", done, args[0])
			return nil
		},
	}
}

func newDisposeCmd(a *app) *cobra.Command {
	return simpleCmd(a, "dispose", "Delete a pool", "disposed", func(cmd *cobra.Command, uri string) error {
		return client.Dispose(cmd.Context(), uri, a.opts...)
	})
}

func newSleepCmd(a *app) *cobra.Command {
	return simpleCmd(a, "sleep", "Put an idle pool to sleep", "put to sleep", func(cmd *cobra.Command, uri string) error {
		return client.Sleep(cmd.Context(), uri, a.opts...)
	})
}

func newRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename OLD-URI NEW-URI",
		Short: "Rename a pool on the same server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Rename(cmd.Context(), args[0], args[1], a.opts...); err != nil {
				return err
			}
			a.output(cmd).Success("renamed %s to %s", args[0], args[1])
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list URI",
		Short: "List pools on a server, optionally below a directory",
		Example: `  poolctl list tcp://host/
  poolctl list tcp://host/sensors`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := client.List(cmd.Context(), args[0], a.opts...)
			if err != nil {
				return err
			}
			out := a.output(cmd)
			for _, n := range names {
				out.Plain("%s", n)
			}
			return nil
		},
	}
}

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell URI",
		Short: "Open an interactive shell on a pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withHose(cmd, args[0], func(h *client.Hose) error {
				return cli.NewShell(cmd.Context(), h, cli.NewOutput(a.noColor)).Run()
			})
		},
	}
}
