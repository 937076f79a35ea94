package cmd

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"poolnet/internal/client"
	coreerrors "poolnet/internal/core/errors"
	"poolnet/internal/packet"
)

func createOptions(size int64) packet.Value {
	if size <= 0 {
		return packet.Map()
	}
	return packet.Map(packet.Entry("size", packet.Int(size)))
}

func newDepositCmd(a *app) *cobra.Command {
	var (
		data     string
		file     string
		create   bool
		poolType string
		size     int64
	)
	c := &cobra.Command{
		Use:   "deposit URI",
		Short: "Deposit one protein",
		Long: `Deposit one protein. The payload comes from --data, --file,
or standard input when neither is given ("--file -" also reads stdin).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd, data, file)
			if err != nil {
				return err
			}

			var h *client.Hose
			if create {
				var created bool
				h, created, err = client.ParticipateCreatingly(cmd.Context(), args[0], poolType, createOptions(size), a.opts...)
				if err == nil && created {
					a.output(cmd).Info("created pool %s", h.Address().Pool)
				}
			} else {
				h, err = client.Participate(cmd.Context(), args[0], a.opts...)
			}
			if err != nil {
				return err
			}
			defer h.Withdraw()

			idx, ts, err := h.Deposit(payload)
			if err != nil {
				return err
			}
			a.output(cmd).Protein(client.Protein{Index: idx, Timestamp: ts, Data: payload})
			return nil
		},
	}
	c.Flags().StringVarP(&data, "data", "d", "", "Payload text")
	c.Flags().StringVarP(&file, "file", "f", "", "Read the payload from a file")
	c.Flags().BoolVar(&create, "create", false, "Create the pool if it does not exist")
	c.Flags().StringVar(&poolType, "type", "mmap", "Pool type used with --create")
	c.Flags().Int64Var(&size, "size", 0, "Pool size in bytes used with --create")
	c.MarkFlagsMutuallyExclusive("data", "file")
	return c
}

func readPayload(cmd *cobra.Command, data, file string) ([]byte, error) {
	switch {
	case cmd.Flags().Changed("data"):
		return []byte(data), nil
	case file != "" && file != "-":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, coreerrors.Wrapf(err, coreerrors.CodeInvalidParam, "read %s", file)
		}
		return b, nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeInvalidParam, "read stdin")
	}
	return b, nil
}

func newNthCmd(a *app) *cobra.Command {
	var raw bool
	c := &cobra.Command{
		Use:   "nth URI INDEX",
		Short: "Print the protein at INDEX",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			return a.withHose(cmd, args[0], func(h *client.Hose) error {
				p, err := h.Nth(idx)
				if err != nil {
					return err
				}
				out := a.output(cmd)
				if raw {
					out.ProteinRaw(p)
				} else {
					out.Protein(p)
				}
				return nil
			})
		},
	}
	c.Flags().BoolVar(&raw, "raw", false, "Print only the payload")
	return c
}

func newInfoCmd(a *app) *cobra.Command {
	var hops int64
	c := &cobra.Command{
		Use:   "info URI",
		Short: "Show pool information",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withHose(cmd, args[0], func(h *client.Hose) error {
				v, err := h.Info(hops)
				if err != nil {
					return err
				}
				a.output(cmd).Value(v)
				return nil
			})
		},
	}
	c.Flags().Int64Var(&hops, "hops", 0, "Follow this many hops (-1 for all)")
	return c
}
