package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"poolnet/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		// 不需要加载配置
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		PersistentPostRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "poolctl %s\n", version.GetVersion())
			fmt.Fprintf(w, "%s\n", version.Platform())
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			shown := *a.cfg
			if shown.TLS.PrivateKey != "" {
				shown.TLS.PrivateKey = "<redacted>"
			}
			data, err := shown.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
