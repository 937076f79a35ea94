// Package cmd poolctl 的命令树
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"poolnet/internal/client"
	"poolnet/internal/config"
	coreerrors "poolnet/internal/core/errors"
	corelog "poolnet/internal/core/log"
	"poolnet/internal/core/metrics"
	"poolnet/internal/poolctl/cli"
	"poolnet/internal/version"
)

// app 一次命令执行的全局状态，由 PersistentPreRunE 填充
type app struct {
	configFile    string
	logLevel      string
	noColor       bool
	metricsListen string

	cfg     *config.ClientConfig
	opts    []client.Option
	metrics metrics.Metrics
}

// NewRootCommand 创建完整的命令树
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "poolctl",
		Short: "Inspect and feed remote pools",
		Long: `poolctl talks to a pool server over tcp://, tcps:// (TLS required)
or tcpo:// (TLS if offered).

Examples:
  poolctl deposit tcp://host/events --data hello
  poolctl tail tcp://host/events --from oldest
  poolctl list tcp://host/
  poolctl shell tcps://host:65456/events`,
		Version:           version.GetVersion(),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: a.teardown,
	}

	f := root.PersistentFlags()
	f.StringVarP(&a.configFile, "config", "c", "", "Config file path")
	f.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.BoolVar(&a.noColor, "no-color", false, "Disable colored output")
	f.StringVar(&a.metricsListen, "metrics-listen", "", "Expose Prometheus metrics on this address")

	root.AddCommand(
		newDepositCmd(a),
		newNthCmd(a),
		newTailCmd(a),
		newCreateCmd(a),
		newDisposeCmd(a),
		newSleepCmd(a),
		newRenameCmd(a),
		newListCmd(a),
		newInfoCmd(a),
		newShellCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute 执行根命令，Ctrl+C 和 SIGTERM 取消 context
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			corelog.Errorf("FATAL: main goroutine panic recovered: %v", r)
			corelog.Errorf("Stack trace:\n%s", string(debug.Stack()))
			fmt.Fprintf(os.Stderr, "\nPANIC: %v\n", r)
			fmt.Fprintf(os.Stderr, "Stack trace:\n%s\n", string(debug.Stack()))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		noColor, _ := root.PersistentFlags().GetBool("no-color")
		cli.NewOutputTo(os.Stderr, noColor, 0).PoolError(err)
		stop()
		os.Exit(1)
	}
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}

	// 命令行参数覆盖配置文件
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.metricsListen != "" {
		cfg.Metrics.Listen = a.metricsListen
		if cfg.Metrics.Type == "" || cfg.Metrics.Type == metrics.MetricsTypeNone {
			cfg.Metrics.Type = metrics.MetricsTypePrometheus
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logCfg := cfg.Log
	if logCfg.File != "" {
		logCfg.Output = "file"
	}
	if err := corelog.Configure(logCfg); err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeConfigBadth, "configure logging")
	}

	if err := a.setupMetrics(cmd, cfg.Metrics); err != nil {
		return err
	}

	opts, err := cfg.ClientOptions()
	if err != nil {
		return err
	}
	a.cfg, a.opts = cfg, opts
	return nil
}

func (a *app) setupMetrics(cmd *cobra.Command, mc config.MetricsConfig) error {
	m, err := metrics.CreateMetrics(mc.Type)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeConfigBadth, "create metrics")
	}
	metrics.SetGlobalMetrics(m)
	a.metrics = m

	if mc.Listen == "" {
		return nil
	}
	pm, ok := m.(*metrics.PrometheusMetrics)
	if !ok {
		return coreerrors.Newf(coreerrors.CodeConfigBadth, "metrics type %s cannot be served", mc.Type)
	}
	addr, err := pm.Serve(mc.Listen)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeConfigBadth, "serve metrics")
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "metrics on http://%s/metrics\n", addr)
	return nil
}

func (a *app) teardown(cmd *cobra.Command, args []string) {
	if a.metrics == nil {
		return
	}
	if err := a.metrics.Close(); err != nil {
		corelog.Warnf("close metrics: %v", err)
	}
	metrics.SetGlobalMetrics(nil)
	a.metrics = nil
}

// output 写到 cmd 的标准输出；真实终端时检测颜色和宽度
func (a *app) output(cmd *cobra.Command) *cli.Output {
	w := cmd.OutOrStdout()
	if w == io.Writer(os.Stdout) {
		return cli.NewOutput(a.noColor)
	}
	return cli.NewOutputTo(w, true, 0)
}

// withHose 打开 hose 执行 fn，结束后退出 pool
func (a *app) withHose(cmd *cobra.Command, uri string, fn func(h *client.Hose) error) error {
	h, err := client.Participate(cmd.Context(), uri, a.opts...)
	if err != nil {
		return err
	}
	err = fn(h)
	if werr := h.Withdraw(); werr != nil && err == nil {
		err = werr
	}
	return err
}
