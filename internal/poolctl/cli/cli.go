// Package cli poolctl 的交互式 shell，在一个 hose 上逐条执行命令
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"
	"github.com/mattn/go-isatty"

	"poolnet/internal/client"
	corelog "poolnet/internal/core/log"
)

const historyFile = "$HOME/.poolctl_history"

// Shell 交互式命令行
type Shell struct {
	ctx       context.Context
	hose      *client.Hose
	out       *Output
	completer *CommandCompleter
	startTime time.Time

	// awaiting 为 true 时 Ctrl+C 唤醒 hose
	awaiting atomic.Bool
	log      corelog.Logger
}

// NewShell 在 hose 上创建 shell，hose 的生命周期由调用方管理
func NewShell(ctx context.Context, hose *client.Hose, out *Output) *Shell {
	return &Shell{
		ctx:       ctx,
		hose:      hose,
		out:       out,
		completer: NewCommandCompleter(),
		startTime: time.Now(),
		log:       corelog.ForComponent("shell"),
	}
}

func (s *Shell) prompt() string {
	return colorSuccess(s.hose.Address().Pool) + colorFaint(fmt.Sprintf("@%d", s.hose.Index())) + "> "
}

// Run 读取并执行命令直到 exit、EOF 或 ctx 结束
func (s *Shell) Run() error {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return errors.New("stdin is not a terminal (TTY required for the interactive shell)")
	}
	if err := s.hose.EnableWakeup(); err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          s.prompt(),
		HistoryFile:     os.ExpandEnv(historyFile),
		HistoryLimit:    500,
		AutoComplete:    s.completer.BuildCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           os.Stdin,
		Stdout:          os.Stdout,
		Stderr:          os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	stop := s.forwardInterrupts()
	defer stop()

	s.printWelcome()
	for {
		if s.ctx.Err() != nil {
			return nil
		}
		rl.SetPrompt(s.prompt())
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if len(line) == 0 {
				s.out.Info("Use 'exit' or 'quit' to exit")
			}
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return fmt.Errorf("read input: %w", err)
		}

		if s.Execute(line) {
			return nil
		}
	}
}

// forwardInterrupts 等待期间的 Ctrl+C 转成 hose 唤醒
func (s *Shell) forwardInterrupts() func() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sig:
				if s.awaiting.Load() {
					if err := s.hose.WakeUp(); err != nil {
						s.log.Warnf("wake up hose: %v", err)
					}
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sig)
		close(done)
	}
}

func (s *Shell) printWelcome() {
	s.out.Header("poolctl shell: " + s.hose.Address().String())
	s.out.Plain("  Type 'help' to see available commands")
	s.out.Plain("  Press Ctrl+C to interrupt an await, Tab for completion")
	s.out.Plain("")
}

// Execute 执行一行命令，返回 true 表示退出
func (s *Shell) Execute(line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	name := strings.ToLower(parts[0])

	c, ok := lookupCommand(name)
	if !ok {
		s.out.Error("Unknown command: %s", name)
		s.out.Info("Type 'help' to see available commands")
		return false
	}
	if c.quit {
		return true
	}
	if err := c.run(s, parts[1:]); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			s.out.Error("%s", ue.msg)
			s.out.Plain("  usage: %s", c.usage)
			return false
		}
		s.out.PoolError(err)
	}
	return false
}
