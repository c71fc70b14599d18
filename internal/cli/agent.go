package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/KafClaw/clawlet/internal/agent"
	"github.com/KafClaw/clawlet/internal/bus"
	"github.com/KafClaw/clawlet/internal/config"
)

var (
	agentMessage   string
	agentSessionID string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Chat with the agent directly in the terminal",
	Long: "Send one message with -m, pipe a message on stdin, or start an interactive session.\n" +
		"Type 'exit' or press Ctrl-D to leave the interactive session.",
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().StringVarP(&agentMessage, "message", "m", "", "Message to send to the agent")
	agentCmd.Flags().StringVarP(&agentSessionID, "session", "s", "cli:default", "Session key")
	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, prov, err := loadRuntime()
	if err != nil {
		return err
	}
	loop, err := newAgentLoop(cfg, bus.NewMessageBus(), prov, nil)
	if err != nil {
		return err
	}
	defer loop.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if agentMessage != "" {
		return agentOnce(ctx, cmd, loop, agentMessage)
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			return errors.New("no message: use -m or pipe text on stdin")
		}
		return agentOnce(ctx, cmd, loop, msg)
	}
	return agentREPL(ctx, cmd, loop, cfg.Model.Name)
}

func agentOnce(ctx context.Context, cmd *cobra.Command, loop *agent.Loop, msg string) error {
	resp, err := loop.ProcessDirect(ctx, msg, agentSessionID, "cli", "direct")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp)
	return nil
}

func agentREPL(ctx context.Context, cmd *cobra.Command, loop *agent.Loop, model string) error {
	printHeader(cmd, fmt.Sprintf("🐾 clawlet agent (%s) · session %s", model, agentSessionID))

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          color.GreenString("You: "),
		HistoryFile:     historyFile(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	out := cmd.OutOrStdout()
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if isExitCommand(line) {
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}

		turnCtx, cancel := context.WithCancel(ctx)
		resp, err := loop.ProcessDirect(turnCtx, line, agentSessionID, "cli", "direct")
		cancel()
		if err != nil {
			fmt.Fprintln(out, color.RedString("Error: %v", err))
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		fmt.Fprintf(out, "\n%s %s\n\n", color.CyanString("clawlet:"), resp)
	}
}

func isExitCommand(s string) bool {
	switch strings.ToLower(s) {
	case "exit", "quit", "/exit", "/quit", ":q":
		return true
	}
	return false
}

func historyFile() string {
	dir, err := config.DataDir()
	if err != nil {
		return ""
	}
	dir = filepath.Join(dir, "history")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return ""
	}
	return filepath.Join(dir, "cli_history")
}
