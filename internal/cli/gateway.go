package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/clawlet/internal/agent"
	"github.com/KafClaw/clawlet/internal/bus"
	"github.com/KafClaw/clawlet/internal/channels"
	"github.com/KafClaw/clawlet/internal/config"
	"github.com/KafClaw/clawlet/internal/heartbeat"
	"github.com/KafClaw/clawlet/internal/scheduler"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the agent with chat channels, cron and heartbeat",
	RunE:  runGateway,
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

// cronJobHandler runs a job as an agent turn in its own session and, when
// the job asks for it, delivers the reply to the job's chat.
func cronJobHandler(loop *agent.Loop, b *bus.MessageBus) scheduler.JobFunc {
	return func(ctx context.Context, job *scheduler.Job) (string, error) {
		channel := job.Payload.Channel
		if channel == "" {
			channel = "cli"
		}
		chatID := job.Payload.To
		if chatID == "" {
			chatID = "direct"
		}
		resp, err := loop.ProcessDirect(ctx, job.Payload.Message, "cron:"+job.ID, channel, chatID)
		if err != nil {
			return "", err
		}
		if job.Payload.Deliver && job.Payload.To != "" {
			b.PublishOutbound(&bus.OutboundMessage{Channel: channel, ChatID: job.Payload.To, Content: resp})
		}
		return resp, nil
	}
}

func heartbeatHandler(loop *agent.Loop) heartbeat.Handler {
	return func(ctx context.Context, prompt string) (string, error) {
		return loop.ProcessDirect(ctx, prompt, "heartbeat", "", "")
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	printHeader(cmd, "🌐 clawlet gateway")
	out := cmd.OutOrStdout()

	cfg, prov, err := loadRuntime()
	if err != nil {
		return err
	}
	for _, e := range cfg.Validate() {
		fmt.Fprintln(out, color.YellowString("Config warning: %v", e))
	}

	storePath, err := config.CronStorePath()
	if err != nil {
		return err
	}
	lock, err := scheduler.AcquireStoreLock(storePath)
	if errors.Is(err, scheduler.ErrLocked) {
		return fmt.Errorf("another gateway is already running (pid %d, lock %s)", scheduler.LockHolder(storePath), scheduler.LockPath(storePath))
	}
	if err != nil {
		return fmt.Errorf("cron store lock: %w", err)
	}
	defer lock.Unlock()

	msgBus := bus.NewMessageBus()

	var loop *agent.Loop
	cron := scheduler.NewService(storePath, func(ctx context.Context, job *scheduler.Job) (string, error) {
		return cronJobHandler(loop, msgBus)(ctx, job)
	})
	loop, err = newAgentLoop(cfg, msgBus, prov, scheduler.NewToolBackend(cron))
	if err != nil {
		return err
	}

	hb := heartbeat.NewService(cfg.Paths.Workspace, heartbeatHandler(loop))
	hb.Interval = cfg.Heartbeat.Interval
	hb.Enabled = cfg.Heartbeat.Enabled

	opts := []channels.ManagerOption{channels.WithSessions(loop.Sessions())}
	if tr := prov.Transcriber(); tr != nil {
		opts = append(opts, channels.WithTranscriber(tr))
	}
	manager := channels.NewManager(cfg.Channels, msgBus, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cron.Start(ctx); err != nil {
		return fmt.Errorf("start cron: %w", err)
	}
	hb.Start(ctx)
	manager.StartAll(ctx)

	if names := manager.Names(); len(names) > 0 {
		fmt.Fprintf(out, "%s Channels: %v\n", color.GreenString("✓"), names)
	} else {
		fmt.Fprintln(out, color.YellowString("Warning: no channels enabled"))
	}
	if st := cron.Status(); st.Jobs > 0 {
		fmt.Fprintf(out, "%s Cron: %d scheduled job(s)\n", color.GreenString("✓"), st.Jobs)
	}
	if hb.Enabled {
		fmt.Fprintf(out, "%s Heartbeat: every %s\n", color.GreenString("✓"), hb.Interval)
	}
	fmt.Fprintf(out, "%s Model: %s\n", color.GreenString("✓"), loop.Model())

	runErr := loop.Run(ctx)

	fmt.Fprintln(out, "\nShutting down...")
	slog.Info("Gateway shutting down")
	loop.Stop()
	hb.Stop()
	cron.Stop()
	if err := manager.StopAll(); err != nil {
		slog.Warn("Channel shutdown errors", "error", err)
	}
	return runErr
}
