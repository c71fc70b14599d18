package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/clawlet/internal/channels"
	"github.com/KafClaw/clawlet/internal/config"
	"github.com/KafClaw/clawlet/internal/provider"
	"github.com/KafClaw/clawlet/internal/scheduler"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "clawlet %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, providers, channels and cron status",
	RunE:  runStatus,
}

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Inspect chat channels",
}

var channelsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which channels are enabled and configured",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		writeChannelStatus(cmd.OutOrStdout(), channels.Describe(cfg.Channels))
		return nil
	},
}

func init() {
	channelsCmd.AddCommand(channelsStatusCmd)
	rootCmd.AddCommand(versionCmd, statusCmd, channelsCmd)
}

func mark(ok bool) string {
	if ok {
		return color.GreenString("✓")
	}
	return color.RedString("✗")
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	printHeader(cmd, "📊 clawlet status")

	cfgPath, err := config.ConfigPath()
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Version:   %s\n", version)
	fmt.Fprintf(out, "Config:    %s %s\n", cfgPath, mark(exists(cfgPath)))
	fmt.Fprintf(out, "Workspace: %s %s\n", cfg.Paths.Workspace, mark(exists(cfg.Paths.Workspace)))
	fmt.Fprintf(out, "Model:     %s\n", cfg.Model.Name)

	fmt.Fprintln(out, "\nProviders:")
	for _, s := range provider.Specs {
		fmt.Fprintf(out, "  %-12s %s\n", s.Label(), providerSource(cfg, s))
	}

	fmt.Fprintln(out, "\nChannels:")
	writeChannelStatus(out, channels.Describe(cfg.Channels))

	fmt.Fprintln(out, "\nCron:")
	return writeCronStatus(out)
}

// providerSource says where a provider's credentials come from.
func providerSource(cfg *config.Config, s provider.Spec) string {
	p := cfg.Providers.ByName()[s.Name]
	switch {
	case s.Local && p.APIBase != "":
		return color.GreenString("✓ ") + p.APIBase
	case s.Local:
		return color.HiBlackString("not set")
	case p.APIKey != "":
		return color.GreenString("✓ config/env")
	case keyLookup(s.Name) != "":
		return color.GreenString("✓ keyring")
	}
	return color.HiBlackString("not set")
}

func writeChannelStatus(w io.Writer, st []channels.Status) {
	for _, s := range st {
		state := color.HiBlackString("disabled")
		if s.Enabled {
			if s.Configured {
				state = color.GreenString("enabled")
			} else {
				state = color.RedString("enabled, missing credentials")
			}
		}
		fmt.Fprintf(w, "  %-10s %-30s %s\n", s.Name, state, s.Detail)
	}
}

func writeCronStatus(w io.Writer) error {
	path, err := config.CronStorePath()
	if err != nil {
		return err
	}
	running := false
	lock, err := scheduler.AcquireStoreLock(path)
	switch {
	case errors.Is(err, scheduler.ErrLocked):
		running = true
	case err == nil:
		_ = lock.Unlock()
	}

	svc := scheduler.NewService(path, nil)
	jobs := svc.ListJobs(true)
	enabled := 0
	for _, j := range jobs {
		if j.Enabled {
			enabled++
		}
	}
	gateway := "not running"
	if running {
		gateway = color.GreenString("running")
		if pid := scheduler.LockHolder(path); pid > 0 {
			gateway += fmt.Sprintf(" (pid %d)", pid)
		}
	}
	fmt.Fprintf(w, "  Gateway:   %s\n", gateway)
	fmt.Fprintf(w, "  Jobs:      %d (%d enabled)\n", len(jobs), enabled)
	if next := svc.Status().NextWakeAtMs; next != nil {
		fmt.Fprintf(w, "  Next run:  %s\n", time.UnixMilli(*next).Local().Format("2006-01-02 15:04"))
	}
	return nil
}
