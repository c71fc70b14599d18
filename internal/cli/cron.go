package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/clawlet/internal/bus"
	"github.com/KafClaw/clawlet/internal/config"
	"github.com/KafClaw/clawlet/internal/scheduler"
)

var (
	cronForce   bool
	cronListAll bool

	cronAddName    string
	cronAddMessage string
	cronAddEvery   int
	cronAddExpr    string
	cronAddTZ      string
	cronAddAt      string
	cronAddDeliver bool
	cronAddTo      string
	cronAddChannel string
	cronAddOnce    bool

	cronDisable bool
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage scheduled jobs",
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs",
	Args:  cobra.NoArgs,
	RunE:  runCronList,
}

var cronAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a scheduled job",
	Example: `  clawlet cron add -n standup -m "Summarize my open tasks" --cron "0 9 * * 1-5" --tz Europe/Berlin
  clawlet cron add -m "Stretch" --every 3600 --deliver --channel slack --to D0123
  clawlet cron add -m "Call mom" --at 2026-12-24T18:00:00`,
	Args: cobra.NoArgs,
	RunE: runCronAdd,
}

var cronRemoveCmd = &cobra.Command{
	Use:   "remove <job-id>",
	Short: "Remove a scheduled job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCronRemove,
}

var cronEnableCmd = &cobra.Command{
	Use:   "enable <job-id>",
	Short: "Enable (or with --disable, disable) a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCronEnable,
}

var cronRunCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Run a job now through the agent and print the reply",
	Args:  cobra.ExactArgs(1),
	RunE:  runCronRun,
}

func init() {
	cronCmd.PersistentFlags().BoolVarP(&cronForce, "force", "f", false, "Edit the job store even while a gateway holds it (run: also run disabled jobs)")

	cronListCmd.Flags().BoolVarP(&cronListAll, "all", "a", false, "Include disabled jobs")

	cronAddCmd.Flags().StringVarP(&cronAddName, "name", "n", "", "Job name (defaults to the message)")
	cronAddCmd.Flags().StringVarP(&cronAddMessage, "message", "m", "", "Message for the agent")
	cronAddCmd.Flags().IntVarP(&cronAddEvery, "every", "e", 0, "Run every N seconds")
	cronAddCmd.Flags().StringVarP(&cronAddExpr, "cron", "c", "", "Cron expression (e.g. '0 9 * * *')")
	cronAddCmd.Flags().StringVar(&cronAddTZ, "tz", "", "IANA timezone for --cron (default: local)")
	cronAddCmd.Flags().StringVar(&cronAddAt, "at", "", "Run once at an RFC 3339 or local 'YYYY-MM-DDTHH:MM[:SS]' time")
	cronAddCmd.Flags().BoolVarP(&cronAddDeliver, "deliver", "d", false, "Deliver the reply to --channel/--to")
	cronAddCmd.Flags().StringVar(&cronAddTo, "to", "", "Recipient chat id for delivery")
	cronAddCmd.Flags().StringVar(&cronAddChannel, "channel", "", "Channel for delivery (e.g. slack, whatsapp)")
	cronAddCmd.Flags().BoolVar(&cronAddOnce, "delete-after-run", false, "Delete an --at job after it runs")
	_ = cronAddCmd.MarkFlagRequired("message")
	cronAddCmd.MarkFlagsMutuallyExclusive("every", "cron", "at")

	cronEnableCmd.Flags().BoolVar(&cronDisable, "disable", false, "Disable instead of enable")

	cronCmd.AddCommand(cronListCmd, cronAddCmd, cronRemoveCmd, cronEnableCmd, cronRunCmd)
	rootCmd.AddCommand(cronCmd)
}

// openCronStore returns a service over the job store. Mutations take the
// store lock; under a live gateway they need --force and apply at its next
// start.
func openCronStore(cmd *cobra.Command, mutate bool) (*scheduler.Service, func(), error) {
	path, err := config.CronStorePath()
	if err != nil {
		return nil, nil, err
	}
	svc := scheduler.NewService(path, nil)
	if !mutate {
		return svc, func() {}, nil
	}
	lock, err := scheduler.AcquireStoreLock(path)
	switch {
	case errors.Is(err, scheduler.ErrLocked):
		if !cronForce {
			return nil, nil, fmt.Errorf("a running gateway owns %s; stop it or pass --force", path)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), color.YellowString("Warning: a gateway is running; this change applies at its next start and may be overwritten"))
		return svc, func() {}, nil
	case err != nil:
		return nil, nil, err
	}
	return svc, func() { _ = lock.Unlock() }, nil
}

func runCronList(cmd *cobra.Command, args []string) error {
	svc, release, err := openCronStore(cmd, false)
	if err != nil {
		return err
	}
	defer release()

	jobs := svc.ListJobs(cronListAll)
	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No scheduled jobs.")
		return nil
	}
	writeJobTable(out, jobs)
	return nil
}

func writeJobTable(w io.Writer, jobs []*scheduler.Job) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSCHEDULE\tSTATUS\tNEXT RUN\tLAST")
	for _, j := range jobs {
		status := "enabled"
		if !j.Enabled {
			status = "disabled"
		}
		next := "-"
		if j.State.NextRunAtMs != nil {
			next = time.UnixMilli(*j.State.NextRunAtMs).Local().Format("2006-01-02 15:04")
		}
		last := "-"
		if j.State.LastStatus != "" {
			last = j.State.LastStatus
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", j.ID, truncate(j.Name, 32), j.Schedule.Describe(), status, next, last)
	}
	tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// cronScheduleFromFlags builds the schedule for `cron add`.
func cronScheduleFromFlags(every int, expr, tz, at string, now time.Time) (scheduler.Schedule, error) {
	switch {
	case every > 0:
		return scheduler.Schedule{Kind: scheduler.KindEvery, EveryMs: int64(every) * 1000}, nil
	case expr != "":
		return scheduler.Schedule{Kind: scheduler.KindCron, Expr: expr, TZ: tz}, nil
	case at != "":
		t, err := parseAt(at)
		if err != nil {
			return scheduler.Schedule{}, err
		}
		if !t.After(now) {
			return scheduler.Schedule{}, fmt.Errorf("--at %s is in the past", at)
		}
		return scheduler.Schedule{Kind: scheduler.KindAt, AtMs: t.UnixMilli()}, nil
	}
	return scheduler.Schedule{}, errors.New("one of --every, --cron or --at is required")
}

func parseAt(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --at time %q (use RFC 3339 or YYYY-MM-DDTHH:MM)", s)
}

func runCronAdd(cmd *cobra.Command, args []string) error {
	sched, err := cronScheduleFromFlags(cronAddEvery, cronAddExpr, cronAddTZ, cronAddAt, time.Now())
	if err != nil {
		return err
	}
	if cronAddDeliver && cronAddTo == "" {
		return errors.New("--deliver needs --to")
	}

	svc, release, err := openCronStore(cmd, true)
	if err != nil {
		return err
	}
	defer release()

	job, err := svc.AddJob(scheduler.AddJobRequest{
		Name:           cronAddName,
		Schedule:       sched,
		Message:        cronAddMessage,
		Deliver:        cronAddDeliver,
		Channel:        cronAddChannel,
		To:             cronAddTo,
		DeleteAfterRun: cronAddOnce,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Added job '%s' (%s), %s\n", color.GreenString("✓"), job.Name, job.ID, job.Schedule.Describe())
	return nil
}

func runCronRemove(cmd *cobra.Command, args []string) error {
	svc, release, err := openCronStore(cmd, true)
	if err != nil {
		return err
	}
	defer release()

	if !svc.RemoveJob(args[0]) {
		return fmt.Errorf("job %s not found", args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Removed job %s\n", color.GreenString("✓"), args[0])
	return nil
}

func runCronEnable(cmd *cobra.Command, args []string) error {
	svc, release, err := openCronStore(cmd, true)
	if err != nil {
		return err
	}
	defer release()

	job := svc.EnableJob(args[0], !cronDisable)
	if job == nil {
		return fmt.Errorf("job %s not found", args[0])
	}
	state := "enabled"
	if cronDisable {
		state = "disabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Job '%s' %s\n", color.GreenString("✓"), job.Name, state)
	return nil
}

func runCronRun(cmd *cobra.Command, args []string) error {
	svc, release, err := openCronStore(cmd, true)
	if err != nil {
		return err
	}
	defer release()

	job, ok := svc.GetJob(args[0])
	if !ok {
		return fmt.Errorf("job %s not found", args[0])
	}
	if !job.Enabled && !cronForce {
		return fmt.Errorf("job %s is disabled (use --force to run it anyway)", args[0])
	}

	cfg, prov, err := loadRuntime()
	if err != nil {
		return err
	}
	loop, err := newAgentLoop(cfg, bus.NewMessageBus(), prov, nil)
	if err != nil {
		return err
	}
	defer loop.Stop()

	var reply string
	runner := scheduler.NewService(svc.StorePath(), func(ctx context.Context, j *scheduler.Job) (string, error) {
		resp, err := loop.ProcessDirect(ctx, j.Payload.Message, "cron:"+j.ID, j.Payload.Channel, j.Payload.To)
		reply = resp
		return resp, err
	})
	if !runner.RunJob(cmd.Context(), job.ID, cronForce) {
		return fmt.Errorf("failed to run job %s", job.ID)
	}
	after, _ := runner.GetJob(job.ID)
	if after != nil && after.State.LastStatus == scheduler.StatusError && after.State.LastError != nil {
		return fmt.Errorf("job %s failed: %s", job.ID, *after.State.LastError)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Job '%s' executed\n", color.GreenString("✓"), job.Name)
	if strings.TrimSpace(reply) != "" {
		fmt.Fprintln(out, reply)
	}
	return nil
}
