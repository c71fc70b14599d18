// Package cli implements the clawlet command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/KafClaw/clawlet/internal/cli.version=1.2.3"
	version = "0.1.0"
	logo    = "\n" +
		"       _                _      _\n" +
		"   ___| | __ ___      _| | ___| |_\n" +
		"  / __| |/ _` \\ \\ /\\ / / |/ _ \\ __|\n" +
		" | (__| | (_| |\\ V  V /| |  __/ |_\n" +
		"  \\___|_|\\__,_| \\_/\\_/ |_|\\___|\\__|\n"
)

var (
	verbose   bool
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:           "clawlet",
	Short:         "clawlet - personal AI assistant",
	Long:          color.CyanString(logo) + "\nA small personal AI agent for chat apps, cron jobs and the terminal.",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(verbose, logFormat)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text | json")
}

func setupLogging(debug bool, format string) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func printHeader(cmd *cobra.Command, title string) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, color.CyanString(logo))
	if title != "" {
		fmt.Fprintln(out, title)
		fmt.Fprintln(out, "─────────────────────")
	}
}
