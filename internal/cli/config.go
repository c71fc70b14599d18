package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KafClaw/clawlet/internal/cliconfig"
	"github.com/KafClaw/clawlet/internal/config"
)

var configReveal bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read and edit clawlet configuration values",
}

var configGetCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Get effective config value by dotted path (e.g. model.name)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		val, err := cliconfig.Get(args[0], configReveal)
		if err != nil {
			return err
		}
		switch v := val.(type) {
		case map[string]any, []any:
			out, _ := json.MarshalIndent(v, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
		default:
			fmt.Fprintln(cmd.OutOrStdout(), v)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <path> <value>",
	Short: "Set config value by dotted path (JSON or plain string)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cliconfig.Set(args[0], args[1])
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <path>",
	Short: "Unset config value by dotted path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cliconfig.Unset(args[0])
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := config.ConfigPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), p)
		return nil
	},
}

func init() {
	configGetCmd.Flags().BoolVar(&configReveal, "reveal", false, "Show API keys and tokens unmasked")
	configCmd.AddCommand(configGetCmd, configSetCmd, configUnsetCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}
