package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/KafClaw/clawlet/internal/provider"
	"github.com/KafClaw/clawlet/internal/secrets"
)

// keyStore is the keyring backend for `auth`. Tests replace it.
var keyStore interface {
	SetProviderKey(name, key string) error
	DeleteProviderKey(name string) error
} = secrets.NewStore()

var authKey string

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Store provider API keys in the OS keyring",
	Long: "Keys stored here are used when a provider has no apiKey in config or the environment.\n" +
		"Providers: " + providerNames(),
}

var authSetCmd = &cobra.Command{
	Use:   "set <provider>",
	Short: "Store an API key (prompted without echo unless --key is given)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := knownProvider(args[0])
		if err != nil {
			return err
		}
		key := strings.TrimSpace(authKey)
		if key == "" {
			if key, err = readSecret(cmd, fmt.Sprintf("%s API key: ", name)); err != nil {
				return err
			}
		}
		if key == "" {
			return errors.New("empty API key")
		}
		if err := keyStore.SetProviderKey(name, key); err != nil {
			return fmt.Errorf("store key: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Stored %s key in the OS keyring\n", color.GreenString("✓"), name)
		return nil
	},
}

var authRemoveCmd = &cobra.Command{
	Use:   "remove <provider>",
	Short: "Delete a stored API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := knownProvider(args[0])
		if err != nil {
			return err
		}
		if err := keyStore.DeleteProviderKey(name); err != nil {
			if errors.Is(err, secrets.ErrNotFound) {
				return fmt.Errorf("no stored key for %s", name)
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Removed %s key\n", color.GreenString("✓"), name)
		return nil
	},
}

func init() {
	authSetCmd.Flags().StringVar(&authKey, "key", "", "API key (avoid: ends up in shell history)")
	authCmd.AddCommand(authSetCmd, authRemoveCmd)
	rootCmd.AddCommand(authCmd)
}

func providerNames() string {
	names := make([]string, 0, len(provider.Specs))
	for _, s := range provider.Specs {
		names = append(names, s.Name)
	}
	return strings.Join(names, ", ")
}

func knownProvider(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if _, ok := provider.SpecByName(name); !ok {
		return "", fmt.Errorf("unknown provider %q (known: %s)", name, providerNames())
	}
	return name, nil
}

// readSecret reads a line without echo on a terminal, or plainly from piped
// input.
func readSecret(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read key: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read key: %w", err)
	}
	return strings.TrimSpace(line), nil
}
