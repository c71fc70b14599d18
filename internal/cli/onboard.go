package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/KafClaw/clawlet/internal/config"
	"github.com/KafClaw/clawlet/internal/identity"
	"github.com/KafClaw/clawlet/internal/provider"
)

var (
	onboardForce          bool
	onboardNonInteractive bool
	onboardProvider       string
	onboardAPIKey         string
	onboardModel          string
	onboardWorkspace      string
	onboardKeyInConfig    bool
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Write the config and scaffold the workspace",
	RunE:  runOnboard,
}

func init() {
	onboardCmd.Flags().BoolVarP(&onboardForce, "force", "f", false, "Start from defaults instead of the existing config")
	onboardCmd.Flags().BoolVar(&onboardNonInteractive, "non-interactive", false, "Skip prompts and use flags only")
	onboardCmd.Flags().StringVar(&onboardProvider, "provider", "", "Provider for --api-key ("+providerNames()+")")
	onboardCmd.Flags().StringVar(&onboardAPIKey, "api-key", "", "API key for --provider")
	onboardCmd.Flags().StringVar(&onboardModel, "model", "", "Default model")
	onboardCmd.Flags().StringVar(&onboardWorkspace, "workspace", "", "Workspace directory")
	onboardCmd.Flags().BoolVar(&onboardKeyInConfig, "key-in-config", false, "Write the API key into config.json instead of the OS keyring")
	rootCmd.AddCommand(onboardCmd)
}

// suggestedModels seeds the model prompt for the chosen provider.
var suggestedModels = map[string]string{
	"openrouter": "anthropic/claude-sonnet-4-5",
	"aihubmix":   "anthropic/claude-sonnet-4-5",
	"anthropic":  "anthropic/claude-sonnet-4-5",
	"openai":     "openai/gpt-4.1",
	"deepseek":   "deepseek/deepseek-chat",
	"gemini":     "gemini/gemini-2.5-flash",
	"zhipu":      "zhipu/glm-4.6",
	"dashscope":  "dashscope/qwen-max",
	"moonshot":   "moonshot/kimi-k2.5",
	"groq":       "groq/llama-3.3-70b-versatile",
	"vllm":       "vllm/local-model",
}

type onboardAnswers struct {
	Provider   string
	APIKey     string
	Model      string
	Workspace  string
	KeyInStore bool
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgPath, err := config.ConfigPath()
	if err != nil {
		return err
	}

	cfg := config.DefaultConfig()
	existing := exists(cfgPath)
	if existing && !onboardForce {
		if cfg, err = config.LoadFrom(cfgPath); err != nil {
			return fmt.Errorf("existing config is invalid (use --force to start over): %w", err)
		}
	}

	ans := onboardAnswers{
		Provider:   strings.ToLower(onboardProvider),
		APIKey:     strings.TrimSpace(onboardAPIKey),
		Model:      onboardModel,
		Workspace:  onboardWorkspace,
		KeyInStore: !onboardKeyInConfig,
	}
	if ans.Workspace == "" {
		ans.Workspace = cfg.Paths.Workspace
	}

	interactive := !onboardNonInteractive && term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		printHeader(cmd, "🐾 clawlet onboarding")
		if existing && !onboardForce {
			keep := true
			if err := huh.NewConfirm().
				Title(fmt.Sprintf("Config found at %s. Update it?", cfgPath)).
				Value(&keep).Run(); err != nil {
				return err
			}
			if !keep {
				fmt.Fprintln(out, "Nothing changed.")
				return nil
			}
		}
		if err := promptOnboarding(&ans, cfg.Model.Name); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				fmt.Fprintln(out, "Onboarding cancelled.")
				return nil
			}
			return err
		}
	}

	if err := applyOnboarding(cmd, cfg, ans); err != nil {
		return err
	}
	if err := config.SaveTo(cfgPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Fprintf(out, "%s Config written to %s\n", color.GreenString("✓"), cfgPath)

	res, err := identity.ScaffoldWorkspace(cfg.Paths.Workspace, false)
	if err != nil {
		return err
	}
	for _, name := range res.Created {
		fmt.Fprintf(out, "  created %s\n", name)
	}
	for _, e := range res.Errors {
		fmt.Fprintln(out, color.YellowString("  warning: %s", e))
	}
	fmt.Fprintf(out, "%s Workspace ready at %s\n", color.GreenString("✓"), cfg.Paths.Workspace)

	fmt.Fprintln(out, "\nNext steps:")
	if !anyProviderConfigured(newProvider(cfg)) {
		fmt.Fprintln(out, "  1. Add an API key: clawlet auth set openrouter")
	}
	fmt.Fprintln(out, "  • Chat: clawlet agent -m \"Hello!\"")
	fmt.Fprintln(out, "  • Enable channels in "+cfgPath+" and run: clawlet gateway")
	return nil
}

func promptOnboarding(ans *onboardAnswers, currentModel string) error {
	if ans.Provider == "" {
		ans.Provider = "openrouter"
	}
	opts := make([]huh.Option[string], 0, len(provider.Specs))
	for _, s := range provider.Specs {
		opts = append(opts, huh.NewOption(s.Label(), s.Name))
	}

	if err := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().Title("LLM provider").Options(opts...).Value(&ans.Provider),
	)).Run(); err != nil {
		return err
	}

	if ans.Model == "" {
		ans.Model = currentModel
		if s, ok := suggestedModels[ans.Provider]; ok {
			ans.Model = s
		}
	}
	return huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("API key (leave empty to skip)").
			EchoMode(huh.EchoModePassword).Value(&ans.APIKey),
		huh.NewConfirm().Title("Store the key in the OS keyring?").
			Affirmative("Keyring").Negative("config.json").Value(&ans.KeyInStore),
		huh.NewInput().Title("Default model").Value(&ans.Model),
		huh.NewInput().Title("Workspace").Value(&ans.Workspace),
	)).Run()
}

// applyOnboarding folds the answers into cfg. A key that cannot go into the
// keyring falls back to the config file.
func applyOnboarding(cmd *cobra.Command, cfg *config.Config, ans onboardAnswers) error {
	if ans.Workspace != "" {
		ws, err := config.ExpandHome(ans.Workspace)
		if err != nil {
			return err
		}
		cfg.Paths.Workspace = ws
	} else if ws, err := config.ExpandHome(config.DefaultConfig().Paths.Workspace); err == nil {
		cfg.Paths.Workspace = ws
	}
	if ans.Model != "" {
		cfg.Model.Name = ans.Model
	}
	if ans.APIKey == "" {
		return nil
	}
	if ans.Provider == "" {
		return errors.New("--api-key needs --provider")
	}
	name, err := knownProvider(ans.Provider)
	if err != nil {
		return err
	}
	block := cfg.Providers.ByName()[name]
	if spec, _ := provider.SpecByName(name); spec.Local {
		block.APIKey = ans.APIKey
		return nil
	}
	if ans.KeyInStore {
		err := keyStore.SetProviderKey(name, ans.APIKey)
		if err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s Stored %s key in the OS keyring\n", color.GreenString("✓"), name)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), color.YellowString("Keyring unavailable (%v); writing the key to config instead", err))
	}
	block.APIKey = ans.APIKey
	return nil
}
