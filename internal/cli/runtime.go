package cli

import (
	"fmt"

	"github.com/KafClaw/clawlet/internal/agent"
	"github.com/KafClaw/clawlet/internal/bus"
	"github.com/KafClaw/clawlet/internal/cliconfig"
	"github.com/KafClaw/clawlet/internal/config"
	"github.com/KafClaw/clawlet/internal/provider"
	"github.com/KafClaw/clawlet/internal/secrets"
	"github.com/KafClaw/clawlet/internal/tools"
)

// keyLookup resolves provider keys missing from config. Tests swap it to
// keep the OS keyring out of the way.
var keyLookup provider.KeyLookup = func(name string) string {
	return secrets.NewStore().Lookup(name)
}

// newProvider builds the model router from config and the keyring.
func newProvider(cfg *config.Config) *provider.Router {
	return provider.NewRouter(cliconfig.ProviderCredentials(cfg), cfg.Model.Name, provider.WithKeyLookup(keyLookup))
}

// anyProviderConfigured reports whether at least one provider can be used.
func anyProviderConfigured(r *provider.Router) bool {
	for _, s := range provider.Specs {
		if r.Configured(s.Name) {
			return true
		}
	}
	return false
}

// newAgentLoop wires an agent loop from config. cron may be nil, which
// leaves the cron tool out.
func newAgentLoop(cfg *config.Config, b *bus.MessageBus, prov provider.LLMProvider, cron tools.CronManager) (*agent.Loop, error) {
	loop, err := agent.NewLoop(agent.LoopOptions{
		Bus:           b,
		Provider:      prov,
		Workspace:     cfg.Paths.Workspace,
		BuiltinSkills: cfg.Paths.BuiltinSkills,
		Model:         cfg.Model.Name,
		MaxTokens:     cfg.Model.MaxTokens,
		Temperature:   cfg.Model.Temperature,
		MaxIterations: cfg.Model.MaxToolIterations,
		HistoryLimit:  cfg.Model.HistoryLimit,
		Tools: agent.ToolConfig{
			BraveAPIKey:      cfg.Tools.Web.Search.APIKey,
			SearchMaxResults: cfg.Tools.Web.Search.MaxResults,
			FetchMaxChars:    cfg.Tools.Web.Fetch.MaxChars,
			Exec: tools.ExecConfig{
				Timeout:             cfg.Tools.Exec.Timeout,
				WorkingDir:          cfg.Paths.Workspace,
				DenyPatterns:        cfg.Tools.Exec.DenyPatterns,
				AllowPatterns:       cfg.Tools.Exec.AllowPatterns,
				RestrictToWorkspace: cfg.Tools.Exec.RestrictToWorkspace,
			},
			RestrictToWorkspace: cfg.Tools.Exec.RestrictToWorkspace,
		},
		Cron:               cron,
		MaxSubagents:       cfg.Subagents.MaxConcurrent,
		SubagentIterations: cfg.Subagents.MaxIterations,
	})
	if err != nil {
		return nil, fmt.Errorf("agent loop: %w", err)
	}
	return loop, nil
}

// loadRuntime loads config and fails early when no provider has a key.
func loadRuntime() (*config.Config, *provider.Router, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	prov := newProvider(cfg)
	if !anyProviderConfigured(prov) {
		return nil, nil, fmt.Errorf("no LLM provider configured: set an API key with 'clawlet auth set <provider>' or in %s", configPathOrDefault())
	}
	return cfg, prov, nil
}

func configPathOrDefault() string {
	if p, err := config.ConfigPath(); err == nil {
		return p
	}
	return "~/" + config.ConfigDir + "/" + config.ConfigFile
}
