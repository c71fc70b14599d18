package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points the home directory at a temp dir and clears variables
// that would leak in from the developer's shell.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("CLAWLET_HOME", home)
	t.Setenv("CLAWLET_CONFIG", "")
	t.Setenv("CLAWLET_ENV_FILE", "")
	for _, name := range []string{"OPENAI_API_KEY", "OPENROUTER_API_KEY", "ANTHROPIC_API_KEY", "BRAVE_API_KEY", "CLAWLET_MODEL_NAME", "CLAWLET_MODEL_MAX_TOKENS"} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
	return home
}

func writeConfig(t *testing.T, home, body string) string {
	t.Helper()
	path := filepath.Join(home, ConfigDir, ConfigFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Model.MaxTokens != 8192 {
		t.Errorf("expected maxTokens 8192, got %d", cfg.Model.MaxTokens)
	}
	want := filepath.Join(home, ".clawlet", "workspace")
	if cfg.Paths.Workspace != want {
		t.Errorf("workspace = %q, want %q", cfg.Paths.Workspace, want)
	}
}

func TestLoadFromFile(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, `{
		"model": {"name": "openai/gpt-4o", "maxTokens": 4096},
		"providers": {"openai": {"apiKey": "sk-file", "extraHeaders": {"X-Team": "a"}}},
		"tools": {"exec": {"restrictToWorkspace": true}}
	}`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Model.Name != "openai/gpt-4o" || cfg.Model.MaxTokens != 4096 {
		t.Errorf("file values not applied: %+v", cfg.Model)
	}
	if cfg.Model.Temperature != 0.7 {
		t.Errorf("unset fields should keep defaults, got temperature %v", cfg.Model.Temperature)
	}
	if cfg.Providers.OpenAI.APIKey != "sk-file" || cfg.Providers.OpenAI.ExtraHeaders["X-Team"] != "a" {
		t.Errorf("provider block not loaded: %+v", cfg.Providers.OpenAI)
	}
	if !cfg.Tools.Exec.RestrictToWorkspace {
		t.Error("restrictToWorkspace not loaded")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, `{"model": {"name": "file-model"}, "channels": {"slack": {"enabled": false}}}`)

	t.Setenv("CLAWLET_MODEL_NAME", "env-model")
	t.Setenv("CLAWLET_MODEL_MAX_TOKENS", "1024")
	t.Setenv("CLAWLET_CHANNELS_SLACK_ENABLED", "true")
	t.Setenv("CLAWLET_CHANNELS_SLACK_ALLOW_FROM", "U1,U2")
	t.Setenv("CLAWLET_TOOLS_EXEC_TIMEOUT", "90s")
	t.Setenv("CLAWLET_HEARTBEAT_INTERVAL", "5m")
	t.Setenv("CLAWLET_PROVIDERS_DEEPSEEK_API_KEY", "ds-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Model.Name != "env-model" || cfg.Model.MaxTokens != 1024 {
		t.Errorf("env overrides not applied: %+v", cfg.Model)
	}
	if !cfg.Channels.Slack.Enabled || strings.Join(cfg.Channels.Slack.AllowFrom, "|") != "U1|U2" {
		t.Errorf("slack env not applied: %+v", cfg.Channels.Slack)
	}
	if cfg.Tools.Exec.Timeout != 90*time.Second || cfg.Heartbeat.Interval != 5*time.Minute {
		t.Errorf("durations not parsed: %v %v", cfg.Tools.Exec.Timeout, cfg.Heartbeat.Interval)
	}
	if cfg.Providers.DeepSeek.APIKey != "ds-env" {
		t.Errorf("provider env not applied: %+v", cfg.Providers.DeepSeek)
	}
}

func TestConventionalKeyFallback(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, `{"providers": {"anthropic": {"apiKey": "from-file"}}}`)
	t.Setenv("OPENROUTER_API_KEY", "sk-or-env")
	t.Setenv("ANTHROPIC_API_KEY", "ignored")
	t.Setenv("BRAVE_API_KEY", "brave")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Providers.OpenRouter.APIKey != "sk-or-env" {
		t.Errorf("expected fallback key, got %q", cfg.Providers.OpenRouter.APIKey)
	}
	if cfg.Providers.Anthropic.APIKey != "from-file" {
		t.Errorf("configured key must win, got %q", cfg.Providers.Anthropic.APIKey)
	}
	if cfg.Tools.Web.Search.APIKey != "brave" {
		t.Errorf("brave key fallback not applied")
	}
}

func TestConfigPathRespectsClawletConfigAndHome(t *testing.T) {
	t.Setenv("CLAWLET_HOME", "/srv/clawhome")
	t.Setenv("CLAWLET_CONFIG", "~/.clawlet/custom.json")

	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if path != filepath.Join("/srv/clawhome", ".clawlet", "custom.json") {
		t.Fatalf("unexpected config path: %q", path)
	}

	cron, err := CronStorePath()
	if err != nil || cron != filepath.Join("/srv/clawhome", ".clawlet", "cron", "jobs.json") {
		t.Fatalf("unexpected cron store path %q (%v)", cron, err)
	}
}

func TestLoadWithIncludeAndEnvSubstitution(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ConfigDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "base.json"), []byte(`{"model": {"name": "base-model", "maxTokens": 1024}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	writeConfig(t, home, `{
		"$include": "base.json",
		"model": {"name": "${TEST_CLAWLET_MODEL}"},
		"providers": {"vllm": {"apiBase": "${TEST_CLAWLET_UNSET}"}}
	}`)
	t.Setenv("TEST_CLAWLET_MODEL", "env-model")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Model.Name != "env-model" {
		t.Errorf("expected env-substituted model name, got %q", cfg.Model.Name)
	}
	if cfg.Model.MaxTokens != 1024 {
		t.Errorf("expected maxTokens from include file, got %d", cfg.Model.MaxTokens)
	}
	if cfg.Providers.VLLM.APIBase != "${TEST_CLAWLET_UNSET}" {
		t.Errorf("unset variables should stay literal, got %q", cfg.Providers.VLLM.APIBase)
	}
}

func TestIncludeCycle(t *testing.T) {
	home := isolate(t)
	path := writeConfig(t, home, `{"$include": "config.json"}`)
	if _, err := LoadFrom(path); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected include cycle error, got %v", err)
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, `{"model": `)
	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	home := isolate(t)
	cfg := DefaultConfig()
	cfg.Model.Name = "deepseek/deepseek-chat"
	cfg.Channels.Kafka.Brokers = []string{"localhost:9092"}
	if err := Save(cfg); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(home, ConfigDir, ConfigFile)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config should be private, got %v", info.Mode().Perm())
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Model.Name != "deepseek/deepseek-chat" || loaded.Channels.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}
