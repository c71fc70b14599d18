package config

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Model.Name != "anthropic/claude-sonnet-4-5" {
		t.Errorf("expected default model anthropic/claude-sonnet-4-5, got %s", cfg.Model.Name)
	}
	if cfg.Model.MaxTokens != 8192 || cfg.Model.Temperature != 0.7 || cfg.Model.MaxToolIterations != 20 {
		t.Errorf("unexpected model defaults: %+v", cfg.Model)
	}
	if cfg.Tools.Exec.RestrictToWorkspace {
		t.Error("expected RestrictToWorkspace to be false by default")
	}
	if cfg.Tools.Exec.Timeout != 60*time.Second {
		t.Errorf("expected exec timeout 60s, got %v", cfg.Tools.Exec.Timeout)
	}
	if cfg.Tools.Web.Search.MaxResults != 5 {
		t.Errorf("expected 5 search results, got %d", cfg.Tools.Web.Search.MaxResults)
	}
	if !cfg.Heartbeat.Enabled || cfg.Heartbeat.Interval != 30*time.Minute {
		t.Errorf("unexpected heartbeat defaults: %+v", cfg.Heartbeat)
	}
	if cfg.Subagents.MaxConcurrent != 8 {
		t.Errorf("expected subagents maxConcurrent 8, got %d", cfg.Subagents.MaxConcurrent)
	}
}

func TestProvidersByName(t *testing.T) {
	cfg := DefaultConfig()
	byName := cfg.Providers.ByName()
	for _, name := range []string{"openrouter", "aihubmix", "anthropic", "openai", "deepseek", "groq", "gemini", "zhipu", "dashscope", "moonshot", "vllm"} {
		if byName[name] == nil {
			t.Errorf("missing provider %s", name)
		}
	}
	byName["groq"].APIKey = "gsk-1"
	if cfg.Providers.Groq.APIKey != "gsk-1" {
		t.Error("ByName should return pointers into the config")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("defaults should validate, got %v", errs)
	}

	cfg.Channels.Slack.Enabled = true
	cfg.Channels.Slack.BotToken = "xoxb"
	cfg.Channels.Discord.Enabled = true
	cfg.Channels.Kafka.Enabled = true
	errs := cfg.Validate()
	if len(errs) != 3 {
		t.Fatalf("expected slack, discord and kafka errors, got %v", errs)
	}

	cfg.Channels.Telegram.Enabled = true
	if errs := cfg.Validate(); len(errs) != 4 {
		t.Fatalf("expected a telegram token error as well, got %v", errs)
	}
}

func TestValidateKafkaSASL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channels.Kafka.Enabled = true
	cfg.Channels.Kafka.Brokers = []string{"localhost:9092"}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("plaintext kafka should validate, got %v", errs)
	}

	cfg.Channels.Kafka.SASLMechanism = "scram-sha-256"
	if errs := cfg.Validate(); len(errs) != 1 {
		t.Fatalf("expected missing username error, got %v", errs)
	}
	cfg.Channels.Kafka.Username = "bot"
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("scram with username should validate, got %v", errs)
	}
	cfg.Channels.Kafka.SASLMechanism = "GSSAPI"
	if errs := cfg.Validate(); len(errs) != 1 {
		t.Fatalf("expected unsupported mechanism error, got %v", errs)
	}
}
