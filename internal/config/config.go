// Package config provides configuration types and loading for clawlet.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration struct.
// Top-level groups: Paths, Model, Providers, Channels, Tools, Heartbeat, Subagents.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Model     ModelConfig     `json:"model"`
	Providers ProvidersConfig `json:"providers"`
	Channels  ChannelsConfig  `json:"channels"`
	Tools     ToolsConfig     `json:"tools"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Subagents SubagentsConfig `json:"subagents"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	Workspace string `json:"workspace" split_words:"true"`
	// BuiltinSkills is a directory of skills shipped outside the workspace.
	BuiltinSkills string `json:"builtinSkills,omitempty" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Model – LLM behaviour
// ---------------------------------------------------------------------------

// ModelConfig groups LLM model and agent-loop settings.
type ModelConfig struct {
	Name              string  `json:"name" split_words:"true"`
	MaxTokens         int     `json:"maxTokens" split_words:"true"`
	Temperature       float64 `json:"temperature" split_words:"true"`
	MaxToolIterations int     `json:"maxToolIterations" split_words:"true"`
	HistoryLimit      int     `json:"historyLimit" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Providers – LLM API keys & endpoints
// ---------------------------------------------------------------------------

// ProvidersConfig contains LLM provider configurations.
type ProvidersConfig struct {
	OpenRouter ProviderConfig `json:"openrouter"`
	AiHubMix   ProviderConfig `json:"aihubmix"`
	Anthropic  ProviderConfig `json:"anthropic"`
	OpenAI     ProviderConfig `json:"openai"`
	DeepSeek   ProviderConfig `json:"deepseek"`
	Groq       ProviderConfig `json:"groq"`
	Gemini     ProviderConfig `json:"gemini"`
	Zhipu      ProviderConfig `json:"zhipu"`
	DashScope  ProviderConfig `json:"dashscope"`
	Moonshot   ProviderConfig `json:"moonshot"`
	VLLM       ProviderConfig `json:"vllm"`
}

// ProviderConfig contains settings for a single LLM provider.
type ProviderConfig struct {
	APIKey       string            `json:"apiKey" split_words:"true"`
	APIBase      string            `json:"apiBase,omitempty" split_words:"true"`
	ExtraHeaders map[string]string `json:"extraHeaders,omitempty" split_words:"true"`
}

// ByName returns pointers to every provider block keyed by its config name.
func (p *ProvidersConfig) ByName() map[string]*ProviderConfig {
	return map[string]*ProviderConfig{
		"openrouter": &p.OpenRouter,
		"aihubmix":   &p.AiHubMix,
		"anthropic":  &p.Anthropic,
		"openai":     &p.OpenAI,
		"deepseek":   &p.DeepSeek,
		"groq":       &p.Groq,
		"gemini":     &p.Gemini,
		"zhipu":      &p.Zhipu,
		"dashscope":  &p.DashScope,
		"moonshot":   &p.Moonshot,
		"vllm":       &p.VLLM,
	}
}

// ---------------------------------------------------------------------------
// Channels – messaging integrations
// ---------------------------------------------------------------------------

// ChannelsConfig contains all channel configurations.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Slack    SlackConfig    `json:"slack"`
	Discord  DiscordConfig  `json:"discord"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Kafka    KafkaConfig    `json:"kafka"`
}

// TelegramConfig configures the Telegram bot (long polling).
type TelegramConfig struct {
	Enabled   bool     `json:"enabled" split_words:"true"`
	Token     string   `json:"token" split_words:"true"`
	AllowFrom []string `json:"allowFrom" split_words:"true"`
	// Proxy is an optional HTTP or SOCKS5 proxy URL for the Bot API.
	Proxy string `json:"proxy,omitempty" split_words:"true"`
}

// SlackConfig configures the Slack channel (Socket Mode).
type SlackConfig struct {
	Enabled   bool     `json:"enabled" split_words:"true"`
	BotToken  string   `json:"botToken" split_words:"true"`
	AppToken  string   `json:"appToken" split_words:"true"`
	AllowFrom []string `json:"allowFrom" split_words:"true"`
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Enabled   bool     `json:"enabled" split_words:"true"`
	Token     string   `json:"token" split_words:"true"`
	AllowFrom []string `json:"allowFrom" split_words:"true"`
}

// WhatsAppConfig configures the native WhatsApp channel.
type WhatsAppConfig struct {
	Enabled bool `json:"enabled" split_words:"true"`
	// StorePath is the sqlite device store; empty means <home>/.clawlet/whatsapp.db.
	StorePath string `json:"storePath,omitempty" split_words:"true"`
	// QRPath receives the pairing QR code PNG; empty means <home>/.clawlet/whatsapp-qr.png.
	QRPath    string   `json:"qrPath,omitempty" split_words:"true"`
	AllowFrom []string `json:"allowFrom" split_words:"true"`
}

// KafkaConfig configures the Kafka bridge channel.
type KafkaConfig struct {
	Enabled       bool     `json:"enabled" split_words:"true"`
	Brokers       []string `json:"brokers" split_words:"true"`
	InboundTopic  string   `json:"inboundTopic" split_words:"true"`
	OutboundTopic string   `json:"outboundTopic" split_words:"true"`
	GroupID       string   `json:"groupId" split_words:"true"`
	AllowFrom     []string `json:"allowFrom" split_words:"true"`
	// TLS enables TLS to the brokers; CAFile adds a custom root CA.
	TLS    bool   `json:"tls,omitempty" split_words:"true"`
	CAFile string `json:"caFile,omitempty" split_words:"true"`
	// SASLMechanism is PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512.
	SASLMechanism string `json:"saslMechanism,omitempty" split_words:"true"`
	Username      string `json:"username,omitempty" split_words:"true"`
	Password      string `json:"password,omitempty" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Tools – tool-specific behaviour
// ---------------------------------------------------------------------------

// ToolsConfig contains tool-specific settings.
type ToolsConfig struct {
	Exec ExecToolConfig `json:"exec"`
	Web  WebToolConfig  `json:"web"`
}

// ExecToolConfig contains shell execution tool settings.
type ExecToolConfig struct {
	Timeout             time.Duration `json:"timeout" split_words:"true"`
	RestrictToWorkspace bool          `json:"restrictToWorkspace" split_words:"true"`
	DenyPatterns        []string      `json:"denyPatterns,omitempty" split_words:"true"`
	AllowPatterns       []string      `json:"allowPatterns,omitempty" split_words:"true"`
}

// WebToolConfig contains web tool settings.
type WebToolConfig struct {
	Search SearchConfig `json:"search"`
	Fetch  FetchConfig  `json:"fetch"`
}

// SearchConfig contains web search settings.
type SearchConfig struct {
	APIKey     string `json:"apiKey" split_words:"true"`
	MaxResults int    `json:"maxResults" split_words:"true"`
}

// FetchConfig contains web fetch settings.
type FetchConfig struct {
	MaxChars int `json:"maxChars" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Heartbeat & sub-agents
// ---------------------------------------------------------------------------

// HeartbeatConfig controls the periodic HEARTBEAT.md check.
type HeartbeatConfig struct {
	Enabled  bool          `json:"enabled" split_words:"true"`
	Interval time.Duration `json:"interval" split_words:"true"`
}

// SubagentsConfig contains limits for background sub-agents.
type SubagentsConfig struct {
	MaxConcurrent int `json:"maxConcurrent" split_words:"true"`
	MaxIterations int `json:"maxIterations" split_words:"true"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			Workspace: "~/" + ConfigDir + "/workspace",
		},
		Model: ModelConfig{
			Name:              "anthropic/claude-sonnet-4-5",
			MaxTokens:         8192,
			Temperature:       0.7,
			MaxToolIterations: 20,
			HistoryLimit:      50,
		},
		Channels: ChannelsConfig{
			Kafka: KafkaConfig{
				InboundTopic:  "clawlet.inbound",
				OutboundTopic: "clawlet.outbound",
				GroupID:       "clawlet",
			},
		},
		Tools: ToolsConfig{
			Exec: ExecToolConfig{
				Timeout: 60 * time.Second,
			},
			Web: WebToolConfig{
				Search: SearchConfig{MaxResults: 5},
				Fetch:  FetchConfig{MaxChars: 50000},
			},
		},
		Heartbeat: HeartbeatConfig{
			Enabled:  true,
			Interval: 30 * time.Minute,
		},
		Subagents: SubagentsConfig{
			MaxConcurrent: 8,
			MaxIterations: 15,
		},
	}
}

// Validate reports configuration that cannot work, such as an enabled
// channel without credentials.
func (c *Config) Validate() []error {
	var errs []error
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Token == "" {
		errs = append(errs, fmt.Errorf("channels.telegram: token is required"))
	}
	if c.Channels.Slack.Enabled && (c.Channels.Slack.BotToken == "" || c.Channels.Slack.AppToken == "") {
		errs = append(errs, fmt.Errorf("channels.slack: botToken and appToken are required"))
	}
	if c.Channels.Discord.Enabled && c.Channels.Discord.Token == "" {
		errs = append(errs, fmt.Errorf("channels.discord: token is required"))
	}
	if k := c.Channels.Kafka; k.Enabled {
		if len(k.Brokers) == 0 {
			errs = append(errs, fmt.Errorf("channels.kafka: brokers are required"))
		}
		if k.InboundTopic == "" || k.OutboundTopic == "" {
			errs = append(errs, fmt.Errorf("channels.kafka: inboundTopic and outboundTopic are required"))
		}
		switch strings.ToUpper(k.SASLMechanism) {
		case "":
		case "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
			if k.Username == "" {
				errs = append(errs, fmt.Errorf("channels.kafka: saslMechanism needs a username"))
			}
		default:
			errs = append(errs, fmt.Errorf("channels.kafka: unsupported saslMechanism %q", k.SASLMechanism))
		}
	}
	if c.Model.MaxToolIterations <= 0 {
		errs = append(errs, fmt.Errorf("model.maxToolIterations must be positive"))
	}
	return errs
}
