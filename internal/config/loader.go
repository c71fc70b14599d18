package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the data directory name under the user's home.
	ConfigDir = ".clawlet"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "CLAWLET"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("CLAWLET_CONFIG")); explicit != "" {
		return ExpandHome(explicit)
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFile), nil
}

// DataDir returns ~/.clawlet, honouring CLAWLET_HOME as the home directory.
func DataDir() (string, error) {
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir), nil
}

// CronStorePath returns the scheduler's job store.
func CronStorePath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cron", "jobs.json"), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("CLAWLET_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	return os.UserHomeDir()
}

// ExpandHome replaces a leading "~" with the resolved home directory.
func ExpandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, p[1:]), nil
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults. Env files are read first and
// never override variables that are already set.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyProviderKeyFallbacks(cfg)

	if err := normalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFrom reads one file over the defaults, without env files or
// environment overrides.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	if err := normalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := loadResolvedConfig(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays CLAWLET_<GROUP>_<FIELD> variables group by group.
// Field names are split on word boundaries: MaxTokens reads
// CLAWLET_MODEL_MAX_TOKENS.
func applyEnv(cfg *Config) error {
	groups := []struct {
		prefix string
		spec   any
	}{
		{"PATHS", &cfg.Paths},
		{"MODEL", &cfg.Model},
		{"CHANNELS_TELEGRAM", &cfg.Channels.Telegram},
		{"CHANNELS_SLACK", &cfg.Channels.Slack},
		{"CHANNELS_DISCORD", &cfg.Channels.Discord},
		{"CHANNELS_WHATSAPP", &cfg.Channels.WhatsApp},
		{"CHANNELS_KAFKA", &cfg.Channels.Kafka},
		{"TOOLS_EXEC", &cfg.Tools.Exec},
		{"TOOLS_WEB_SEARCH", &cfg.Tools.Web.Search},
		{"TOOLS_WEB_FETCH", &cfg.Tools.Web.Fetch},
		{"HEARTBEAT", &cfg.Heartbeat},
		{"SUBAGENTS", &cfg.Subagents},
	}
	for _, g := range groups {
		if err := envconfig.Process(EnvPrefix+"_"+g.prefix, g.spec); err != nil {
			return fmt.Errorf("env %s_%s: %w", EnvPrefix, g.prefix, err)
		}
	}
	for name, p := range cfg.Providers.ByName() {
		prefix := EnvPrefix + "_PROVIDERS_" + strings.ToUpper(name)
		if err := envconfig.Process(prefix, p); err != nil {
			return fmt.Errorf("env %s: %w", prefix, err)
		}
	}
	return nil
}

// applyProviderKeyFallbacks fills empty provider keys from the conventional
// <NAME>_API_KEY variables, e.g. OPENROUTER_API_KEY.
func applyProviderKeyFallbacks(cfg *Config) {
	for name, p := range cfg.Providers.ByName() {
		if p.APIKey != "" {
			continue
		}
		if key := os.Getenv(strings.ToUpper(name) + "_API_KEY"); key != "" {
			p.APIKey = key
		}
	}
	if cfg.Tools.Web.Search.APIKey == "" {
		cfg.Tools.Web.Search.APIKey = os.Getenv("BRAVE_API_KEY")
	}
}

func normalize(cfg *Config) error {
	def := DefaultConfig()

	for _, p := range []*string{&cfg.Paths.Workspace, &cfg.Paths.BuiltinSkills, &cfg.Channels.WhatsApp.StorePath, &cfg.Channels.WhatsApp.QRPath, &cfg.Channels.Kafka.CAFile} {
		expanded, err := ExpandHome(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	if cfg.Paths.Workspace == "" {
		ws, err := ExpandHome(def.Paths.Workspace)
		if err != nil {
			return err
		}
		cfg.Paths.Workspace = ws
	}

	if cfg.Model.MaxTokens <= 0 {
		cfg.Model.MaxTokens = def.Model.MaxTokens
	}
	if cfg.Model.HistoryLimit <= 0 {
		cfg.Model.HistoryLimit = def.Model.HistoryLimit
	}
	if cfg.Tools.Exec.Timeout <= 0 {
		cfg.Tools.Exec.Timeout = def.Tools.Exec.Timeout
	}
	if cfg.Tools.Web.Search.MaxResults <= 0 {
		cfg.Tools.Web.Search.MaxResults = def.Tools.Web.Search.MaxResults
	}
	if cfg.Tools.Web.Fetch.MaxChars <= 0 {
		cfg.Tools.Web.Fetch.MaxChars = def.Tools.Web.Fetch.MaxChars
	}
	if cfg.Heartbeat.Interval <= 0 {
		cfg.Heartbeat.Interval = def.Heartbeat.Interval
	}
	if cfg.Subagents.MaxConcurrent <= 0 {
		cfg.Subagents.MaxConcurrent = def.Subagents.MaxConcurrent
	}
	if cfg.Subagents.MaxIterations <= 0 {
		cfg.Subagents.MaxIterations = def.Subagents.MaxIterations
	}
	return nil
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(path, cfg)
}

// SaveTo writes the configuration to path with owner-only permissions.
func SaveTo(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return err
	}
	slog.Debug("Config saved", "path", path)
	return nil
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func loadResolvedConfig(path string) ([]byte, error) {
	obj, err := loadConfigObject(path, map[string]struct{}{})
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

// loadConfigObject reads path, merges its "$include" files underneath it and
// substitutes ${VAR} references in string values.
func loadConfigObject(path string, visited map[string]struct{}) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, seen := visited[absPath]; seen {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	visited[absPath] = struct{}{}
	defer delete(visited, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}

	merged := map[string]any{}
	if includeRaw, ok := raw["$include"]; ok {
		includeFiles, err := parseIncludes(includeRaw)
		if err != nil {
			return nil, err
		}
		baseDir := filepath.Dir(absPath)
		for _, includePath := range includeFiles {
			resolvedPath := includePath
			if !filepath.IsAbs(includePath) {
				resolvedPath = filepath.Join(baseDir, includePath)
			}
			child, err := loadConfigObject(resolvedPath, visited)
			if err != nil {
				return nil, err
			}
			deepMerge(merged, child)
		}
	}
	delete(raw, "$include")
	substituteEnvValues(raw)
	deepMerge(merged, raw)
	return merged, nil
}

func parseIncludes(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("$include entries must be strings")
			}
			if strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("$include must be a string or array of strings")
	}
}

func deepMerge(dst, src map[string]any) {
	for key, val := range src {
		srcMap, srcIsMap := val.(map[string]any)
		if !srcIsMap {
			dst[key] = val
			continue
		}
		dstMap, ok := dst[key].(map[string]any)
		if !ok {
			dstMap = map[string]any{}
			dst[key] = dstMap
		}
		deepMerge(dstMap, srcMap)
	}
}

// substituteEnvValues replaces ${VAR} with the variable's value. Unset
// variables are left as written.
func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
		return t
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(match string) string {
			name := envPattern.FindStringSubmatch(match)[1]
			if value, ok := os.LookupEnv(name); ok {
				return value
			}
			return match
		})
	default:
		return v
	}
}
