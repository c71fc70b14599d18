package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// EnvFileCandidates lists the env files Load reads, in order: CLAWLET_ENV_FILE,
// ~/.config/clawlet/env, ~/.clawlet/.env and ./.env.
func EnvFileCandidates() []string {
	candidates := make([]string, 0, 4)
	if explicit := strings.TrimSpace(os.Getenv("CLAWLET_ENV_FILE")); explicit != "" {
		candidates = append(candidates, explicit)
	}
	if home, err := resolveHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".config", "clawlet", "env"),
			filepath.Join(home, ConfigDir, ".env"),
		)
	}
	candidates = append(candidates, ".env")

	seen := map[string]struct{}{}
	out := candidates[:0]
	for _, p := range candidates {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	return out
}

// LoadEnvFileCandidates loads environment variables from the known env
// files. Existing process env vars are never overridden, so the first file
// to set a variable wins. Missing files are skipped.
func LoadEnvFileCandidates() []string {
	var loaded []string
	for _, p := range EnvFileCandidates() {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err == nil {
			loaded = append(loaded, p)
		}
	}
	return loaded
}
