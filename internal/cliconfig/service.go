package cliconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/KafClaw/clawlet/internal/config"
)

const redacted = "********"

// secretKeys name the fields Get masks unless reveal is set.
var secretKeys = map[string]bool{
	"apiKey":   true,
	"botToken": true,
	"appToken": true,
	"password": true,
	"token":    true,
}

// Get returns the effective value at path: defaults, file, env files and
// environment all applied. Credentials are masked unless reveal is set.
func Get(path string, reveal bool) (any, error) {
	p, err := parseKeyPath(path)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	var tree any
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}

	val, ok := p.lookup(tree)
	if !ok {
		return nil, fmt.Errorf("path not found: %s", path)
	}
	if reveal {
		return val, nil
	}
	if s, isString := val.(string); isString && s != "" && secretKeys[p.leafKey()] {
		return redacted, nil
	}
	return mask(val), nil
}

func mask(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			if s, ok := item.(string); ok && s != "" && secretKeys[k] {
				t[k] = redacted
			} else {
				t[k] = mask(item)
			}
		}
	case []any:
		for i, item := range t {
			t[i] = mask(item)
		}
	}
	return v
}

// Set stores a value at path in the config file. The value is parsed as
// JSON when possible and kept as a string otherwise. The edited file must
// still decode into a Config, so a string where a number belongs is
// rejected before anything is written.
func Set(path, rawValue string) error {
	p, err := parseKeyPath(path)
	if err != nil {
		return err
	}
	return editFile(func(root map[string]any) (map[string]any, error) {
		updated, ok := p.assign(root, parseValue(rawValue)).(map[string]any)
		if !ok {
			return nil, fmt.Errorf("set %s: config root must stay an object", path)
		}
		if err := checkDecodes(updated); err != nil {
			return nil, fmt.Errorf("set %s: %w", path, err)
		}
		return updated, nil
	})
}

// Unset removes the value at path from the config file, so the default
// applies again.
func Unset(path string) error {
	p, err := parseKeyPath(path)
	if err != nil {
		return err
	}
	return editFile(func(root map[string]any) (map[string]any, error) {
		updated, removed := p.remove(root)
		if !removed {
			return nil, fmt.Errorf("path not found: %s", path)
		}
		return updated.(map[string]any), nil
	})
}

// editFile applies fn to the raw config file (not the effective config, so
// env overrides and defaults are never persisted) and writes the result
// with owner-only permissions.
func editFile(fn func(map[string]any) (map[string]any, error)) error {
	cfgPath, err := config.ConfigPath()
	if err != nil {
		return err
	}
	root := map[string]any{}
	data, err := os.ReadFile(cfgPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return err
	default:
		if err := json.Unmarshal(data, &root); err != nil {
			return fmt.Errorf("parse %s: %w", cfgPath, err)
		}
		if root == nil {
			root = map[string]any{}
		}
	}

	root, err = fn(root)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o700); err != nil {
		return err
	}
	out, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cfgPath, out, 0o600)
}

func checkDecodes(m map[string]any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, config.DefaultConfig())
}
