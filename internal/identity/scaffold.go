package identity

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ScaffoldResult lists template names by outcome.
type ScaffoldResult struct {
	Created []string
	Skipped []string
	Errors  []string
}

var workspaceDirs = []string{"memory", "skills", "sessions"}

// ScaffoldWorkspace prepares a workspace: the memory, skills and sessions
// directories plus every template. Files already present are kept unless
// force is set. Per-file failures are collected in Errors; only a workspace
// that cannot be created is an error.
func ScaffoldWorkspace(workspace string, force bool) (*ScaffoldResult, error) {
	for _, dir := range append([]string{""}, workspaceDirs...) {
		if err := os.MkdirAll(filepath.Join(workspace, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create workspace: %w", err)
		}
	}

	res := &ScaffoldResult{}
	for _, name := range TemplateNames {
		created, err := writeTemplate(workspace, name, force)
		switch {
		case err != nil:
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", name, err))
		case created:
			res.Created = append(res.Created, name)
		default:
			res.Skipped = append(res.Skipped, name)
		}
	}
	return res, nil
}

func writeTemplate(workspace, name string, force bool) (bool, error) {
	dst := filepath.Join(workspace, filepath.FromSlash(name))
	if !force {
		if _, err := os.Stat(dst); err == nil {
			return false, nil
		}
	}
	data, err := Template(name)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, err
	}
	return true, os.WriteFile(dst, data, 0o644)
}

// MissingFiles returns the templates that do not exist in workspace.
func MissingFiles(workspace string) []string {
	var missing []string
	for _, name := range TemplateNames {
		_, err := os.Stat(filepath.Join(workspace, filepath.FromSlash(name)))
		if errors.Is(err, fs.ErrNotExist) {
			missing = append(missing, name)
		}
	}
	return missing
}
