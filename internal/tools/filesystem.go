package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// errOutsideAllowed is returned when a path escapes the configured root.
var errOutsideAllowed = errors.New("path is outside the allowed directory")

// pathResolver resolves tool-supplied paths. Relative paths are taken from
// BaseDir; when AllowedDir is set every resolved path must stay inside it.
type pathResolver struct {
	BaseDir    string
	AllowedDir string
}

func (p pathResolver) resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	if !filepath.IsAbs(path) && p.BaseDir != "" {
		path = filepath.Join(p.BaseDir, path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if p.AllowedDir != "" && !isWithin(expandPath(p.AllowedDir), path) {
		return "", fmt.Errorf("%w: %s", errOutsideAllowed, path)
	}
	return path, nil
}

// ReadFileTool reads the contents of a file.
type ReadFileTool struct {
	paths pathResolver
}

// NewReadFileTool creates a ReadFileTool. baseDir anchors relative paths and
// allowedDir, when non-empty, confines reads.
func NewReadFileTool(baseDir, allowedDir string) *ReadFileTool {
	return &ReadFileTool{paths: pathResolver{BaseDir: baseDir, AllowedDir: allowedDir}}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file at the specified path."
}

func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The path to the file to read",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, _ Origin, params map[string]any) (string, error) {
	path, err := t.paths.resolve(GetString(params, "path", ""))
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("Error: file not found: %s", path), nil
		}
		return fmt.Sprintf("Error reading file: %v", err), nil
	}
	if info.IsDir() {
		return fmt.Sprintf("Error: not a file: %s", path), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsPermission(err) {
			return fmt.Sprintf("Error: permission denied: %s", path), nil
		}
		return fmt.Sprintf("Error reading file: %v", err), nil
	}
	return string(content), nil
}

// WriteFileTool writes content to a file, creating parent directories.
type WriteFileTool struct {
	paths pathResolver
}

// NewWriteFileTool creates a WriteFileTool.
func NewWriteFileTool(baseDir, allowedDir string) *WriteFileTool {
	return &WriteFileTool{paths: pathResolver{BaseDir: baseDir, AllowedDir: allowedDir}}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file at the specified path. Creates parent directories if needed."
}

func (t *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The path to the file to write",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The content to write to the file",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, _ Origin, params map[string]any) (string, error) {
	path, err := t.paths.resolve(GetString(params, "path", ""))
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	content := GetString(params, "content", "")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Sprintf("Error creating directory: %v", err), nil
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		if os.IsPermission(err) {
			return fmt.Sprintf("Error: permission denied: %s", path), nil
		}
		return fmt.Sprintf("Error writing file: %v", err), nil
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}

// EditFileTool replaces one exact occurrence of a text snippet in a file.
type EditFileTool struct {
	paths pathResolver
}

// NewEditFileTool creates an EditFileTool.
func NewEditFileTool(baseDir, allowedDir string) *EditFileTool {
	return &EditFileTool{paths: pathResolver{BaseDir: baseDir, AllowedDir: allowedDir}}
}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Edit a file by replacing old_text with new_text. old_text must match exactly once."
}

func (t *EditFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The path to the file to edit",
			},
			"old_text": map[string]any{
				"type":        "string",
				"description": "The exact text to find and replace",
			},
			"new_text": map[string]any{
				"type":        "string",
				"description": "The replacement text",
			},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, _ Origin, params map[string]any) (string, error) {
	path, err := t.paths.resolve(GetString(params, "path", ""))
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	oldText := GetString(params, "old_text", "")
	newText := GetString(params, "new_text", "")
	if oldText == "" {
		return "Error: old_text must not be empty", nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("Error: file not found: %s", path), nil
		}
		return fmt.Sprintf("Error reading file: %v", err), nil
	}

	text := string(content)
	switch n := strings.Count(text, oldText); {
	case n == 0:
		return fmt.Sprintf("Error: old_text not found in %s. Make sure it matches exactly.", path), nil
	case n > 1:
		return fmt.Sprintf("Warning: old_text appears %d times in %s. Provide more context to make it unique.", n, path), nil
	}

	if err := os.WriteFile(path, []byte(strings.Replace(text, oldText, newText, 1)), 0644); err != nil {
		return fmt.Sprintf("Error writing file: %v", err), nil
	}
	return fmt.Sprintf("Successfully edited %s", path), nil
}

// ListDirTool lists directory contents.
type ListDirTool struct {
	paths pathResolver
}

// NewListDirTool creates a ListDirTool.
func NewListDirTool(baseDir, allowedDir string) *ListDirTool {
	return &ListDirTool{paths: pathResolver{BaseDir: baseDir, AllowedDir: allowedDir}}
}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Description() string {
	return "List the contents of a directory."
}

func (t *ListDirTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The directory path to list",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ListDirTool) Execute(ctx context.Context, _ Origin, params map[string]any) (string, error) {
	path, err := t.paths.resolve(GetString(params, "path", "."))
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("Error: directory not found: %s", path), nil
		}
		if os.IsPermission(err) {
			return fmt.Sprintf("Error: permission denied: %s", path), nil
		}
		return fmt.Sprintf("Error reading directory: %v", err), nil
	}
	if len(entries) == 0 {
		return fmt.Sprintf("Directory %s is empty", path), nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var b strings.Builder
	fmt.Fprintf(&b, "Contents of %s:\n", path)
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&b, "  [DIR]  %s/\n", entry.Name())
			continue
		}
		if info, err := entry.Info(); err == nil {
			fmt.Fprintf(&b, "  [FILE] %s (%d bytes)\n", entry.Name(), info.Size())
		} else {
			fmt.Fprintf(&b, "  [FILE] %s\n", entry.Name())
		}
	}
	return b.String(), nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path
}

func isWithin(root, path string) bool {
	if root == "" {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != ".."
}
