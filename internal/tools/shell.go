package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DefaultDenyPatterns blocks obviously destructive commands.
var DefaultDenyPatterns = []string{
	`\brm\s+-[rf]{1,2}\b`,              // rm -r, rm -rf, rm -fr
	`\bdel\s+/[fq]\b`,                  // del /f, del /q
	`\brmdir\s+/s\b`,                   // rmdir /s
	`\b(format|mkfs|diskpart)\b`,       // disk operations
	`\bdd\s+if=`,                       // dd
	`>\s*/dev/sd`,                      // write to raw disk
	`\b(shutdown|reboot|poweroff)\b`,   // power
	`:\(\)\s*\{.*\};\s*:`,              // fork bomb
	`\bchmod\s+-R\s+777\s+/`,           // world-writable root
	`\bsystemctl\s+(stop|disable)\b`,   // service control
}

const maxExecOutput = 10000

var (
	winPathRe   = regexp.MustCompile(`[A-Za-z]:\\[^\\"']+`)
	posixPathRe = regexp.MustCompile(`/[^\s"']+`)
)

// ExecConfig configures an ExecTool.
type ExecConfig struct {
	Timeout             time.Duration
	WorkingDir          string
	DenyPatterns        []string
	AllowPatterns       []string
	RestrictToWorkspace bool
}

// ExecTool executes shell commands.
type ExecTool struct {
	timeout             time.Duration
	workingDir          string
	restrictToWorkspace bool
	deny                []*regexp.Regexp
	allow               []*regexp.Regexp
}

// NewExecTool creates a new ExecTool. Invalid patterns are skipped.
func NewExecTool(cfg ExecConfig) *ExecTool {
	deny := cfg.DenyPatterns
	if deny == nil {
		deny = DefaultDenyPatterns
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ExecTool{
		timeout:             timeout,
		workingDir:          cfg.WorkingDir,
		restrictToWorkspace: cfg.RestrictToWorkspace,
		deny:                compilePatterns(deny),
		allow:               compilePatterns(cfg.AllowPatterns),
	}
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			out = append(out, re)
		}
	}
	return out
}

func (t *ExecTool) Name() string { return "exec" }

func (t *ExecTool) Description() string {
	return "Execute a shell command and return its output. Use with caution."
}

func (t *ExecTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"working_dir": map[string]any{
				"type":        "string",
				"description": "Optional working directory for the command",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, _ Origin, params map[string]any) (string, error) {
	command := GetString(params, "command", "")
	cwd := GetString(params, "working_dir", "")
	if cwd == "" {
		cwd = t.workingDir
	}
	if cwd == "" {
		cwd, _ = os.Getwd()
	}

	if msg := t.guardCommand(command, cwd); msg != "" {
		return msg, nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = cwd
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("Error: command timed out after %v", t.timeout), nil
	}

	var parts []string
	if stdout.Len() > 0 {
		parts = append(parts, stdout.String())
	}
	if s := stderr.String(); strings.TrimSpace(s) != "" {
		parts = append(parts, "STDERR:\n"+s)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return fmt.Sprintf("Error executing command: %v", err), nil
		}
		parts = append(parts, fmt.Sprintf("\nExit code: %d", exitErr.ExitCode()))
	}

	result := strings.Join(parts, "\n")
	if result == "" {
		return "(no output)", nil
	}
	if len(result) > maxExecOutput {
		result = result[:maxExecOutput] + fmt.Sprintf("\n... (truncated, %d more chars)", len(result)-maxExecOutput)
	}
	return result, nil
}

// guardCommand returns a non-empty message when the command must not run.
func (t *ExecTool) guardCommand(command, cwd string) string {
	cmd := strings.TrimSpace(command)
	lower := strings.ToLower(cmd)

	for _, re := range t.deny {
		if re.MatchString(lower) {
			return "Error: Command blocked by safety guard (dangerous pattern detected)"
		}
	}
	if len(t.allow) > 0 {
		allowed := false
		for _, re := range t.allow {
			if re.MatchString(lower) {
				allowed = true
				break
			}
		}
		if !allowed {
			return "Error: Command blocked by safety guard (not in allowlist)"
		}
	}

	if t.restrictToWorkspace {
		if strings.Contains(cmd, "../") || strings.Contains(cmd, `..\`) {
			return "Error: Command blocked by safety guard (path traversal detected)"
		}
		root := expandPath(cwd)
		candidates := append(winPathRe.FindAllString(cmd, -1), posixPathRe.FindAllString(cmd, -1)...)
		for _, raw := range candidates {
			if !isWithin(root, filepath.Clean(raw)) {
				return "Error: Command blocked by safety guard (path outside working dir)"
			}
		}
	}
	return ""
}
