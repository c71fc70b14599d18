package agent

import (
	"github.com/KafClaw/clawlet/internal/tools"
)

// ToolConfig configures the built-in tools shared by the main agent and
// its subagents.
type ToolConfig struct {
	BraveAPIKey         string
	SearchMaxResults    int
	FetchMaxChars       int
	Exec                tools.ExecConfig
	RestrictToWorkspace bool
}

// newBaseRegistry registers the file, shell and web tools rooted at
// workspace.
func newBaseRegistry(workspace string, cfg ToolConfig) *tools.Registry {
	allowed := ""
	if cfg.RestrictToWorkspace {
		allowed = workspace
	}
	execCfg := cfg.Exec
	if execCfg.WorkingDir == "" {
		execCfg.WorkingDir = workspace
	}
	execCfg.RestrictToWorkspace = execCfg.RestrictToWorkspace || cfg.RestrictToWorkspace

	reg := tools.NewRegistry()
	reg.Register(tools.NewReadFileTool(workspace, allowed))
	reg.Register(tools.NewWriteFileTool(workspace, allowed))
	reg.Register(tools.NewEditFileTool(workspace, allowed))
	reg.Register(tools.NewListDirTool(workspace, allowed))
	reg.Register(tools.NewExecTool(execCfg))
	reg.Register(tools.NewWebSearchTool(cfg.BraveAPIKey, cfg.SearchMaxResults))
	reg.Register(tools.NewWebFetchTool(cfg.FetchMaxChars))
	return reg
}
