package tools

import (
	"context"
	"strings"
)

// SpawnRequest describes a background task handed to a sub-agent.
type SpawnRequest struct {
	Task   string
	Label  string
	Origin Origin
}

// SpawnFunc launches a sub-agent and returns its acknowledgment text without
// waiting for the task to finish.
type SpawnFunc func(ctx context.Context, req SpawnRequest) string

// SpawnTool lets the main agent delegate work to a background sub-agent.
// Completion is reported back to the originating conversation.
type SpawnTool struct {
	spawn SpawnFunc
}

// NewSpawnTool creates a SpawnTool backed by spawnFn.
func NewSpawnTool(spawnFn SpawnFunc) *SpawnTool {
	return &SpawnTool{spawn: spawnFn}
}

func (t *SpawnTool) Name() string { return "spawn" }

func (t *SpawnTool) Description() string {
	return "Spawn a subagent to handle a task in the background. " +
		"Use this for complex or time-consuming tasks that can run independently. " +
		"The subagent will complete the task and report back when done."
}

func (t *SpawnTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task": map[string]any{
				"type":        "string",
				"description": "The task for the subagent to complete",
			},
			"label": map[string]any{
				"type":        "string",
				"description": "Optional short label for the task (for display)",
			},
		},
		"required": []string{"task"},
	}
}

func (t *SpawnTool) Execute(ctx context.Context, origin Origin, params map[string]any) (string, error) {
	if t.spawn == nil {
		return "Error: subagents are not available", nil
	}
	if origin.IsZero() {
		origin = Origin{Channel: "cli", ChatID: "direct"}
	}
	return t.spawn(ctx, SpawnRequest{
		Task:   GetString(params, "task", ""),
		Label:  strings.TrimSpace(GetString(params, "label", "")),
		Origin: origin,
	}), nil
}
