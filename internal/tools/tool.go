// Package tools provides the tool framework and implementations for the agent.
package tools

import (
	"context"

	"github.com/KafClaw/clawlet/internal/provider"
)

// Origin identifies the conversation a tool call belongs to. The loop passes
// it to every execution so tools never carry per-turn state of their own.
type Origin struct {
	Channel string
	ChatID  string
}

// IsZero reports whether no origin was supplied.
func (o Origin) IsZero() bool {
	return o.Channel == "" && o.ChatID == ""
}

// Tool is the interface that all agent tools must implement.
type Tool interface {
	// Name returns the tool identifier used in function calls.
	Name() string
	// Description returns a human-readable description for the LLM.
	Description() string
	// Parameters returns the JSON Schema for tool parameters.
	Parameters() map[string]any
	// Execute runs the tool with already validated parameters.
	// Recoverable problems are reported in the result string; a non-nil error
	// is reported by the registry as "Error executing <name>: <err>".
	Execute(ctx context.Context, origin Origin, params map[string]any) (string, error)
}

// Definition renders a tool in the OpenAI function-calling format.
func Definition(t Tool) provider.ToolDefinition {
	return provider.ToolDefinition{
		Type: "function",
		Function: provider.FunctionDef{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// GetString extracts a string parameter with a default value.
func GetString(params map[string]any, key string, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt extracts an int parameter with a default value.
func GetInt(params map[string]any, key string, defaultVal int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return defaultVal
}
