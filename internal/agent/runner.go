package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/KafClaw/clawlet/internal/provider"
	"github.com/KafClaw/clawlet/internal/tools"
)

// runner drives the model/tool iteration shared by the main loop and
// subagents. It holds no per-turn state.
type runner struct {
	provider      provider.LLMProvider
	registry      *tools.Registry
	model         string
	maxTokens     int
	temperature   float64
	maxIterations int
	logPrefix     string
}

// run calls the model until it answers without tool calls or the iteration
// cap is reached. Tool calls run sequentially in the order the model listed
// them. An empty return value means no final answer was produced.
func (r *runner) run(ctx context.Context, messages []provider.Message, origin tools.Origin) (string, error) {
	defs := r.registry.Definitions()

	for i := 0; i < r.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		resp := provider.SafeChat(ctx, r.provider, &provider.ChatRequest{
			Messages:    messages,
			Tools:       defs,
			Model:       r.model,
			MaxTokens:   r.maxTokens,
			Temperature: r.temperature,
		})

		if !resp.HasToolCalls() {
			return resp.Content, nil
		}

		messages = appendAssistant(messages, resp.Content, resp.ToolCalls)
		for _, tc := range resp.ToolCalls {
			slog.Info(r.logPrefix+"Tool call", "tool", tc.Name, "args", argsPreview(tc.Arguments), "iteration", i+1)
			result := r.registry.Execute(ctx, origin, tc.Name, tc.Arguments)
			messages = appendToolResult(messages, tc.ID, tc.Name, result)
			slog.Debug(r.logPrefix+"Tool executed", "tool", tc.Name, "result_length", len(result))
		}
	}

	slog.Warn(r.logPrefix+"Max iterations reached", "max", r.maxIterations)
	return "", nil
}

func appendAssistant(messages []provider.Message, content string, calls []provider.ToolCall) []provider.Message {
	return append(messages, provider.Message{Role: "assistant", Content: content, ToolCalls: calls})
}

func appendToolResult(messages []provider.Message, id, name, result string) []provider.Message {
	return append(messages, provider.Message{Role: "tool", Content: result, ToolCallID: id, Name: name})
}

func argsPreview(args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return truncate(string(data), 200)
}

// truncate cuts s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
