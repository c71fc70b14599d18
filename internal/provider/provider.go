// Package provider implements LLM provider interfaces and clients.
package provider

import (
	"context"
	"fmt"
	"log/slog"
)

// LLMProvider is the interface for LLM API clients.
type LLMProvider interface {
	// Chat sends a completion request and returns the response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// DefaultModel returns the configured default model.
	DefaultModel() string
}

// ChatRequest contains the parameters for a chat completion request.
type ChatRequest struct {
	Messages    []Message
	Tools       []ToolDefinition
	Model       string
	MaxTokens   int
	Temperature float64
}

// ChatResponse contains the response from a chat completion request.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// HasToolCalls reports whether the model asked for tool execution.
func (r *ChatResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Message represents a chat message. When Parts is set it replaces Content
// on the wire, which is how images reach vision models.
type Message struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

// ContentPart is one element of a multi-part user message.
type ContentPart struct {
	Type     string `json:"type"` // "text" or "image_url"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ToolCall represents a tool call from the LLM.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition defines a tool that can be called by the LLM.
type ToolDefinition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes a function that can be called.
type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage contains token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// SafeChat calls the provider and never fails: transport and API errors come
// back as a response whose content describes the error and whose finish
// reason is "error". The agent loop treats it like any final answer.
func SafeChat(ctx context.Context, p LLMProvider, req *ChatRequest) *ChatResponse {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		slog.Error("LLM call failed", "model", req.Model, "error", err)
		return &ChatResponse{
			Content:      fmt.Sprintf("Error calling LLM: %v", err),
			FinishReason: "error",
		}
	}
	if resp == nil {
		return &ChatResponse{FinishReason: "stop"}
	}
	if resp.FinishReason == "" {
		resp.FinishReason = "stop"
	}
	return resp
}
