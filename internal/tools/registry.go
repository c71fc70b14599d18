package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/KafClaw/clawlet/internal/provider"
)

// Registry manages tool registration and execution.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry, replacing any tool with the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.tools)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns tool definitions in OpenAI format, sorted by name.
func (r *Registry) Definitions() []provider.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]provider.ToolDefinition, 0, len(r.tools))
	for _, name := range sortedKeys(r.tools) {
		result = append(result, Definition(r.tools[name]))
	}
	return result
}

// Execute validates params and runs the named tool. It never returns an
// error: unknown tools, invalid parameters, tool failures and panics are all
// reported as the result string so the model can react to them.
func (r *Registry) Execute(ctx context.Context, origin Origin, name string, params map[string]any) (result string) {
	tool, ok := r.Get(name)
	if !ok {
		return fmt.Sprintf("Error: Tool '%s' not found", name)
	}

	if errs := Validate(params, tool.Parameters()); len(errs) > 0 {
		return fmt.Sprintf("Error: Invalid parameters for tool '%s': %s", name, strings.Join(errs, "; "))
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Tool panicked", "tool", name, "panic", rec)
			result = fmt.Sprintf("Error executing %s: %v", name, rec)
		}
	}()

	out, err := tool.Execute(ctx, origin, params)
	if err != nil {
		return fmt.Sprintf("Error executing %s: %v", name, err)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
