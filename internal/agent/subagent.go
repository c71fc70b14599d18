package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KafClaw/clawlet/internal/bus"
	"github.com/KafClaw/clawlet/internal/provider"
	"github.com/KafClaw/clawlet/internal/tools"
)

const (
	DefaultSubagentIterations    = 15
	DefaultMaxConcurrentSubagent = 8

	subagentSender   = "subagent"
	labelPreviewLen  = 30
	noSubagentResult = "Task completed but no final response was generated."
)

// SubagentOptions configures a SubagentManager.
type SubagentOptions struct {
	Bus           *bus.MessageBus
	Provider      provider.LLMProvider
	Workspace     string
	Model         string
	MaxTokens     int
	Temperature   float64
	Tools         ToolConfig
	MaxConcurrent int
	MaxIterations int
}

// SubagentManager runs background tasks with their own message history and
// a restricted tool set. Results come back to the main agent as system
// messages on the bus.
type SubagentManager struct {
	opts SubagentOptions
	sem  *Semaphore

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewSubagentManager creates a manager. Runs are bounded by MaxConcurrent.
func NewSubagentManager(opts SubagentOptions) *SubagentManager {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrentSubagent
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultSubagentIterations
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SubagentManager{
		opts:    opts,
		sem:     NewSemaphore(opts.MaxConcurrent),
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]context.CancelFunc),
	}
}

// Spawn starts task in the background and returns an acknowledgment at
// once. The run outlives ctx; it is bound to the manager instead.
func (m *SubagentManager) Spawn(_ context.Context, task, label, originChannel, originChatID string) string {
	if m.ctx.Err() != nil {
		return "Error: subagents are shutting down"
	}
	if !m.sem.TryAcquire() {
		return fmt.Sprintf("Error: too many subagents running (max %d). Try again when one finishes.", m.sem.Cap())
	}

	id := uuid.NewString()[:8]
	if label == "" {
		label = truncate(task, labelPreviewLen)
	}
	if originChannel == "" {
		originChannel, originChatID = "cli", "direct"
	}

	runCtx, cancel := context.WithCancel(m.ctx)
	m.mu.Lock()
	m.running[id] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.sem.Release()
		defer func() {
			m.mu.Lock()
			delete(m.running, id)
			m.mu.Unlock()
			cancel()
		}()
		m.run(runCtx, id, task, label, tools.Origin{Channel: originChannel, ChatID: originChatID})
	}()

	slog.Info("Spawned subagent", "id", id, "label", label)
	return fmt.Sprintf("Subagent [%s] started (id: %s). I'll notify you when it completes.", label, id)
}

// RunningCount returns the number of live runs.
func (m *SubagentManager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// Stop cancels every run and waits for them to finish announcing.
func (m *SubagentManager) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *SubagentManager) run(ctx context.Context, id, task, label string, origin tools.Origin) {
	slog.Info("Subagent starting", "id", id, "label", label)
	started := time.Now()

	result, err := m.execute(ctx, id, task)
	if err != nil {
		slog.Error("Subagent failed", "id", id, "error", err)
		m.announce(id, label, task, "Error: "+err.Error(), origin, false)
		return
	}
	if result == "" {
		result = noSubagentResult
	}
	slog.Info("Subagent completed", "id", id, "duration", time.Since(started).Round(time.Millisecond))
	m.announce(id, label, task, result, origin, true)
}

func (m *SubagentManager) execute(ctx context.Context, id, task string) (result string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Subagent panicked", "id", id, "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	r := &runner{
		provider:      m.opts.Provider,
		registry:      newBaseRegistry(m.opts.Workspace, m.opts.Tools),
		model:         m.opts.Model,
		maxTokens:     m.opts.MaxTokens,
		temperature:   m.opts.Temperature,
		maxIterations: m.opts.MaxIterations,
		logPrefix:     "Subagent ",
	}
	messages := []provider.Message{
		{Role: "system", Content: m.systemPrompt(task)},
		{Role: "user", Content: task},
	}
	// Subagent tools never address a conversation; the origin stays empty.
	return r.run(ctx, messages, tools.Origin{})
}

func (m *SubagentManager) announce(id, label, task, result string, origin tools.Origin, ok bool) {
	status := "completed successfully"
	if !ok {
		status = "failed"
	}
	content := fmt.Sprintf(`[Subagent '%s' %s]

Task: %s

Result:
%s

Summarize this naturally for the user. Keep it brief (1-2 sentences). Do not mention technical details like "subagent" or task IDs.`,
		label, status, task, result)

	m.opts.Bus.PublishInbound(&bus.InboundMessage{
		Channel:   bus.SystemChannel,
		SenderID:  subagentSender,
		ChatID:    bus.JoinOrigin(origin.Channel, origin.ChatID),
		Content:   content,
		Timestamp: time.Now(),
	})
	slog.Debug("Subagent announced result", "id", id, "origin", bus.JoinOrigin(origin.Channel, origin.ChatID))
}

func (m *SubagentManager) systemPrompt(task string) string {
	return fmt.Sprintf(`# Subagent

You are a subagent spawned by the main agent to complete a specific task.

## Your Task
%s

## Rules
1. Stay focused. Complete only the assigned task, nothing else.
2. Your final response will be reported back to the main agent.
3. Do not initiate conversations or take on side tasks.
4. Be concise but informative in your findings.

## What You Can Do
- Read and write files in the workspace
- Execute shell commands
- Search the web and fetch web pages
- Complete the task thoroughly

## What You Cannot Do
- Send messages directly to users (no message tool available)
- Spawn other subagents
- Access the main agent's conversation history

## Workspace
Your workspace is at: %s

When you have completed the task, provide a clear summary of your findings or actions.`, task, m.opts.Workspace)
}
