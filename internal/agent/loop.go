// Package agent implements the core agent loop.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/KafClaw/clawlet/internal/bus"
	"github.com/KafClaw/clawlet/internal/provider"
	"github.com/KafClaw/clawlet/internal/session"
	"github.com/KafClaw/clawlet/internal/tools"
)

const (
	DefaultMaxIterations = 20
	defaultMaxTokens     = 8192
	defaultTemperature   = 0.7

	noResponseFallback     = "I've completed processing but have no response to give."
	backgroundTaskFallback = "Background task completed."
)

// inboundPoll bounds how long Run waits for a message before re-checking Stop.
var inboundPoll = time.Second

// LoopOptions contains configuration for the agent loop.
type LoopOptions struct {
	Bus           *bus.MessageBus
	Provider      provider.LLMProvider
	Sessions      *session.Manager
	Workspace     string
	BuiltinSkills string
	Model         string
	MaxTokens     int
	Temperature   float64
	MaxIterations int
	HistoryLimit  int
	Tools         ToolConfig
	// Cron enables the cron tool when set.
	Cron tools.CronManager
	// MaxSubagents caps concurrently running subagents.
	MaxSubagents int
	// SubagentIterations caps each subagent's tool loop.
	SubagentIterations int
}

// Loop is the core agent processing engine.
type Loop struct {
	bus          *bus.MessageBus
	sessions     *session.Manager
	context      *ContextBuilder
	registry     *tools.Registry
	subagents    *SubagentManager
	runner       *runner
	historyLimit int
	running      atomic.Bool
}

// NewLoop creates a new agent loop and registers the default tools.
func NewLoop(opts LoopOptions) (*Loop, error) {
	if opts.Bus == nil || opts.Provider == nil {
		return nil, fmt.Errorf("agent loop needs a bus and a provider")
	}
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}
	model := opts.Model
	if model == "" {
		model = opts.Provider.DefaultModel()
	}
	history := opts.HistoryLimit
	if history <= 0 {
		history = session.DefaultHistory
	}

	ctxBuilder := NewContextBuilder(opts.Workspace, opts.BuiltinSkills)
	sessions := opts.Sessions
	if sessions == nil {
		var err error
		sessions, err = session.NewManager(filepath.Join(ctxBuilder.Workspace(), "sessions"))
		if err != nil {
			return nil, err
		}
	}

	l := &Loop{
		bus:          opts.Bus,
		sessions:     sessions,
		context:      ctxBuilder,
		historyLimit: history,
		subagents: NewSubagentManager(SubagentOptions{
			Bus:           opts.Bus,
			Provider:      opts.Provider,
			Workspace:     ctxBuilder.Workspace(),
			Model:         model,
			MaxTokens:     maxTokens,
			Temperature:   temperature,
			Tools:         opts.Tools,
			MaxConcurrent: opts.MaxSubagents,
			MaxIterations: opts.SubagentIterations,
		}),
	}
	l.registry = l.buildRegistry(opts)
	l.runner = &runner{
		provider:      opts.Provider,
		registry:      l.registry,
		model:         model,
		maxTokens:     maxTokens,
		temperature:   temperature,
		maxIterations: maxIter,
	}
	return l, nil
}

func (l *Loop) buildRegistry(opts LoopOptions) *tools.Registry {
	reg := newBaseRegistry(l.context.Workspace(), opts.Tools)
	reg.Register(tools.NewMessageTool(tools.BusSender(l.bus)))
	reg.Register(tools.NewSpawnTool(func(ctx context.Context, req tools.SpawnRequest) string {
		return l.subagents.Spawn(ctx, req.Task, req.Label, req.Origin.Channel, req.Origin.ChatID)
	}))
	if opts.Cron != nil {
		reg.Register(tools.NewCronTool(opts.Cron))
	}
	return reg
}

// Registry returns the main agent's tool registry.
func (l *Loop) Registry() *tools.Registry { return l.registry }

// Sessions returns the session manager.
func (l *Loop) Sessions() *session.Manager { return l.sessions }

// Subagents returns the subagent manager.
func (l *Loop) Subagents() *SubagentManager { return l.subagents }

// Context returns the context builder.
func (l *Loop) Context() *ContextBuilder { return l.context }

// Model returns the model used for main-agent turns.
func (l *Loop) Model() string { return l.runner.model }

// Run consumes inbound messages until ctx is done or Stop is called. One
// failing message never stops the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.running.Store(true)
	slog.Info("Agent loop started", "model", l.runner.model, "tools", l.registry.Len())

	for l.running.Load() {
		pollCtx, cancel := context.WithTimeout(ctx, inboundPoll)
		msg, err := l.bus.ConsumeInbound(pollCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		if out := l.handle(ctx, msg); out != nil {
			l.bus.PublishOutbound(out)
		}
	}

	slog.Info("Agent loop stopped")
	return nil
}

// Stop signals Run to return after the current poll.
func (l *Loop) Stop() {
	l.running.Store(false)
	l.subagents.Stop()
}

// ProcessDirect runs one turn outside the bus, for the CLI, cron and
// heartbeat. Empty channel and chat id default to "cli" and "direct"; an
// empty session key defaults to "channel:chat_id".
func (l *Loop) ProcessDirect(ctx context.Context, content, sessionKey, channel, chatID string) (string, error) {
	if channel == "" {
		channel = "cli"
	}
	if chatID == "" {
		chatID = "direct"
	}
	msg := &bus.InboundMessage{
		Channel:   channel,
		SenderID:  "user",
		ChatID:    chatID,
		Content:   content,
		Timestamp: time.Now(),
	}
	if sessionKey == "" {
		sessionKey = msg.SessionKey()
	}
	out, err := l.processUser(ctx, msg, sessionKey)
	if err != nil {
		return "", err
	}
	return out.Content, nil
}

// handle processes one bus message and converts failures and panics into an
// apology addressed to the message origin.
func (l *Loop) handle(ctx context.Context, msg *bus.InboundMessage) (out *bus.OutboundMessage) {
	channel, chatID := msg.Channel, msg.ChatID
	if msg.IsSystem() {
		channel, chatID = bus.SplitOrigin(msg.ChatID)
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Panic while processing message", "channel", channel, "chat_id", chatID, "panic", rec, "stack", string(debug.Stack()))
			out = apology(channel, chatID, fmt.Errorf("%v", rec))
		}
	}()

	var err error
	if msg.IsSystem() {
		out, err = l.processSystem(ctx, msg)
	} else {
		out, err = l.processUser(ctx, msg, msg.SessionKey())
	}
	if err != nil {
		slog.Error("Failed to process message", "channel", channel, "chat_id", chatID, "error", err)
		return apology(channel, chatID, err)
	}
	return out
}

func apology(channel, chatID string, err error) *bus.OutboundMessage {
	return &bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: fmt.Sprintf("Sorry, I encountered an error: %v", err),
	}
}

func (l *Loop) processUser(ctx context.Context, msg *bus.InboundMessage, sessionKey string) (*bus.OutboundMessage, error) {
	slog.Info("Processing message", "channel", msg.Channel, "sender", msg.SenderID, "preview", truncate(msg.Content, 80))

	sess := l.sessions.GetOrCreate(sessionKey)
	messages := l.context.BuildMessages(sess.History(l.historyLimit), msg.Content, msg.Media, msg.Channel, msg.ChatID)

	final, err := l.runner.run(ctx, messages, tools.Origin{Channel: msg.Channel, ChatID: msg.ChatID})
	if err != nil {
		return nil, err
	}
	if final == "" {
		final = noResponseFallback
	}
	slog.Info("Response ready", "channel", msg.Channel, "sender", msg.SenderID, "preview", truncate(final, 120))

	l.record(sess, msg.Content, final)
	return &bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: final}, nil
}

// processSystem handles internally generated turns such as subagent
// announcements. The reply goes to the conversation encoded in ChatID.
func (l *Loop) processSystem(ctx context.Context, msg *bus.InboundMessage) (*bus.OutboundMessage, error) {
	channel, chatID := bus.SplitOrigin(msg.ChatID)
	slog.Info("Processing system message", "sender", msg.SenderID, "origin", channel+":"+chatID)

	sess := l.sessions.GetOrCreate(bus.JoinOrigin(channel, chatID))
	messages := l.context.BuildMessages(sess.History(l.historyLimit), msg.Content, nil, channel, chatID)

	final, err := l.runner.run(ctx, messages, tools.Origin{Channel: channel, ChatID: chatID})
	if err != nil {
		return nil, err
	}
	if final == "" {
		final = backgroundTaskFallback
	}

	l.record(sess, fmt.Sprintf("[System: %s] %s", msg.SenderID, msg.Content), final)
	return &bus.OutboundMessage{Channel: channel, ChatID: chatID, Content: final}, nil
}

// record appends a completed turn and persists the session. A failed save
// is logged; the reply is still delivered.
func (l *Loop) record(sess *session.Session, user, assistant string) {
	sess.AddMessage("user", user)
	sess.AddMessage("assistant", assistant)
	if err := l.sessions.Save(sess); err != nil {
		slog.Error("Failed to save session", "session", sess.Key, "error", err)
	}
}
