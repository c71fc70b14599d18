package channels

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/KafClaw/clawlet/internal/bus"
	"github.com/KafClaw/clawlet/internal/config"
	"github.com/KafClaw/clawlet/internal/session"
)

const (
	outboundPoll = time.Second
	sendTimeout  = 30 * time.Second
)

// Manager owns the enabled channels and routes outbound messages to them.
type Manager struct {
	bus *bus.MessageBus

	mu       sync.RWMutex
	channels map[string]Channel
	started  []Channel

	cancel context.CancelFunc
	done   chan struct{}
}

// ManagerOption hands shared services to the channels that use them.
type ManagerOption func(*managerDeps)

type managerDeps struct {
	transcriber Transcriber
	sessions    *session.Manager
}

// WithTranscriber enables voice note transcription on Telegram and WhatsApp.
func WithTranscriber(t Transcriber) ManagerOption {
	return func(d *managerDeps) { d.transcriber = t }
}

// WithSessions lets channels with a reset command clear conversation history.
func WithSessions(s *session.Manager) ManagerOption {
	return func(d *managerDeps) { d.sessions = s }
}

// NewManager builds every enabled channel from cfg.
func NewManager(cfg config.ChannelsConfig, messageBus *bus.MessageBus, opts ...ManagerOption) *Manager {
	var deps managerDeps
	for _, o := range opts {
		o(&deps)
	}

	m := &Manager{bus: messageBus, channels: make(map[string]Channel)}
	if cfg.Telegram.Enabled {
		m.Register(NewTelegramChannel(cfg.Telegram, messageBus, deps.sessions, deps.transcriber))
	}
	if cfg.Slack.Enabled {
		m.Register(NewSlackChannel(cfg.Slack, messageBus))
	}
	if cfg.Discord.Enabled {
		m.Register(NewDiscordChannel(cfg.Discord, messageBus))
	}
	if cfg.WhatsApp.Enabled {
		wa := NewWhatsAppChannel(cfg.WhatsApp, messageBus)
		wa.transcriber = deps.transcriber
		m.Register(wa)
	}
	if cfg.Kafka.Enabled {
		m.Register(NewKafkaChannel(cfg.Kafka, messageBus))
	}
	return m
}

// Register adds or replaces a channel.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Get returns a channel by name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Names lists the registered channels in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for n := range m.channels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// StartAll starts every channel and the outbound dispatcher. A channel that
// fails to start is logged and skipped.
func (m *Manager) StartAll(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	var started []Channel
	for _, name := range m.Names() {
		ch, _ := m.Get(name)
		if err := ch.Start(runCtx); err != nil {
			slog.Error("Failed to start channel", "channel", name, "error", err)
			continue
		}
		slog.Info("Channel started", "channel", name)
		started = append(started, ch)
	}

	m.mu.Lock()
	m.started = started
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.dispatch(runCtx, done)
}

// StopAll stops the dispatcher and every started channel.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	cancel, done, started := m.cancel, m.done, m.started
	m.cancel, m.done, m.started = nil, nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	var errs []error
	for _, ch := range started {
		if err := ch.Stop(); err != nil {
			slog.Warn("Channel stop failed", "channel", ch.Name(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) dispatch(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		waitCtx, cancel := context.WithTimeout(ctx, outboundPoll)
		msg, err := m.bus.ConsumeOutbound(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		m.route(ctx, msg)
	}
}

func (m *Manager) route(ctx context.Context, msg *bus.OutboundMessage) {
	ch, ok := m.Get(msg.Channel)
	if !ok {
		slog.Warn("Outbound message for unknown channel", "channel", msg.Channel, "chat_id", msg.ChatID)
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := ch.Send(sendCtx, msg); err != nil {
		slog.Error("Failed to send outbound message", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
	}
}

// Status describes one configured channel for `channels status`.
type Status struct {
	Name       string
	Enabled    bool
	Configured bool
	Detail     string
}

// Describe reports each known channel's configuration without connecting.
func Describe(cfg config.ChannelsConfig) []Status {
	return []Status{
		{
			Name:       "telegram",
			Enabled:    cfg.Telegram.Enabled,
			Configured: cfg.Telegram.Token != "",
			Detail:     "long polling",
		},
		{
			Name:       "slack",
			Enabled:    cfg.Slack.Enabled,
			Configured: cfg.Slack.BotToken != "" && cfg.Slack.AppToken != "",
			Detail:     "socket mode",
		},
		{
			Name:       "discord",
			Enabled:    cfg.Discord.Enabled,
			Configured: cfg.Discord.Token != "",
			Detail:     "gateway",
		},
		{
			Name:       "whatsapp",
			Enabled:    cfg.WhatsApp.Enabled,
			Configured: true,
			Detail:     "paired via QR code on first start",
		},
		{
			Name:       "kafka",
			Enabled:    cfg.Kafka.Enabled,
			Configured: len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.InboundTopic != "" && cfg.Kafka.OutboundTopic != "",
			Detail:     cfg.Kafka.InboundTopic + " -> " + cfg.Kafka.OutboundTopic,
		},
	}
}
