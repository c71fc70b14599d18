// Package channels connects chat platforms to the message bus.
package channels

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/KafClaw/clawlet/internal/bus"
)

// Channel defines the interface for chat platforms (Slack, WhatsApp, etc).
type Channel interface {
	// Name returns the channel name (e.g. "slack").
	Name() string
	// Start connects and begins listening. It returns once the listener runs.
	Start(ctx context.Context) error
	// Stop disconnects the channel.
	Stop() error
	// Send sends a message to a specific chat.
	Send(ctx context.Context, msg *bus.OutboundMessage) error
}

// BaseChannel provides the allowlist and inbound publishing shared by all
// channels.
type BaseChannel struct {
	Bus       *bus.MessageBus
	name      string
	allowFrom []string
}

// NewBaseChannel creates a BaseChannel. An empty allowFrom admits everyone.
func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	return BaseChannel{Bus: b, name: name, allowFrom: allowFrom}
}

// IsAllowed reports whether senderID may talk to the agent. Sender ids may
// carry several identities joined by "|" (e.g. "U123|alice"); any of them
// matching an allowlist entry is enough.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	allowed := make(map[string]bool, len(c.allowFrom))
	for _, a := range c.allowFrom {
		allowed[strings.TrimSpace(a)] = true
	}
	if allowed[senderID] {
		return true
	}
	for _, part := range strings.Split(senderID, "|") {
		if part != "" && allowed[part] {
			return true
		}
	}
	return false
}

// HandleMessage publishes an inbound message unless the sender is not
// allowed. It reports whether the message was published.
func (c *BaseChannel) HandleMessage(senderID, chatID, content string, media []string, metadata map[string]any) bool {
	if !c.IsAllowed(senderID) {
		slog.Warn("Access denied", "channel", c.name, "sender", senderID)
		return false
	}
	c.Bus.PublishInbound(&bus.InboundMessage{
		Channel:   c.name,
		SenderID:  senderID,
		ChatID:    chatID,
		Content:   content,
		Timestamp: time.Now(),
		Media:     media,
		Metadata:  metadata,
	})
	return true
}
