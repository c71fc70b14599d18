package tools

import (
	"context"
	"fmt"

	"github.com/KafClaw/clawlet/internal/bus"
)

// MessageTool sends a message to a chat channel in the middle of a turn.
type MessageTool struct {
	send func(ctx context.Context, msg *bus.OutboundMessage) error
}

// NewMessageTool creates a MessageTool that hands messages to send.
func NewMessageTool(send func(ctx context.Context, msg *bus.OutboundMessage) error) *MessageTool {
	return &MessageTool{send: send}
}

// BusSender adapts a message bus to the MessageTool send signature.
func BusSender(b *bus.MessageBus) func(context.Context, *bus.OutboundMessage) error {
	return func(_ context.Context, msg *bus.OutboundMessage) error {
		b.PublishOutbound(msg)
		return nil
	}
}

func (t *MessageTool) Name() string { return "message" }

func (t *MessageTool) Description() string {
	return "Send a message to the user. Use this when you want to communicate something."
}

func (t *MessageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "The message content to send",
			},
			"channel": map[string]any{
				"type":        "string",
				"description": "Optional: target channel (slack, discord, whatsapp, ...)",
			},
			"chat_id": map[string]any{
				"type":        "string",
				"description": "Optional: target chat/user ID",
			},
		},
		"required": []string{"content"},
	}
}

func (t *MessageTool) Execute(ctx context.Context, origin Origin, params map[string]any) (string, error) {
	channel := GetString(params, "channel", origin.Channel)
	chatID := GetString(params, "chat_id", origin.ChatID)
	if channel == "" || chatID == "" {
		return "Error: No target channel/chat specified", nil
	}
	if t.send == nil {
		return "Error: Message sending not configured", nil
	}

	msg := &bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: GetString(params, "content", ""),
	}
	if err := t.send(ctx, msg); err != nil {
		return fmt.Sprintf("Error sending message: %v", err), nil
	}
	return fmt.Sprintf("Message sent to %s:%s", channel, chatID), nil
}
