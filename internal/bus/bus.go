// Package bus provides the async message bus for channel-agent communication.
package bus

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Well-known channel names and metadata keys.
const (
	// SystemChannel carries internally generated turns (sub-agent and cron
	// announcements). Their ChatID is "origin_channel:origin_chat_id".
	SystemChannel = "system"

	MetaKeyMessageID = "message_id"
	MetaKeyUsername  = "username"
)

// dispatchPoll bounds how long DispatchOutbound waits before re-checking Stop.
const dispatchPoll = time.Second

// InboundMessage represents a message from a channel to the agent.
type InboundMessage struct {
	Channel   string         `json:"channel"`
	SenderID  string         `json:"sender_id"`
	ChatID    string         `json:"chat_id"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Media     []string       `json:"media,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SessionKey returns the conversation key "channel:chat_id".
func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// IsSystem reports whether the message was generated internally.
func (m *InboundMessage) IsSystem() bool {
	return m.Channel == SystemChannel
}

// SplitOrigin decodes the "origin_channel:origin_chat_id" form carried by
// system messages. Without a separator the whole value is the chat id and the
// channel falls back to "cli".
func SplitOrigin(chatID string) (channel, chat string) {
	if i := strings.Index(chatID, ":"); i >= 0 {
		return chatID[:i], chatID[i+1:]
	}
	return "cli", chatID
}

// JoinOrigin is the inverse of SplitOrigin.
func JoinOrigin(channel, chatID string) string {
	return channel + ":" + chatID
}

// OutboundMessage represents a message from the agent to a channel.
type OutboundMessage struct {
	Channel  string         `json:"channel"`
	ChatID   string         `json:"chat_id"`
	Content  string         `json:"content"`
	ReplyTo  string         `json:"reply_to,omitempty"`
	Media    []string       `json:"media,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// queue is an unbounded FIFO. Push never blocks; Pop waits for an item.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{notify: make(chan struct{}, 1)}
}

func (q *queue[T]) push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue[T]) tryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) > 0 {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return v, true
}

func (q *queue[T]) pop(ctx context.Context) (T, error) {
	for {
		if v, ok := q.tryPop(); ok {
			return v, nil
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// MessageBus decouples channels from the agent core.
type MessageBus struct {
	inbound  *queue[*InboundMessage]
	outbound *queue[*OutboundMessage]
	subs     map[string][]func(*OutboundMessage)
	running  atomic.Bool
	mu       sync.RWMutex
}

// NewMessageBus creates a new message bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  newQueue[*InboundMessage](),
		outbound: newQueue[*OutboundMessage](),
		subs:     make(map[string][]func(*OutboundMessage)),
	}
}

// PublishInbound sends a message from a channel to the agent.
func (b *MessageBus) PublishInbound(msg *InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	b.inbound.push(msg)
}

// ConsumeInbound blocks until a message is available or context is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (*InboundMessage, error) {
	return b.inbound.pop(ctx)
}

// PublishOutbound sends a message from the agent to channels.
func (b *MessageBus) PublishOutbound(msg *OutboundMessage) {
	b.outbound.push(msg)
}

// ConsumeOutbound blocks until an outbound message is available or context is
// cancelled. Callers that drain outbound themselves must not also run
// DispatchOutbound.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (*OutboundMessage, error) {
	return b.outbound.pop(ctx)
}

// Subscribe registers a callback for outbound messages to a specific channel.
func (b *MessageBus) Subscribe(channel string, callback func(*OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[channel] = append(b.subs[channel], callback)
}

// DispatchOutbound runs the outbound message dispatcher until ctx is done or
// Stop is called. This should be run as a goroutine.
func (b *MessageBus) DispatchOutbound(ctx context.Context) error {
	b.running.Store(true)
	for b.running.Load() {
		waitCtx, cancel := context.WithTimeout(ctx, dispatchPoll)
		msg, err := b.outbound.pop(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		b.mu.RLock()
		callbacks := b.subs[msg.Channel]
		b.mu.RUnlock()

		for _, cb := range callbacks {
			b.deliver(cb, msg)
		}
	}
	return nil
}

func (b *MessageBus) deliver(cb func(*OutboundMessage), msg *OutboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Outbound subscriber panicked", "channel", msg.Channel, "panic", r)
		}
	}()
	cb(msg)
}

// Stop signals the dispatcher to stop after its current wait.
func (b *MessageBus) Stop() {
	b.running.Store(false)
}

// InboundSize returns the number of pending inbound messages.
func (b *MessageBus) InboundSize() int {
	return b.inbound.len()
}

// OutboundSize returns the number of pending outbound messages.
func (b *MessageBus) OutboundSize() int {
	return b.outbound.len()
}
