package channels

import (
	"context"
	"testing"
	"time"

	"github.com/KafClaw/clawlet/internal/bus"
)

func TestIsAllowed(t *testing.T) {
	tests := []struct {
		name   string
		allow  []string
		sender string
		want   bool
	}{
		{"empty list allows everyone", nil, "anyone", true},
		{"exact match", []string{"U1"}, "U1", true},
		{"no match", []string{"U1"}, "U2", false},
		{"compound id part", []string{"alice"}, "U9|alice", true},
		{"compound id whole", []string{"U9|alice"}, "U9|alice", true},
		{"compound id miss", []string{"bob"}, "U9|alice", false},
		{"trimmed entries", []string{" U1 "}, "U1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewBaseChannel("test", bus.NewMessageBus(), tt.allow)
			if got := c.IsAllowed(tt.sender); got != tt.want {
				t.Fatalf("IsAllowed(%q) = %v, want %v", tt.sender, got, tt.want)
			}
		})
	}
}

func TestHandleMessagePublishesAllowedSender(t *testing.T) {
	b := bus.NewMessageBus()
	c := NewBaseChannel("slack", b, []string{"U1"})

	if c.HandleMessage("U2", "C1", "hi", nil, nil) {
		t.Fatal("denied sender was published")
	}
	if b.InboundSize() != 0 {
		t.Fatalf("expected empty inbound queue, got %d", b.InboundSize())
	}

	if !c.HandleMessage("U1", "C1", "hello", []string{"a.png"}, map[string]any{"k": "v"}) {
		t.Fatal("allowed sender was not published")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := b.ConsumeInbound(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if msg.Channel != "slack" || msg.SenderID != "U1" || msg.ChatID != "C1" || msg.Content != "hello" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}
	if msg.SessionKey() != "slack:C1" {
		t.Fatalf("session key = %q", msg.SessionKey())
	}
	if len(msg.Media) != 1 || msg.Metadata["k"] != "v" {
		t.Fatalf("media/metadata lost: %+v", msg)
	}
}
