package bus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPublishConsumeInboundFIFO(t *testing.T) {
	b := NewMessageBus()
	for _, c := range []string{"one", "two", "three"} {
		b.PublishInbound(&InboundMessage{Channel: "cli", ChatID: "direct", Content: c})
	}
	if b.InboundSize() != 3 {
		t.Fatalf("expected 3 pending, got %d", b.InboundSize())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, want := range []string{"one", "two", "three"} {
		msg, err := b.ConsumeInbound(ctx)
		if err != nil {
			t.Fatalf("consume: %v", err)
		}
		if msg.Content != want {
			t.Fatalf("expected %q, got %q", want, msg.Content)
		}
		if msg.Timestamp.IsZero() {
			t.Fatal("expected timestamp to be set on publish")
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewMessageBus()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.PublishOutbound(&OutboundMessage{Channel: "cli", Content: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishing 1000 messages without a consumer blocked")
	}
	if b.OutboundSize() != 1000 {
		t.Fatalf("expected 1000 pending, got %d", b.OutboundSize())
	}
}

func TestConsumeRespectsContext(t *testing.T) {
	b := NewMessageBus()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.ConsumeInbound(ctx); err == nil {
		t.Fatal("expected context error on empty queue")
	}
}

func TestConsumeWakesOnPublish(t *testing.T) {
	b := NewMessageBus()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got := make(chan string, 1)
	go func() {
		msg, err := b.ConsumeOutbound(ctx)
		if err == nil {
			got <- msg.Content
		}
	}()
	time.Sleep(10 * time.Millisecond)
	b.PublishOutbound(&OutboundMessage{Channel: "slack", ChatID: "C1", Content: "hello"})

	select {
	case c := <-got:
		if c != "hello" {
			t.Fatalf("unexpected content %q", c)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer was not woken by publish")
	}
}

func TestDispatchOutboundFansOutPerChannel(t *testing.T) {
	b := NewMessageBus()
	var mu sync.Mutex
	var slack, discord []string

	b.Subscribe("slack", func(m *OutboundMessage) {
		mu.Lock()
		slack = append(slack, m.Content)
		mu.Unlock()
	})
	b.Subscribe("slack", func(m *OutboundMessage) {
		panic("subscriber failure must not stop dispatch")
	})
	b.Subscribe("discord", func(m *OutboundMessage) {
		mu.Lock()
		discord = append(discord, m.Content)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.PublishOutbound(&OutboundMessage{Channel: "slack", Content: "s1"})
	b.PublishOutbound(&OutboundMessage{Channel: "discord", Content: "d1"})
	b.PublishOutbound(&OutboundMessage{Channel: "unknown", Content: "dropped"})
	b.PublishOutbound(&OutboundMessage{Channel: "slack", Content: "s2"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(slack) + len(discord)
		mu.Unlock()
		if n == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(slack) != 2 || slack[0] != "s1" || slack[1] != "s2" {
		t.Fatalf("unexpected slack deliveries: %v", slack)
	}
	if len(discord) != 1 || discord[0] != "d1" {
		t.Fatalf("unexpected discord deliveries: %v", discord)
	}
}

func TestDispatchOutboundStop(t *testing.T) {
	b := NewMessageBus()
	done := make(chan error, 1)
	go func() { done <- b.DispatchOutbound(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	b.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("dispatcher did not observe Stop within the poll window")
	}
}

func TestSplitOrigin(t *testing.T) {
	tests := []struct {
		in          string
		wantChannel string
		wantChat    string
	}{
		{"telegram:12345", "telegram", "12345"},
		{"whatsapp:4915@s.whatsapp.net", "whatsapp", "4915@s.whatsapp.net"},
		{"slack:T1:C2", "slack", "T1:C2"},
		{"direct", "cli", "direct"},
	}
	for _, tt := range tests {
		ch, chat := SplitOrigin(tt.in)
		if ch != tt.wantChannel || chat != tt.wantChat {
			t.Errorf("SplitOrigin(%q) = (%q, %q), want (%q, %q)", tt.in, ch, chat, tt.wantChannel, tt.wantChat)
		}
	}
	if JoinOrigin("discord", "42") != "discord:42" {
		t.Fatal("JoinOrigin mismatch")
	}
}

func TestSessionKey(t *testing.T) {
	m := &InboundMessage{Channel: "telegram", ChatID: "99"}
	if m.SessionKey() != "telegram:99" {
		t.Fatalf("unexpected session key %q", m.SessionKey())
	}
	if m.IsSystem() {
		t.Fatal("telegram message reported as system")
	}
	sys := &InboundMessage{Channel: SystemChannel, ChatID: "telegram:99"}
	if !sys.IsSystem() {
		t.Fatal("system message not detected")
	}
}
