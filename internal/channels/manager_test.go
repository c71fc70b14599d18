package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KafClaw/clawlet/internal/bus"
	"github.com/KafClaw/clawlet/internal/config"
	"github.com/KafClaw/clawlet/internal/session"
)

type fakeChannel struct {
	name     string
	startErr error

	mu      sync.Mutex
	started bool
	stopped bool
	sent    chan *bus.OutboundMessage
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{name: name, sent: make(chan *bus.OutboundMessage, 8)}
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Stop() error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Send(_ context.Context, msg *bus.OutboundMessage) error {
	f.sent <- msg
	return nil
}

func TestNewManagerBuildsEnabledChannels(t *testing.T) {
	cfg := config.ChannelsConfig{
		Slack:   config.SlackConfig{Enabled: true},
		Discord: config.DiscordConfig{Enabled: false},
		Kafka:   config.KafkaConfig{Enabled: true},
	}
	m := NewManager(cfg, bus.NewMessageBus())
	names := m.Names()
	if len(names) != 2 || names[0] != "kafka" || names[1] != "slack" {
		t.Fatalf("names = %v", names)
	}
}

func TestNewManagerHandsDepsToChannels(t *testing.T) {
	sessions, err := session.NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tr := &fakeTranscriber{}
	cfg := config.ChannelsConfig{
		Telegram: config.TelegramConfig{Enabled: true, Token: "123:abc"},
		WhatsApp: config.WhatsAppConfig{Enabled: true},
	}
	m := NewManager(cfg, bus.NewMessageBus(), WithSessions(sessions), WithTranscriber(tr))

	m.mu.RLock()
	tg, _ := m.channels["telegram"].(*TelegramChannel)
	wa, _ := m.channels["whatsapp"].(*WhatsAppChannel)
	m.mu.RUnlock()
	if tg == nil || wa == nil {
		t.Fatalf("names = %v", m.Names())
	}
	if tg.sessions != sessions || tg.transcriber != tr {
		t.Fatal("telegram did not receive sessions and transcriber")
	}
	if wa.transcriber != tr {
		t.Fatal("whatsapp did not receive transcriber")
	}

	bare := NewManager(cfg, bus.NewMessageBus())
	bare.mu.RLock()
	defer bare.mu.RUnlock()
	if bare.channels["telegram"].(*TelegramChannel).transcriber != nil {
		t.Fatal("transcriber set without option")
	}
}

func TestManagerRoutesOutbound(t *testing.T) {
	b := bus.NewMessageBus()
	m := NewManager(config.ChannelsConfig{}, b)
	good := newFakeChannel("good")
	broken := newFakeChannel("broken")
	broken.startErr = errors.New("no token")
	m.Register(good)
	m.Register(broken)

	m.StartAll(context.Background())

	b.PublishOutbound(&bus.OutboundMessage{Channel: "nowhere", ChatID: "x", Content: "lost"})
	b.PublishOutbound(&bus.OutboundMessage{Channel: "good", ChatID: "c1", Content: "hello"})

	select {
	case msg := <-good.sent:
		if msg.ChatID != "c1" || msg.Content != "hello" {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("message was not routed")
	}

	if err := m.StopAll(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !good.stopped {
		t.Fatal("started channel was not stopped")
	}
	if broken.stopped {
		t.Fatal("channel that failed to start was stopped")
	}
	if b.OutboundSize() != 0 {
		t.Fatalf("outbound queue not drained: %d", b.OutboundSize())
	}
}

func TestDescribe(t *testing.T) {
	st := Describe(config.ChannelsConfig{
		Telegram: config.TelegramConfig{Enabled: true, Token: "t"},
		Slack:    config.SlackConfig{Enabled: true, BotToken: "b"},
		Kafka:    config.KafkaConfig{Brokers: []string{"k:9092"}, InboundTopic: "i", OutboundTopic: "o"},
	})
	byName := map[string]Status{}
	for _, s := range st {
		byName[s.Name] = s
	}
	if s := byName["telegram"]; !s.Enabled || !s.Configured || s.Detail != "long polling" {
		t.Fatalf("telegram status = %+v", s)
	}
	if s := byName["slack"]; !s.Enabled || s.Configured {
		t.Fatalf("slack status = %+v", s)
	}
	if s := byName["kafka"]; s.Enabled || !s.Configured || s.Detail != "i -> o" {
		t.Fatalf("kafka status = %+v", s)
	}
}
