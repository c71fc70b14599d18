package channels

import (
	"context"
	"testing"

	"github.com/slack-go/slack/slackevents"

	"github.com/KafClaw/clawlet/internal/bus"
	"github.com/KafClaw/clawlet/internal/config"
)

func TestSlackInboundFromEvent(t *testing.T) {
	const bot = "UBOT"
	tests := []struct {
		name     string
		event    any
		ok       bool
		text     string
		threadTS string
	}{
		{
			name:  "direct message",
			event: &slackevents.MessageEvent{User: "U1", Text: "hello", Channel: "D1", ChannelType: "im", TimeStamp: "1.1"},
			ok:    true, text: "hello",
		},
		{
			name:  "dm thread reply keeps thread",
			event: &slackevents.MessageEvent{User: "U1", Text: "more", Channel: "D1", ChannelType: "im", TimeStamp: "1.2", ThreadTimeStamp: "1.0"},
			ok:    true, text: "more", threadTS: "1.0",
		},
		{
			name:  "channel chatter ignored",
			event: &slackevents.MessageEvent{User: "U1", Text: "hi all", Channel: "C1", ChannelType: "channel", TimeStamp: "1.1"},
		},
		{
			name:  "channel message with mention left to app_mention",
			event: &slackevents.MessageEvent{User: "U1", Text: "<@UBOT> hi", Channel: "C1", ChannelType: "channel", TimeStamp: "1.1"},
		},
		{
			name:  "bot message ignored",
			event: &slackevents.MessageEvent{User: "U1", BotID: "B1", Text: "x", Channel: "D1", ChannelType: "im"},
		},
		{
			name:  "edit subtype ignored",
			event: &slackevents.MessageEvent{User: "U1", SubType: "message_changed", Text: "x", Channel: "D1", ChannelType: "im"},
		},
		{
			name:  "own message ignored",
			event: &slackevents.MessageEvent{User: bot, Text: "x", Channel: "D1", ChannelType: "im"},
		},
		{
			name:  "mention stripped and threaded",
			event: &slackevents.AppMentionEvent{User: "U1", Text: "<@UBOT> what's up", Channel: "C1", TimeStamp: "2.0"},
			ok:    true, text: "what's up", threadTS: "2.0",
		},
		{
			name:  "mention only is empty",
			event: &slackevents.AppMentionEvent{User: "U1", Text: "<@UBOT>", Channel: "C1", TimeStamp: "2.0"},
		},
		{
			name:  "unrelated event",
			event: &slackevents.ReactionAddedEvent{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, ok := slackInboundFromEvent(tt.event, bot)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v (%+v)", ok, tt.ok, in)
			}
			if !ok {
				return
			}
			if in.text != tt.text {
				t.Fatalf("text = %q, want %q", in.text, tt.text)
			}
			if in.threadTS != tt.threadTS {
				t.Fatalf("threadTS = %q, want %q", in.threadTS, tt.threadTS)
			}
		})
	}
}

func TestSlackSendUsesThreadMetadata(t *testing.T) {
	c := NewSlackChannel(config.SlackConfig{}, bus.NewMessageBus())
	var gotChannel, gotThread, gotText string
	c.sendFn = func(_ context.Context, channelID, threadTS, text string) error {
		gotChannel, gotThread, gotText = channelID, threadTS, text
		return nil
	}
	err := c.Send(context.Background(), &bus.OutboundMessage{
		Channel: "slack", ChatID: "C1", Content: "reply",
		Metadata: map[string]any{"thread_ts": "2.0"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotChannel != "C1" || gotThread != "2.0" || gotText != "reply" {
		t.Fatalf("unexpected send: %q %q %q", gotChannel, gotThread, gotText)
	}
}

func TestSlackStartRequiresTokens(t *testing.T) {
	c := NewSlackChannel(config.SlackConfig{BotToken: "xoxb"}, bus.NewMessageBus())
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected error without app token")
	}
}
