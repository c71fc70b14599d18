package channels

import (
	"context"
	"strings"
	"testing"

	"github.com/KafClaw/clawlet/internal/bus"
	"github.com/KafClaw/clawlet/internal/config"
)

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short message split: %q", got)
	}

	long := strings.Repeat("word ", 900)
	parts := splitMessage(long, discordMaxMessage)
	if len(parts) < 3 {
		t.Fatalf("expected at least 3 parts, got %d", len(parts))
	}
	for i, p := range parts {
		if n := len([]rune(p)); n > discordMaxMessage {
			t.Fatalf("part %d has %d runes", i, n)
		}
		if strings.HasPrefix(p, " ") {
			t.Fatalf("part %d starts with a space", i)
		}
	}

	noSpaces := strings.Repeat("x", 4500)
	parts = splitMessage(noSpaces, discordMaxMessage)
	if len(parts) != 3 || len(parts[0]) != 2000 || len(parts[2]) != 500 {
		t.Fatalf("hard split wrong: %d parts", len(parts))
	}

	lines := strings.Repeat("a", 1500) + "\n" + strings.Repeat("b", 1000)
	parts = splitMessage(lines, discordMaxMessage)
	if len(parts) != 2 || parts[0] != strings.Repeat("a", 1500) {
		t.Fatalf("newline split wrong: %v", len(parts))
	}

	multibyte := strings.Repeat("ä", 2001)
	parts = splitMessage(multibyte, discordMaxMessage)
	if len(parts) != 2 || len([]rune(parts[1])) != 1 {
		t.Fatalf("rune split wrong: %d parts", len(parts))
	}
}

func TestDiscordSendRepliesOnFirstChunkOnly(t *testing.T) {
	c := NewDiscordChannel(config.DiscordConfig{}, bus.NewMessageBus())
	var replies []string
	c.sendFn = func(_ context.Context, channelID, content, replyTo string) error {
		if channelID != "chan" {
			t.Errorf("channel = %q", channelID)
		}
		replies = append(replies, replyTo)
		return nil
	}
	err := c.Send(context.Background(), &bus.OutboundMessage{
		Channel: "discord", ChatID: "chan", ReplyTo: "m1",
		Content: strings.Repeat("y", 4100),
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(replies) != 3 || replies[0] != "m1" || replies[1] != "" || replies[2] != "" {
		t.Fatalf("reply references = %q", replies)
	}
}
