package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/KafClaw/clawlet/internal/bus"
	"github.com/KafClaw/clawlet/internal/config"
)

// discordMaxMessage is Discord's per-message content limit.
const discordMaxMessage = 2000

// DiscordChannel talks to Discord over the gateway websocket.
type DiscordChannel struct {
	BaseChannel
	config config.DiscordConfig

	mu      sync.Mutex
	session *discordgo.Session

	sendFn func(ctx context.Context, channelID, content, replyTo string) error
}

// NewDiscordChannel creates a Discord channel.
func NewDiscordChannel(cfg config.DiscordConfig, messageBus *bus.MessageBus) *DiscordChannel {
	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", messageBus, cfg.AllowFrom),
		config:      cfg,
	}
}

func (c *DiscordChannel) Name() string { return "discord" }

func (c *DiscordChannel) Start(ctx context.Context) error {
	if c.config.Token == "" {
		return errors.New("discord: token is required")
	}
	s, err := discordgo.New("Bot " + c.config.Token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	s.AddHandler(c.onMessageCreate)
	if err := s.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}

	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	if s.State != nil && s.State.User != nil {
		slog.Info("Discord channel connected", "bot", s.State.User.Username)
	}
	return nil
}

func (c *DiscordChannel) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	var media []string
	for _, a := range m.Attachments {
		if a != nil && a.URL != "" {
			media = append(media, a.URL)
		}
	}
	content := strings.TrimSpace(m.Content)
	if content == "" && len(media) == 0 {
		return
	}
	c.HandleMessage(m.Author.ID, m.ChannelID, content, media, map[string]any{
		bus.MetaKeyMessageID: m.ID,
		bus.MetaKeyUsername:  m.Author.Username,
		"guild_id":           m.GuildID,
	})
}

func (c *DiscordChannel) Stop() error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

// Send delivers msg in chunks of at most 2000 characters. Only the first
// chunk references ReplyTo.
func (c *DiscordChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	replyTo := msg.ReplyTo
	for _, chunk := range splitMessage(msg.Content, discordMaxMessage) {
		if err := c.sendChunk(ctx, msg.ChatID, chunk, replyTo); err != nil {
			return err
		}
		replyTo = ""
	}
	return nil
}

func (c *DiscordChannel) sendChunk(ctx context.Context, channelID, content, replyTo string) error {
	if c.sendFn != nil {
		return c.sendFn(ctx, channelID, content, replyTo)
	}
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return errors.New("discord: not connected")
	}
	send := &discordgo.MessageSend{Content: content}
	if replyTo != "" {
		send.Reference = &discordgo.MessageReference{MessageID: replyTo, ChannelID: channelID}
	}
	if _, err := s.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// splitMessage cuts content into pieces of at most limit runes, preferring
// line breaks and then spaces as cut points.
func splitMessage(content string, limit int) []string {
	runes := []rune(content)
	if len(runes) <= limit {
		return []string{content}
	}
	var out []string
	for len(runes) > limit {
		cut := limit
		window := string(runes[:limit])
		if i := strings.LastIndex(window, "\n"); i > 0 {
			cut = len([]rune(window[:i]))
		} else if i := strings.LastIndex(window, " "); i > 0 {
			cut = len([]rune(window[:i]))
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
		for len(runes) > 0 && (runes[0] == '\n' || runes[0] == ' ') {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
