package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/KafClaw/clawlet/internal/bus"
	"github.com/KafClaw/clawlet/internal/config"
)

// SlackChannel connects to Slack over Socket Mode, so no public endpoint is
// needed. DMs are always answered; in channels the bot only answers when
// mentioned.
type SlackChannel struct {
	BaseChannel
	config config.SlackConfig

	mu        sync.Mutex
	api       *slack.Client
	botUserID string
	cancel    context.CancelFunc
	done      chan struct{}

	// sendFn replaces the Slack API call in tests.
	sendFn func(ctx context.Context, channelID, threadTS, text string) error
}

// NewSlackChannel creates a Slack channel.
func NewSlackChannel(cfg config.SlackConfig, messageBus *bus.MessageBus) *SlackChannel {
	return &SlackChannel{
		BaseChannel: NewBaseChannel("slack", messageBus, cfg.AllowFrom),
		config:      cfg,
	}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Start(ctx context.Context) error {
	if c.config.BotToken == "" || c.config.AppToken == "" {
		return errors.New("slack: botToken and appToken are required")
	}
	api := slack.New(c.config.BotToken, slack.OptionAppLevelToken(c.config.AppToken))
	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	client := socketmode.New(api)
	done := make(chan struct{})

	c.mu.Lock()
	c.api = api
	c.botUserID = auth.UserID
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.consume(runCtx, client)
	go func() {
		defer close(done)
		if err := client.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("Slack socket mode stopped", "error", err)
		}
	}()
	slog.Info("Slack channel connected", "bot", auth.User, "team", auth.Team)
	return nil
}

func (c *SlackChannel) consume(ctx context.Context, client *socketmode.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-client.Events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			if evt.Request != nil {
				client.Ack(*evt.Request)
			}
			ev, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok || ev.Type != slackevents.CallbackEvent {
				continue
			}
			c.handleEvent(ev.InnerEvent.Data)
		}
	}
}

func (c *SlackChannel) handleEvent(data any) {
	c.mu.Lock()
	botID := c.botUserID
	c.mu.Unlock()

	in, ok := slackInboundFromEvent(data, botID)
	if !ok {
		return
	}
	meta := map[string]any{bus.MetaKeyMessageID: in.ts}
	if in.threadTS != "" {
		meta["thread_ts"] = in.threadTS
	}
	c.HandleMessage(in.user, in.channel, in.text, nil, meta)
}

func (c *SlackChannel) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// Send posts msg to its channel, replying in the thread named by the
// "thread_ts" metadata when present.
func (c *SlackChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	threadTS, _ := msg.Metadata["thread_ts"].(string)
	if c.sendFn != nil {
		return c.sendFn(ctx, msg.ChatID, threadTS, msg.Content)
	}

	c.mu.Lock()
	api := c.api
	c.mu.Unlock()
	if api == nil {
		return errors.New("slack: not connected")
	}
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Content, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	if _, _, err := api.PostMessageContext(ctx, msg.ChatID, opts...); err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}

type slackInbound struct {
	user     string
	channel  string
	text     string
	ts       string
	threadTS string
}

var slackMention = regexp.MustCompile(`<@[A-Z0-9]+>\s*`)

// slackInboundFromEvent normalizes a message or app_mention event. Bot
// messages, edits and channel chatter without a mention are dropped.
// Channel messages that mention the bot also arrive as app_mention, so the
// plain message copy is skipped.
func slackInboundFromEvent(data any, botUserID string) (slackInbound, bool) {
	var in slackInbound
	switch ev := data.(type) {
	case *slackevents.MessageEvent:
		if ev == nil || ev.BotID != "" || ev.SubType != "" || ev.User == "" || ev.User == botUserID {
			return in, false
		}
		if ev.ChannelType != "im" {
			return in, false
		}
		in = slackInbound{user: ev.User, channel: ev.Channel, text: ev.Text, ts: ev.TimeStamp, threadTS: ev.ThreadTimeStamp}
	case *slackevents.AppMentionEvent:
		if ev == nil || ev.BotID != "" || ev.User == "" || ev.User == botUserID {
			return in, false
		}
		threadTS := ev.ThreadTimeStamp
		if threadTS == "" {
			threadTS = ev.TimeStamp
		}
		in = slackInbound{user: ev.User, channel: ev.Channel, text: ev.Text, ts: ev.TimeStamp, threadTS: threadTS}
	default:
		return in, false
	}
	in.text = strings.TrimSpace(slackMention.ReplaceAllString(in.text, ""))
	if in.text == "" || in.channel == "" {
		return in, false
	}
	return in, true
}
