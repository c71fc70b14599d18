package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/KafClaw/clawlet/internal/bus"
	"github.com/KafClaw/clawlet/internal/config"
	"github.com/KafClaw/clawlet/internal/session"
)

const (
	// telegramMaxMessage is the Bot API limit per text message.
	telegramMaxMessage  = 4096
	telegramMaxDownload = 20 << 20
	telegramTypingEvery = 4 * time.Second
)

var telegramCommands = []tgbotapi.BotCommand{
	{Command: "start", Description: "Start the bot"},
	{Command: "reset", Description: "Reset conversation history"},
	{Command: "help", Description: "Show available commands"},
}

// telegramAPI is the part of *tgbotapi.BotAPI the channel uses after start.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	StopReceivingUpdates()
}

// TelegramChannel talks to Telegram through Bot API long polling, so no
// public webhook endpoint is needed.
type TelegramChannel struct {
	BaseChannel
	config      config.TelegramConfig
	sessions    *session.Manager
	transcriber Transcriber
	media       mediaStore
	httpClient  *http.Client

	mu     sync.Mutex
	api    telegramAPI
	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}

	typingMu sync.Mutex
	typing   map[string]context.CancelFunc
}

// NewTelegramChannel creates a Telegram channel. sessions backs the /reset
// command and tr transcribes voice notes; either may be nil.
func NewTelegramChannel(cfg config.TelegramConfig, messageBus *bus.MessageBus, sessions *session.Manager, tr Transcriber) *TelegramChannel {
	return &TelegramChannel{
		BaseChannel: NewBaseChannel("telegram", messageBus, cfg.AllowFrom),
		config:      cfg,
		sessions:    sessions,
		transcriber: tr,
		media:       defaultMediaStore(),
		httpClient:  &http.Client{Timeout: time.Minute},
		typing:      make(map[string]context.CancelFunc),
	}
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Start(ctx context.Context) error {
	if c.config.Token == "" {
		return errors.New("telegram: token is required")
	}
	client, err := telegramHTTPClient(c.config.Proxy)
	if err != nil {
		return err
	}
	bot, err := tgbotapi.NewBotAPIWithClient(c.config.Token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("telegram connect: %w", err)
	}
	c.httpClient = client

	if _, err := bot.Request(tgbotapi.NewSetMyCommands(telegramCommands...)); err != nil {
		slog.Warn("Telegram: failed to register bot commands", "error", err)
	}
	// Messages sent while the bot was offline are dropped.
	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true}); err != nil {
		slog.Warn("Telegram: failed to drop pending updates", "error", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}
	updates := bot.GetUpdatesChan(u)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.mu.Lock()
	c.api, c.runCtx, c.cancel, c.done = bot, runCtx, cancel, done
	c.mu.Unlock()

	go c.poll(runCtx, updates, done)
	slog.Info("Telegram channel connected", "bot", bot.Self.UserName)
	return nil
}

func telegramHTTPClient(proxy string) (*http.Client, error) {
	client := &http.Client{Timeout: 90 * time.Second}
	if proxy == "" {
		return client, nil
	}
	u, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("telegram proxy: %w", err)
	}
	client.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
	return client, nil
}

func (c *TelegramChannel) poll(ctx context.Context, updates tgbotapi.UpdatesChannel, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			if upd.Message != nil {
				c.handleMessage(ctx, upd.Message)
			}
		}
	}
}

func (c *TelegramChannel) bot() telegramAPI {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.api
}

func (c *TelegramChannel) Stop() error {
	c.mu.Lock()
	api, cancel, done := c.api, c.cancel, c.done
	c.api, c.cancel, c.done = nil, nil, nil
	c.mu.Unlock()

	c.typingMu.Lock()
	for id, stop := range c.typing {
		stop()
		delete(c.typing, id)
	}
	c.typingMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if api != nil {
		api.StopReceivingUpdates()
	}
	if done != nil {
		<-done
	}
	return nil
}

func (c *TelegramChannel) handleMessage(ctx context.Context, m *tgbotapi.Message) {
	if m.From == nil || m.Chat == nil {
		return
	}
	// The numeric id is stable; the username keeps allowlists readable.
	senderID := strconv.FormatInt(m.From.ID, 10)
	if m.From.UserName != "" {
		senderID += "|" + m.From.UserName
	}
	chatID := strconv.FormatInt(m.Chat.ID, 10)

	if !c.IsAllowed(senderID) {
		slog.Warn("Access denied", "channel", "telegram", "sender", senderID)
		return
	}
	if m.IsCommand() {
		c.handleCommand(m, chatID)
		return
	}

	var parts, media []string
	if t := strings.TrimSpace(m.Text); t != "" {
		parts = append(parts, t)
	}
	if t := strings.TrimSpace(m.Caption); t != "" {
		parts = append(parts, t)
	}
	if kind, fileID, mime := telegramAttachment(m); fileID != "" {
		path, err := c.download(ctx, fileID, telegramExt(kind, mime))
		switch {
		case err != nil:
			slog.Error("Telegram: media download failed", "kind", kind, "error", err)
			parts = append(parts, "["+kind+": download failed]")
		case kind == "voice" || kind == "audio":
			media = append(media, path)
			parts = append(parts, describeAudio(ctx, c.transcriber, kind, path))
		default:
			media = append(media, path)
			parts = append(parts, fmt.Sprintf("[%s: %s]", kind, path))
		}
	}
	content := strings.Join(parts, "\n")
	if content == "" {
		content = "[empty message]"
	}

	c.startTyping(chatID)
	c.HandleMessage(senderID, chatID, content, media, map[string]any{
		bus.MetaKeyMessageID: m.MessageID,
		bus.MetaKeyUsername:  m.From.UserName,
		"user_id":            m.From.ID,
		"first_name":         m.From.FirstName,
		"is_group":           m.Chat.Type != "private",
	})
}

func (c *TelegramChannel) handleCommand(m *tgbotapi.Message, chatID string) {
	var text string
	html := false
	switch m.Command() {
	case "start":
		text = fmt.Sprintf("👋 Hi %s! I'm clawlet.\n\nSend me a message and I'll respond.\nType /help to see available commands.", m.From.FirstName)
	case "help":
		html = true
		text = "<b>clawlet commands</b>\n\n" +
			"/start: start the bot\n" +
			"/reset: reset conversation history\n" +
			"/help: show this help message\n\n" +
			"Send me a text message to chat!"
	case "reset":
		text = c.resetSession(chatID)
	default:
		return
	}
	if err := c.sendText(m.Chat.ID, text, html, 0); err != nil {
		slog.Warn("Telegram: command reply failed", "command", m.Command(), "error", err)
	}
}

func (c *TelegramChannel) resetSession(chatID string) string {
	if c.sessions == nil {
		slog.Warn("Telegram: /reset without a session manager")
		return "⚠️ Session management is not available."
	}
	key := c.Name() + ":" + chatID
	s := c.sessions.GetOrCreate(key)
	n := s.Len()
	s.Clear()
	if err := c.sessions.Save(s); err != nil {
		slog.Error("Telegram: failed to save reset session", "session", key, "error", err)
	}
	slog.Info("Session reset", "session", key, "cleared", n)
	return "🔄 Conversation history cleared. Let's start fresh!"
}

// telegramAttachment picks the media of a message: the largest photo size,
// a voice note, an audio file or a document.
func telegramAttachment(m *tgbotapi.Message) (kind, fileID, mime string) {
	switch {
	case len(m.Photo) > 0:
		return "image", m.Photo[len(m.Photo)-1].FileID, ""
	case m.Voice != nil:
		return "voice", m.Voice.FileID, m.Voice.MimeType
	case m.Audio != nil:
		return "audio", m.Audio.FileID, m.Audio.MimeType
	case m.Document != nil:
		return "file", m.Document.FileID, m.Document.MimeType
	}
	return "", "", ""
}

func telegramExt(kind, mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4":
		return ".m4a"
	}
	switch kind {
	case "image":
		return ".jpg"
	case "voice":
		return ".ogg"
	case "audio":
		return ".mp3"
	}
	return ""
}

func (c *TelegramChannel) download(ctx context.Context, fileID, ext string) (string, error) {
	api := c.bot()
	if api == nil {
		return "", errors.New("telegram: not connected")
	}
	link, err := api.GetFileDirectURL(fileID)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, telegramMaxDownload))
	if err != nil {
		return "", err
	}
	name := fileID
	if len(name) > 16 {
		name = name[:16]
	}
	return c.media.save(name+ext, data)
}

// startTyping shows "typing..." in the chat until the reply is sent or the
// channel stops.
func (c *TelegramChannel) startTyping(chatID string) {
	c.stopTyping(chatID)
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return
	}
	api := c.bot()
	if api == nil {
		return
	}
	c.mu.Lock()
	parent := c.runCtx
	c.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	c.typingMu.Lock()
	c.typing[chatID] = cancel
	c.typingMu.Unlock()

	go func() {
		ticker := time.NewTicker(telegramTypingEvery)
		defer ticker.Stop()
		for {
			if _, err := api.Request(tgbotapi.NewChatAction(id, tgbotapi.ChatTyping)); err != nil {
				slog.Debug("Telegram: typing indicator stopped", "chat_id", chatID, "error", err)
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (c *TelegramChannel) stopTyping(chatID string) {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	if cancel, ok := c.typing[chatID]; ok {
		cancel()
		delete(c.typing, chatID)
	}
}

// Send converts the reply to Telegram HTML, falling back to plain text when
// Telegram rejects the markup. Long replies are split; only the first part
// quotes ReplyTo.
func (c *TelegramChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	c.stopTyping(msg.ChatID)
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q", msg.ChatID)
	}
	replyTo, _ := strconv.Atoi(msg.ReplyTo)
	for _, chunk := range splitMessage(msg.Content, telegramMaxMessage) {
		if err := c.sendText(chatID, markdownToTelegramHTML(chunk), true, replyTo); err != nil {
			slog.Warn("Telegram: HTML send failed, retrying as plain text", "chat_id", msg.ChatID, "error", err)
			if err := c.sendText(chatID, chunk, false, replyTo); err != nil {
				return fmt.Errorf("telegram send: %w", err)
			}
		}
		replyTo = 0
	}
	return nil
}

func (c *TelegramChannel) sendText(chatID int64, text string, html bool, replyTo int) error {
	api := c.bot()
	if api == nil {
		return errors.New("telegram: not connected")
	}
	m := tgbotapi.NewMessage(chatID, text)
	if html {
		m.ParseMode = tgbotapi.ModeHTML
	}
	m.ReplyToMessageID = replyTo
	_, err := api.Send(m)
	return err
}

var (
	tgCodeBlock  = regexp.MustCompile("```[\\w]*\\n?([\\s\\S]*?)```")
	tgInlineCode = regexp.MustCompile("`([^`]+)`")
	tgHeading    = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	tgQuote      = regexp.MustCompile(`(?m)^>\s*(.*)$`)
	tgLink       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	tgBoldStars  = regexp.MustCompile(`\*\*(.+?)\*\*`)
	tgBoldUnder  = regexp.MustCompile(`__(.+?)__`)
	tgItalic     = regexp.MustCompile(`(^|[^a-zA-Z0-9])_([^_\n]+)_($|[^a-zA-Z0-9])`)
	tgStrike     = regexp.MustCompile(`~~(.+?)~~`)
	tgBullet     = regexp.MustCompile(`(?m)^[-*]\s+`)
	tgEscaper    = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

// markdownToTelegramHTML renders the Markdown models usually produce as the
// small HTML subset Telegram accepts. Code is protected from the other
// rewrites and HTML in the text is escaped.
func markdownToTelegramHTML(text string) string {
	if text == "" {
		return ""
	}

	var blocks, inline []string
	text = tgCodeBlock.ReplaceAllStringFunc(text, func(m string) string {
		blocks = append(blocks, tgCodeBlock.FindStringSubmatch(m)[1])
		return fmt.Sprintf("\x00CB%d\x00", len(blocks)-1)
	})
	text = tgInlineCode.ReplaceAllStringFunc(text, func(m string) string {
		inline = append(inline, tgInlineCode.FindStringSubmatch(m)[1])
		return fmt.Sprintf("\x00IC%d\x00", len(inline)-1)
	})

	text = tgHeading.ReplaceAllString(text, "$1")
	text = tgQuote.ReplaceAllString(text, "$1")
	text = tgEscaper.Replace(text)
	text = tgLink.ReplaceAllString(text, `<a href="$2">$1</a>`)
	text = tgBoldStars.ReplaceAllString(text, "<b>$1</b>")
	text = tgBoldUnder.ReplaceAllString(text, "<b>$1</b>")
	// Adjacent matches share a boundary character, so repeat until stable.
	for {
		next := tgItalic.ReplaceAllString(text, "${1}<i>${2}</i>${3}")
		if next == text {
			break
		}
		text = next
	}
	text = tgStrike.ReplaceAllString(text, "<s>$1</s>")
	text = tgBullet.ReplaceAllString(text, "• ")

	for i, code := range inline {
		text = strings.Replace(text, fmt.Sprintf("\x00IC%d\x00", i), "<code>"+tgEscaper.Replace(code)+"</code>", 1)
	}
	for i, code := range blocks {
		text = strings.Replace(text, fmt.Sprintf("\x00CB%d\x00", i), "<pre><code>"+tgEscaper.Replace(code)+"</code></pre>", 1)
	}
	return text
}
