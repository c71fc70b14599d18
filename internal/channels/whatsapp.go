package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "modernc.org/sqlite"

	"github.com/KafClaw/clawlet/internal/bus"
	"github.com/KafClaw/clawlet/internal/config"
)

// WhatsAppChannel implements a native WhatsApp client. The linked device
// lives in a sqlite store; the first start prints a pairing QR code.
type WhatsAppChannel struct {
	BaseChannel
	config config.WhatsAppConfig

	transcriber Transcriber
	media       mediaStore

	mu        sync.Mutex
	client    *whatsmeow.Client
	container *sqlstore.Container

	sendFn     func(ctx context.Context, jid types.JID, text string) error
	downloadFn func(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)
}

// NewWhatsAppChannel creates a WhatsApp channel.
func NewWhatsAppChannel(cfg config.WhatsAppConfig, messageBus *bus.MessageBus) *WhatsAppChannel {
	return &WhatsAppChannel{
		BaseChannel: NewBaseChannel("whatsapp", messageBus, cfg.AllowFrom),
		config:      cfg,
		media:       defaultMediaStore(),
	}
}

func (c *WhatsAppChannel) Name() string { return "whatsapp" }

func (c *WhatsAppChannel) paths() (store, qr string, err error) {
	store, qr = c.config.StorePath, c.config.QRPath
	if store != "" && qr != "" {
		return store, qr, nil
	}
	dir, err := config.DataDir()
	if err != nil {
		return "", "", err
	}
	if store == "" {
		store = filepath.Join(dir, "whatsapp.db")
	}
	if qr == "" {
		qr = filepath.Join(dir, "whatsapp-qr.png")
	}
	return store, qr, nil
}

func (c *WhatsAppChannel) Start(ctx context.Context) error {
	dbPath, qrPath, err := c.paths()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return err
	}

	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	container, err := sqlstore.New(ctx, "sqlite", dsn, waLog.Stdout("Database", "WARN", true))
	if err != nil {
		return fmt.Errorf("whatsapp store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return fmt.Errorf("whatsapp device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Stdout("Client", "WARN", true))
	client.AddEventHandler(c.eventHandler)

	c.mu.Lock()
	c.client = client
	c.container = container
	c.mu.Unlock()

	if client.Store.ID != nil {
		if err := client.Connect(); err != nil {
			return fmt.Errorf("whatsapp connect: %w", err)
		}
		slog.Info("WhatsApp channel connected")
		return nil
	}

	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("whatsapp pairing: %w", err)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("whatsapp connect: %w", err)
	}
	go c.pair(qrChan, qrPath)
	return nil
}

// pair renders each pairing code until the phone links or pairing ends.
func (c *WhatsAppChannel) pair(qrChan <-chan whatsmeow.QRChannelItem, qrPath string) {
	for evt := range qrChan {
		if evt.Event != whatsmeow.QRChannelEventCode {
			slog.Info("WhatsApp pairing event", "event", evt.Event)
			continue
		}
		if err := qrcode.WriteFile(evt.Code, qrcode.Medium, 512, qrPath); err != nil {
			slog.Warn("Failed to write WhatsApp QR code", "path", qrPath, "error", err)
		} else {
			slog.Info("WhatsApp QR code saved", "path", qrPath)
		}
		if qr, err := qrcode.New(evt.Code, qrcode.Low); err == nil {
			fmt.Println("Scan this QR code with WhatsApp (Linked devices):")
			fmt.Println(qr.ToSmallString(false))
		}
	}
}

func (c *WhatsAppChannel) eventHandler(evt any) {
	switch v := evt.(type) {
	case *events.Message:
		if v.Info.IsFromMe {
			return
		}
		if audio := v.Message.GetAudioMessage(); audio != nil {
			go c.handleVoice(context.Background(), v, audio)
			return
		}
		content := whatsAppText(v.Message)
		if content == "" {
			return
		}
		c.HandleMessage(v.Info.Sender.User, v.Info.Chat.String(), content, nil, whatsAppMeta(v))
	case *events.Connected:
		slog.Info("WhatsApp connected")
	case *events.LoggedOut:
		slog.Warn("WhatsApp logged out; delete the device store to pair again")
	}
}

func whatsAppMeta(v *events.Message) map[string]any {
	return map[string]any{
		bus.MetaKeyMessageID: v.Info.ID,
		bus.MetaKeyUsername:  v.Info.PushName,
		"is_group":           v.Info.IsGroup,
	}
}

// handleVoice downloads a voice note and forwards its transcription, or its
// saved path when transcription is unavailable.
func (c *WhatsAppChannel) handleVoice(ctx context.Context, v *events.Message, audio *waE2E.AudioMessage) {
	sender := v.Info.Sender.User
	if !c.IsAllowed(sender) {
		slog.Warn("Access denied", "channel", "whatsapp", "sender", sender)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	content := "[voice: download failed]"
	var media []string
	data, err := c.download(ctx, audio)
	if err != nil {
		slog.Error("WhatsApp: voice download failed", "id", v.Info.ID, "error", err)
	} else {
		ext := ".ogg"
		if strings.Contains(audio.GetMimetype(), "mp4") {
			ext = ".m4a"
		}
		path, err := c.media.save(string(v.Info.ID)+ext, data)
		if err != nil {
			slog.Error("WhatsApp: saving voice note failed", "error", err)
		} else {
			media = append(media, path)
			content = describeAudio(ctx, c.transcriber, "voice", path)
		}
	}
	c.HandleMessage(sender, v.Info.Chat.String(), content, media, whatsAppMeta(v))
}

func (c *WhatsAppChannel) download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	if c.downloadFn != nil {
		return c.downloadFn(ctx, msg)
	}
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return nil, errors.New("whatsapp: not connected")
	}
	return client.Download(ctx, msg)
}

// whatsAppText pulls the text out of plain, extended and captioned media
// messages.
func whatsAppText(m *waE2E.Message) string {
	if m == nil {
		return ""
	}
	for _, s := range []string{
		m.GetConversation(),
		m.GetExtendedTextMessage().GetText(),
		m.GetImageMessage().GetCaption(),
		m.GetVideoMessage().GetCaption(),
		m.GetDocumentMessage().GetCaption(),
	} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// parseWhatsAppJID accepts a full JID or a bare phone number.
func parseWhatsAppJID(chatID string) (types.JID, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return types.JID{}, errors.New("empty chat id")
	}
	if !strings.Contains(chatID, "@") {
		return types.NewJID(strings.TrimPrefix(chatID, "+"), types.DefaultUserServer), nil
	}
	return types.ParseJID(chatID)
}

func (c *WhatsAppChannel) Stop() error {
	c.mu.Lock()
	client, container := c.client, c.container
	c.client, c.container = nil, nil
	c.mu.Unlock()
	if client != nil {
		client.Disconnect()
	}
	if container != nil {
		return container.Close()
	}
	return nil
}

func (c *WhatsAppChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	jid, err := parseWhatsAppJID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("whatsapp: invalid JID %q: %w", msg.ChatID, err)
	}
	if c.sendFn != nil {
		return c.sendFn(ctx, jid, msg.Content)
	}

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return errors.New("whatsapp: not connected")
	}
	_, err = client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(msg.Content)})
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	return nil
}
