package channels

import (
	"context"
	"errors"
	"os"
	"testing"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/KafClaw/clawlet/internal/bus"
	"github.com/KafClaw/clawlet/internal/config"
)

func TestWhatsAppText(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil", nil, ""},
		{"conversation", &waE2E.Message{Conversation: proto.String(" hi ")}, "hi"},
		{"extended", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("link text")}}, "link text"},
		{"image caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look")}}, "look"},
		{"no text", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := whatsAppText(tt.msg); got != tt.want {
				t.Fatalf("whatsAppText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseWhatsAppJID(t *testing.T) {
	jid, err := parseWhatsAppJID("+4915112345678")
	if err != nil {
		t.Fatalf("bare number: %v", err)
	}
	if jid.User != "4915112345678" || jid.Server != types.DefaultUserServer {
		t.Fatalf("unexpected jid %v", jid)
	}

	jid, err = parseWhatsAppJID("12345-678@g.us")
	if err != nil {
		t.Fatalf("group jid: %v", err)
	}
	if jid.Server != types.GroupServer {
		t.Fatalf("server = %q", jid.Server)
	}

	if _, err := parseWhatsAppJID("  "); err == nil {
		t.Fatal("expected error for empty chat id")
	}
}

func TestWhatsAppSendParsesRecipient(t *testing.T) {
	c := NewWhatsAppChannel(config.WhatsAppConfig{}, bus.NewMessageBus())
	var got types.JID
	c.sendFn = func(_ context.Context, jid types.JID, text string) error {
		got = jid
		return nil
	}
	if err := c.Send(context.Background(), &bus.OutboundMessage{ChatID: "491234", Content: "x"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.User != "491234" {
		t.Fatalf("jid = %v", got)
	}
	if err := c.Send(context.Background(), &bus.OutboundMessage{ChatID: "", Content: "x"}); err == nil {
		t.Fatal("expected error for empty recipient")
	}
}

func TestWhatsAppSendWithoutClient(t *testing.T) {
	c := NewWhatsAppChannel(config.WhatsAppConfig{}, bus.NewMessageBus())
	if err := c.Send(context.Background(), &bus.OutboundMessage{ChatID: "491234", Content: "x"}); err == nil {
		t.Fatal("expected error when not connected")
	}
}

func whatsAppVoiceEvent() (*events.Message, *waE2E.AudioMessage) {
	audio := &waE2E.AudioMessage{Mimetype: proto.String("audio/ogg; codecs=opus"), PTT: proto.Bool(true)}
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:   types.NewJID("491234", types.DefaultUserServer),
				Sender: types.NewJID("491234", types.DefaultUserServer),
			},
			ID:       "3EB0VOICE",
			PushName: "Alice",
		},
		Message: &waE2E.Message{AudioMessage: audio},
	}, audio
}

func TestWhatsAppVoiceNoteIsTranscribed(t *testing.T) {
	b := bus.NewMessageBus()
	c := NewWhatsAppChannel(config.WhatsAppConfig{}, b)
	c.media = mediaStore{dir: t.TempDir()}
	tr := &fakeTranscriber{text: "buy milk"}
	c.transcriber = tr
	c.downloadFn = func(_ context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error) {
		return []byte("OggS"), nil
	}

	evt, audio := whatsAppVoiceEvent()
	c.handleVoice(context.Background(), evt, audio)

	msg := consumeInbound(t, b)
	if msg.Content != "[transcription: buy milk]" || msg.SenderID != "491234" {
		t.Fatalf("unexpected inbound: %+v", msg)
	}
	if len(msg.Media) != 1 || tr.path != msg.Media[0] {
		t.Fatalf("media = %v, transcribed %q", msg.Media, tr.path)
	}
	if data, err := os.ReadFile(msg.Media[0]); err != nil || string(data) != "OggS" {
		t.Fatalf("saved voice note = %q, %v", data, err)
	}
}

func TestWhatsAppVoiceNoteFallbacks(t *testing.T) {
	b := bus.NewMessageBus()
	c := NewWhatsAppChannel(config.WhatsAppConfig{}, b)
	c.media = mediaStore{dir: t.TempDir()}
	c.transcriber = &fakeTranscriber{err: errors.New("no key")}
	c.downloadFn = func(context.Context, whatsmeow.DownloadableMessage) ([]byte, error) {
		return []byte("OggS"), nil
	}

	evt, audio := whatsAppVoiceEvent()
	c.handleVoice(context.Background(), evt, audio)
	if msg := consumeInbound(t, b); msg.Content != "[voice: "+msg.Media[0]+"]" {
		t.Fatalf("content = %q", msg.Content)
	}

	c.downloadFn = func(context.Context, whatsmeow.DownloadableMessage) ([]byte, error) {
		return nil, errors.New("media expired")
	}
	c.handleVoice(context.Background(), evt, audio)
	if msg := consumeInbound(t, b); msg.Content != "[voice: download failed]" || len(msg.Media) != 0 {
		t.Fatalf("unexpected inbound: %+v", msg)
	}
}
