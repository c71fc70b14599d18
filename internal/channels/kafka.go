package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/KafClaw/clawlet/internal/bus"
	"github.com/KafClaw/clawlet/internal/config"
)

type kafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaChannel bridges the bus to Kafka: InboundMessage JSON records are
// read from the inbound topic and replies are written as OutboundMessage
// JSON to the outbound topic, keyed by chat id.
type KafkaChannel struct {
	BaseChannel
	config config.KafkaConfig

	mu     sync.Mutex
	reader kafkaReader
	writer kafkaWriter
	cancel context.CancelFunc
	done   chan struct{}

	newReader func(kafkaSecurity) kafkaReader
	newWriter func(kafkaSecurity) kafkaWriter
}

// NewKafkaChannel creates a Kafka bridge channel.
func NewKafkaChannel(cfg config.KafkaConfig, messageBus *bus.MessageBus) *KafkaChannel {
	c := &KafkaChannel{
		BaseChannel: NewBaseChannel("kafka", messageBus, cfg.AllowFrom),
		config:      cfg,
	}
	c.newReader = func(sec kafkaSecurity) kafkaReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Dialer:   sec.dialer(),
			Topic:    cfg.InboundTopic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
	}
	c.newWriter = func(sec kafkaSecurity) kafkaWriter {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Transport:    sec.transport(),
			Topic:        cfg.OutboundTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		}
	}
	return c
}

func (c *KafkaChannel) Name() string { return "kafka" }

func (c *KafkaChannel) Start(ctx context.Context) error {
	if len(c.config.Brokers) == 0 {
		return errors.New("kafka: brokers are required")
	}
	if c.config.InboundTopic == "" || c.config.OutboundTopic == "" {
		return errors.New("kafka: inboundTopic and outboundTopic are required")
	}

	sec, err := buildKafkaSecurity(c.config)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	reader := c.newReader(sec)
	done := make(chan struct{})

	c.mu.Lock()
	c.reader = reader
	c.writer = c.newWriter(sec)
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.consume(runCtx, reader, done)
	slog.Info("Kafka channel started", "brokers", strings.Join(c.config.Brokers, ","),
		"inbound", c.config.InboundTopic, "outbound", c.config.OutboundTopic, "security", sec.describe())
	return nil
}

func (c *KafkaChannel) consume(ctx context.Context, r kafkaReader, done chan struct{}) {
	defer close(done)
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("Kafka read failed", "topic", c.config.InboundTopic, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		c.handleRecord(m.Value)
	}
}

// handleRecord publishes one inbound record. Records without a chat id or
// content are dropped.
func (c *KafkaChannel) handleRecord(value []byte) bool {
	var in bus.InboundMessage
	if err := json.Unmarshal(value, &in); err != nil {
		slog.Warn("Kafka: dropping malformed record", "error", err)
		return false
	}
	if in.ChatID == "" || strings.TrimSpace(in.Content) == "" {
		slog.Warn("Kafka: dropping record without chat_id or content")
		return false
	}
	sender := in.SenderID
	if sender == "" {
		sender = in.ChatID
	}
	return c.HandleMessage(sender, in.ChatID, in.Content, in.Media, in.Metadata)
}

func (c *KafkaChannel) Stop() error {
	c.mu.Lock()
	cancel, done, reader, writer := c.cancel, c.done, c.reader, c.writer
	c.cancel, c.done, c.reader, c.writer = nil, nil, nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return errors.Join(reader.Close(), writer.Close())
}

func (c *KafkaChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	c.mu.Lock()
	w := c.writer
	c.mu.Unlock()
	if w == nil {
		return errors.New("kafka: not started")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := w.WriteMessages(ctx, kafka.Message{Key: []byte(msg.ChatID), Value: payload}); err != nil {
		return fmt.Errorf("kafka write %s: %w", c.config.OutboundTopic, err)
	}
	return nil
}
