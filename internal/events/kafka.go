package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/updown/internal/crypto"
	"github.com/alanyoungcy/updown/internal/domain"
)

// KafkaConfig selects the brokers and topic for the round event stream.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes round events keyed by round id, so every event of a
// round lands on the same partition in order. When a signer is set each
// message carries HMAC headers over its value.
type KafkaPublisher struct {
	w      messageWriter
	topic  string
	signer *crypto.PayloadSigner
	logger *slog.Logger
	now    func() time.Time
}

var _ domain.EventPublisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(cfg KafkaConfig, signer *crypto.PayloadSigner, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("events: kafka brokers and topic are required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           cfg.WriteTimeout,
	}
	return newKafkaPublisher(w, cfg.Topic, signer, logger), nil
}

func newKafkaPublisher(w messageWriter, topic string, signer *crypto.PayloadSigner, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		w:      w,
		topic:  topic,
		signer: signer,
		logger: logger.With(slog.String("component", "kafka_events")),
		now:    time.Now,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev domain.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", ev.Type, err)
	}
	now := p.now()
	msg := kafka.Message{
		Key:   []byte(ev.RoundID),
		Value: value,
		Time:  now,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if p.signer != nil {
		for k, v := range p.signer.Headers(value, now) {
			msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
		}
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: kafka %s: %w", p.topic, err)
	}
	p.logger.DebugContext(ctx, "kafka_events: published",
		slog.String("type", ev.Type),
		slog.String("round_id", string(ev.RoundID)),
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
