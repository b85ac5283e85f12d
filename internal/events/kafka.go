package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/IBM/sarama"

	"github.com/m3rciful/studybot/core/logger"
)

// Config selects the Kafka cluster. An empty broker list disables publishing.
type Config struct {
	Brokers  string `yaml:"brokers" envconfig:"KAFKA_BROKERS"`
	Topic    string `yaml:"topic" envconfig:"KAFKA_TOPIC"`
	ClientID string `yaml:"client_id" envconfig:"KAFKA_CLIENT_ID"`
}

// Enabled reports whether brokers are configured.
func (c Config) Enabled() bool { return len(c.brokers()) > 0 }

func (c Config) brokers() []string {
	var out []string
	for _, b := range strings.Split(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// SaramaConfig returns the producer settings used by KafkaPublisher.
func (c Config) SaramaConfig() *sarama.Config {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5
	if c.ClientID != "" {
		sc.ClientID = c.ClientID
	}
	return sc
}

// KafkaPublisher writes events as JSON keyed by request id, so all events of
// one request land on the same partition in order.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher dials the brokers.
func NewKafkaPublisher(cfg Config) (*KafkaPublisher, error) {
	topic := cfg.Topic
	if topic == "" {
		topic = "studybot.requests"
	}
	producer, err := sarama.NewSyncProducer(cfg.brokers(), cfg.SaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	logger.Info(context.Background(), "events", "kafka.producer",
		slog.String("brokers", cfg.Brokers),
		slog.String("topic", topic),
	)
	return NewPublisher(producer, topic), nil
}

// NewPublisher wraps an existing producer.
func NewPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	key := strconv.FormatInt(e.RequestID, 10)
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(e.Type)},
			{Key: []byte("event_id"), Value: []byte(e.ID)},
		},
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("kafka send failed [topic=%s, key=%s]: %w", p.topic, key, err)
	}
	if logger.ShouldSampleDebug() {
		logger.Debug(ctx, "events", "event.published",
			slog.String("topic", p.topic),
			slog.String("type", e.Type),
			slog.Int64("request_id", e.RequestID),
			slog.Int("partition", int(partition)),
			slog.Int64("offset", offset),
		)
	}
	return nil
}

// Close flushes and closes the producer.
func (p *KafkaPublisher) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}
