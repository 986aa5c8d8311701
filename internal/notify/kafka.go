package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"token-sniffer/internal/domain"
)

// Default topic names.
const (
	DefaultTokenTopic = "sniffer.tokens"
	DefaultRunTopic   = "sniffer.runs"
)

// KafkaConfig configures a KafkaNotifier.
type KafkaConfig struct {
	Brokers      []string
	TokenTopic   string
	RunTopic     string
	BatchTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier produces JSON events keyed by mint, so every event of a token
// lands on the same partition.
type KafkaNotifier struct {
	writer     messageWriter
	tokenTopic string
	runTopic   string
}

// NewKafkaNotifier creates a notifier. Topics must exist unless the broker
// auto-creates them.
func NewKafkaNotifier(cfg KafkaConfig) *KafkaNotifier {
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: cfg.BatchTimeout,
	}
	return newKafkaNotifier(w, cfg)
}

func newKafkaNotifier(w messageWriter, cfg KafkaConfig) *KafkaNotifier {
	if cfg.TokenTopic == "" {
		cfg.TokenTopic = DefaultTokenTopic
	}
	if cfg.RunTopic == "" {
		cfg.RunTopic = DefaultRunTopic
	}
	return &KafkaNotifier{writer: w, tokenTopic: cfg.TokenTopic, runTopic: cfg.RunTopic}
}

// TokenAssessed produces the token event.
func (n *KafkaNotifier) TokenAssessed(ctx context.Context, t *domain.TokenRecord) error {
	msg, err := buildMessage(n.tokenTopic, t.Mint, NewTokenEvent(t))
	if err != nil {
		return err
	}
	return n.write(ctx, msg)
}

// RunCompleted produces the run summary.
func (n *KafkaNotifier) RunCompleted(ctx context.Context, run *domain.AnalysisRun) error {
	msg, err := buildMessage(n.runTopic, run.Mint, NewRunEvent(run))
	if err != nil {
		return err
	}
	return n.write(ctx, msg)
}

func (n *KafkaNotifier) write(ctx context.Context, msg kafka.Message) error {
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", msg.Topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

func buildMessage(topic, key string, v interface{}) (kafka.Message, error) {
	value, err := json.Marshal(v)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s event: %w", topic, err)
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	}, nil
}
