package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/vyvo/buildmaster/pkg/builds"
)

// Producer is the part of *kgo.Client the Kafka publisher uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaPublisher writes results to a topic, keyed by builder name so a
// builder's results stay ordered within a partition.
type KafkaPublisher struct {
	producer Producer
	topic    string
}

// NewKafkaPublisher connects to brokers and publishes to topic.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, *kgo.Client, error) {
	if len(brokers) == 0 {
		return nil, nil, fmt.Errorf("at least one broker address is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}
	return NewKafkaPublisherWithProducer(client, topic), client, nil
}

func NewKafkaPublisherWithProducer(producer Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// resultEvent is the record value written to Kafka.
type resultEvent struct {
	RequestID   string            `json:"request_id,omitempty"`
	Builder     string            `json:"builder"`
	Worker      string            `json:"worker,omitempty"`
	Project     string            `json:"project,omitempty"`
	Revision    string            `json:"revision"`
	Status      builds.Status     `json:"status"`
	Properties  map[string]string `json:"properties,omitempty"`
	Message     Message           `json:"message"`
	PublishedAt time.Time         `json:"published_at"`
}

func (p *KafkaPublisher) Publish(ctx context.Context, _ string, r builds.Result, msg Message) error {
	value, err := json.Marshal(resultEvent{
		RequestID:   r.RequestID,
		Builder:     r.Builder,
		Worker:      r.Worker,
		Project:     r.Project,
		Revision:    r.Revision,
		Status:      r.Status,
		Properties:  r.Properties,
		Message:     msg,
		PublishedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode result event: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(r.Builder),
		Value: value,
	}
	if err := p.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce result: %w", err)
	}
	return nil
}

// LogPublisher writes messages to a logger.
type LogPublisher struct {
	Logger Logger
}

func (p LogPublisher) Publish(_ context.Context, _ string, r builds.Result, msg Message) error {
	p.Logger.Info("build report",
		"builder", r.Builder,
		"worker", r.Worker,
		"revision", r.Revision,
		"status", string(r.Status),
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return nil
}
