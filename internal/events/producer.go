// Package events publishes domain events (cart, product, checkout) to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

const (
	TopicUser    = "user_events"
	TopicCart    = "cart_events"
	TopicProduct = "product_events"
)

type Publisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(address string) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(address),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: w}
}

func (p *Producer) Publish(ctx context.Context, topic, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: json.Marshal failed: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write failed: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Noop drops every event; used when no broker is configured and in tests.
type Noop struct{}

func (Noop) Publish(ctx context.Context, topic, key string, event any) error { return nil }
