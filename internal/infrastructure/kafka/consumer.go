package kafka

import (
	"context"

	"github.com/example/optical-storefront/internal/logger"
	"github.com/segmentio/kafka-go"
)

type MessageHandler func(ctx context.Context, key, value []byte) error

type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer joins groupID on topic. A group without committed offsets
// starts at the newest message, since old catalog events are irrelevant to a
// freshly started client.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
	})
	return &Consumer{reader: reader}
}

// Consume feeds messages to handler until ctx is done. Handler errors are
// logged and the message is skipped.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("[Kafka] error reading message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		if err := handler(ctx, msg.Key, msg.Value); err != nil {
			logger.Warn("[Kafka] error handling message", "offset", msg.Offset, "error", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
