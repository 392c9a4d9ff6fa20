package catalog

import (
	"context"
	"fmt"

	"github.com/example/optical-storefront/internal/infrastructure/kafka"
	"github.com/example/optical-storefront/internal/logger"
)

// Invalidator drops the query cache whenever a catalog event arrives on the
// events topic
type Invalidator struct {
	cache *QueryCache
	// onInvalidate runs after each invalidation, typically a Browser refetch
	onInvalidate func()
}

func NewInvalidator(cache *QueryCache, onInvalidate func()) *Invalidator {
	return &Invalidator{cache: cache, onInvalidate: onInvalidate}
}

// Handle is a kafka.MessageHandler
func (i *Invalidator) Handle(ctx context.Context, key, value []byte) error {
	event, err := kafka.DecodeEvent(value)
	if err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}

	switch event.AggregateType {
	case kafka.AggregateProduct, kafka.AggregateCategory, kafka.AggregateInventory:
	default:
		return nil
	}

	i.cache.InvalidateAll()
	logger.Info("[Catalog] cache invalidated",
		"event_type", event.EventType, "aggregate_type", event.AggregateType, "aggregate_id", event.AggregateID)

	if i.onInvalidate != nil {
		i.onInvalidate()
	}
	return nil
}

// Run consumes catalog events until ctx is done
func (i *Invalidator) Run(ctx context.Context, consumer *kafka.Consumer) error {
	return consumer.Consume(ctx, i.Handle)
}
