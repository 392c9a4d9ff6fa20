package catalog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/example/optical-storefront/internal/infrastructure/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventMessage(t *testing.T, aggregateType, eventType string) []byte {
	t.Helper()
	raw, err := json.Marshal(kafka.Event{
		ID:            "evt-1",
		AggregateID:   "11",
		AggregateType: aggregateType,
		EventType:     eventType,
		Timestamp:     time.Now(),
	})
	require.NoError(t, err)
	return raw
}

func TestInvalidator_Handle(t *testing.T) {
	tests := []struct {
		name          string
		aggregateType string
		invalidates   bool
	}{
		{"product event", kafka.AggregateProduct, true},
		{"category event", kafka.AggregateCategory, true},
		{"inventory event", kafka.AggregateInventory, true},
		{"unrelated event", "Order", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := NewQueryCache()
			cache.Put("k", samplePage(1))
			callbacks := 0
			inv := NewInvalidator(cache, func() { callbacks++ })

			err := inv.Handle(context.Background(), []byte("11"), eventMessage(t, tt.aggregateType, "Changed"))

			require.NoError(t, err)
			_, cached := cache.Get("k")
			assert.Equal(t, !tt.invalidates, cached)
			if tt.invalidates {
				assert.Equal(t, 1, callbacks)
			} else {
				assert.Zero(t, callbacks)
			}
		})
	}
}

func TestInvalidator_BadPayload(t *testing.T) {
	cache := NewQueryCache()
	cache.Put("k", samplePage(1))

	err := NewInvalidator(cache, nil).Handle(context.Background(), nil, []byte("not json"))

	assert.Error(t, err)
	assert.Equal(t, 1, cache.Len())
}

func TestInvalidator_RefetchesBrowser(t *testing.T) {
	f := newFakeFetcher()
	b, _ := newTestBrowser(t, f)
	b.Refetch()
	waitLoaded(t, b)

	inv := NewInvalidator(b.cache, b.Refetch)
	require.NoError(t, inv.Handle(context.Background(), nil, eventMessage(t, kafka.AggregateInventory, "StockUpdated")))

	require.Eventually(t, func() bool { return len(f.Calls()) == 2 }, time.Second, 2*time.Millisecond)
}
