package kafka

import (
	"encoding/json"
	"time"
)

// Aggregate types carried by catalog events
const (
	AggregateProduct   = "Product"
	AggregateCategory  = "Category"
	AggregateInventory = "Inventory"
)

// Event is the envelope of every message on the events topic
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// DecodeEvent parses a message value into its envelope
func DecodeEvent(value []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(value, &e)
	return e, err
}
