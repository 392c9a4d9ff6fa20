package kafka

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	value := []byte(`{"id":"e-1","aggregate_id":"42","aggregate_type":"Product","event_type":"ProductUpdated","data":{"stock_qty":3}}`)

	e, err := DecodeEvent(value)

	require.NoError(t, err)
	assert.Equal(t, AggregateProduct, e.AggregateType)
	assert.Equal(t, "ProductUpdated", e.EventType)
	assert.JSONEq(t, `{"stock_qty":3}`, string(e.Data))
}

func TestDecodeEvent_Invalid(t *testing.T) {
	_, err := DecodeEvent([]byte("not json"))

	var syntaxErr *json.SyntaxError
	assert.ErrorAs(t, err, &syntaxErr)
}
