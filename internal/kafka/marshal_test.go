package kafka

import (
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnwrapPayload(t *testing.T) {
	type ref struct {
		OrderID string `json:"order_id"`
		Version int    `json:"version"`
	}
	got, err := UnwrapPayload[ref](json.RawMessage(`{"order_id":"o1","version":3,"extra":true}`))
	require.NoError(t, err)
	assert.Equal(t, ref{OrderID: "o1", Version: 3}, got)

	_, err = UnwrapPayload[ref](json.RawMessage(`[`))
	require.Error(t, err)
}

func TestUnmarshalEnvelope(t *testing.T) {
	var out map[string]any
	require.NoError(t, UnmarshalEnvelope(MustMarshal(map[string]int{"a": 1}), &out))
	assert.Equal(t, float64(1), out["a"])
	require.Error(t, UnmarshalEnvelope([]byte("nope"), &out))
}

func TestHeader(t *testing.T) {
	m := kafka.Message{Headers: []kafka.Header{
		{Key: HeaderEventType, Value: []byte("OrderCreated")},
		{Key: HeaderEventVersion, Value: []byte("1")},
	}}
	assert.Equal(t, "OrderCreated", Header(m, HeaderEventType))
	assert.Empty(t, Header(m, "missing"))
}

func TestWorkerIsStablePerKey(t *testing.T) {
	for _, key := range []string{"order-1", "order-2", ""} {
		w := worker([]byte(key), 8)
		assert.GreaterOrEqual(t, w, 0)
		assert.Less(t, w, 8)
		assert.Equal(t, w, worker([]byte(key), 8))
	}
	assert.Equal(t, 0, worker([]byte("anything"), 1))
}
