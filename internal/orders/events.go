package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated           = "OrderCreated"
	EventOrderConfirmed         = "OrderConfirmed"
	EventFulfillmentCreated     = "FulfillmentCreated"
	EventFulfillmentUpdated     = "FulfillmentUpdated"
	EventFulfillmentCompleted   = "FulfillmentCompleted"
	EventFulfillmentDeleted     = "FulfillmentDeleted"
	EventTrackingUpdated        = "TrackingUpdated"
	EventOrderFulfilled         = "OrderFulfilled"
	EventOrderFulfillmentUndone = "OrderFulfillmentUndone"
	EventOrderCancelled         = "OrderCancelled"
	EventOrderReinstated        = "OrderReinstated"
)

type Envelope struct {
	EventID       string          `json:"event_id"` // ulid
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// OrderRef is embedded in every payload so consumers can project the order
// status without knowing each event type.
type OrderRef struct {
	OrderID string `json:"order_id"`
	Status  Status `json:"status"`
	Version int    `json:"version"`
}

type LineQty struct {
	OrderLineID string `json:"order_line_id"`
	Qty         int    `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderRef
	CustomerID string    `json:"customer_id"`
	TotalCents int64     `json:"total_cents"`
	PaymentID  string    `json:"payment_id,omitempty"`
	Lines      []LineQty `json:"lines"`
}

type OrderStatusPayload struct {
	OrderRef
	PreviousStatus Status `json:"previous_status,omitempty"`
}

type FulfillmentPayload struct {
	OrderRef
	FulfillmentID  string    `json:"fulfillment_id"`
	Sequence       int       `json:"sequence,omitempty"`
	Completed      bool      `json:"completed"`
	TrackingNumber string    `json:"tracking_number,omitempty"`
	Lines          []LineQty `json:"lines,omitempty"`
}
