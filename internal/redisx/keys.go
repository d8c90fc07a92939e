package redisx

import "time"

const (
	// Idempotency for checkout completion: idem:checkout:complete:{key} -> response body
	KeyIdemCheckoutComplete = "idem:checkout:complete:%s"

	// Cached order status: order_status:{order_id} -> {"order_id":..,"status":..,"version":..}
	KeyOrderStatus = "order_status:%s"

	// Event dedup: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
