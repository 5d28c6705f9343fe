package redisx

import "time"

const (
	// idem:order:create:{external_id} -> "pending" | order_id
	KeyIdemOrderCreate = "idem:order:create:%s"

	// order_status:{order_id} -> {"status": "...", "updated_at": "...", "version": unix_ms}
	KeyOrderStatus = "order_status:%s"

	// dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLPending     = 30 * time.Second
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
