package redisx

import "time"

const (
	// Idempotency create order item: idem:order_item:create:{order_id}:{key} -> order_item_id | "pending"
	KeyIdemItemCreate = "idem:order_item:create:%s:%s"

	// Cache status order: hash order_status:{order_id} {status, at}; status "" is a tombstone
	KeyOrderStatus = "order_status:%s"

	// Projected stock: hash flower_stock:{flower_id} {remaining, at}
	KeyFlowerStock = "flower_stock:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)

// idemPending marks a key whose first request is still running.
const idemPending = "pending"
