package redisx

import "time"

const (
	// Order status cache: order_status:{order_id} -> {"status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{id} (id = event_id or session_id)
	KeyDedup = "dedup:%s:%s"

	// Live notification fan-out channel. Best effort: nothing is retained
	// when no subscriber is connected.
	ChannelNotifications = "notifications:live"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
