package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/danuprasetya/go-shop-checkout/internal/redisx"
)

// Broadcaster pushes notifications to the live channel. Delivery is
// best-effort pub/sub: subscribers connected at publish time receive
// the message, nobody else ever will. The durable copy lives in the
// notifications table.
type Broadcaster struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewBroadcaster(rdb *redis.Client, log *slog.Logger) *Broadcaster {
	return &Broadcaster{rdb: rdb, log: log}
}

func (b *Broadcaster) Publish(ctx context.Context, n *Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		b.log.Warn("broadcast marshal failed", "notification_id", n.ID, "err", err)
		return
	}
	if err := b.rdb.Publish(ctx, redisx.ChannelNotifications, payload).Err(); err != nil {
		b.log.Warn("live broadcast failed", "notification_id", n.ID, "err", err)
	}
}
