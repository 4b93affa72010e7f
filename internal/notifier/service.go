package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/danuprasetya/go-shop-checkout/internal/checkout"
	"github.com/danuprasetya/go-shop-checkout/internal/kafka"
	"github.com/danuprasetya/go-shop-checkout/internal/notify"
	"github.com/danuprasetya/go-shop-checkout/internal/redisx"
)

const dedupScope = "notifier"

// Service turns order lifecycle events into per-user notifications.
// Kafka delivers at least once; a Redis marker keyed by envelope id
// keeps redeliveries from producing duplicate rows.
type Service struct {
	store     *notify.Store
	broadcast *notify.Broadcaster
	rdb       *redis.Client
	log       *slog.Logger
}

func NewService(store *notify.Store, broadcast *notify.Broadcaster, rdb *redis.Client, log *slog.Logger) *Service {
	return &Service{store: store, broadcast: broadcast, rdb: rdb, log: log}
}

// HandleOrderEvent processes one message from the order events topic.
// A non-nil return leaves the offset uncommitted for redelivery.
func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	var env notify.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// Poison message: log and commit, redelivery cannot fix it.
		s.log.Error("undecodable event dropped", "topic", m.Topic, "offset", m.Offset, "err", err)
		return nil
	}

	dedupKey := fmt.Sprintf(redisx.KeyDedup, dedupScope, env.EventID)
	fresh, err := s.rdb.SetNX(ctx, dedupKey, 1, redisx.TTLDedup).Result()
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if !fresh {
		s.log.Debug("duplicate event skipped", "event_id", env.EventID, "type", env.EventType)
		return nil
	}

	payload, err := kafka.UnwrapPayload[checkout.OrderEventPayload](env.Payload)
	if err != nil {
		s.log.Error("malformed payload dropped", "event_id", env.EventID, "err", err)
		return nil
	}

	msg, ok := messageFor(env.EventType, payload)
	if !ok {
		s.log.Debug("unhandled event type", "event_id", env.EventID, "type", env.EventType)
		return nil
	}

	n := &notify.Notification{
		ID:        uuid.NewString(),
		UserID:    payload.UserID,
		OrderID:   payload.OrderID,
		EventType: env.EventType,
		Message:   msg,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Create(ctx, n); err != nil {
		// Roll the dedup marker back so the retry is not swallowed.
		_ = s.rdb.Del(ctx, dedupKey).Err()
		return fmt.Errorf("persist notification: %w", err)
	}

	s.broadcast.Publish(ctx, n)
	s.log.Info("notification created",
		"notification_id", n.ID, "user_id", n.UserID, "type", env.EventType)
	return nil
}

func messageFor(eventType string, p checkout.OrderEventPayload) (string, bool) {
	switch eventType {
	case checkout.EventOrderCreated:
		if p.Settlement == checkout.SettlementPoints {
			return fmt.Sprintf("New order placed, settled with %.0f points.", p.PointsUsed), true
		}
		return "New order placed, awaiting payment.", true
	case checkout.EventOrderConfirmed:
		return fmt.Sprintf("Order confirmed, paid $%.2f.", p.TotalAmount), true
	case checkout.EventOrderExpired:
		return "Order expired, the payment window has closed.", true
	default:
		return "", false
	}
}
