package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/danuprasetya/go-shop-checkout/internal/checkout"
	"github.com/danuprasetya/go-shop-checkout/internal/kafka"
)

// Emitter publishes order lifecycle events to Kafka. Emission is
// fire-and-forget: the producer buffers in memory and failures never
// reach the caller, so a broker outage cannot fail a checkout.
type Emitter struct {
	producer *kafka.Producer
	source   string
	log      *slog.Logger
}

func NewEmitter(producer *kafka.Producer, source string, log *slog.Logger) *Emitter {
	return &Emitter{producer: producer, source: source, log: log}
}

func (e *Emitter) OrderCreated(ctx context.Context, o *checkout.Order) {
	e.emit(checkout.EventOrderCreated, o)
}

func (e *Emitter) OrderConfirmed(ctx context.Context, o *checkout.Order) {
	e.emit(checkout.EventOrderConfirmed, o)
}

func (e *Emitter) OrderExpired(ctx context.Context, o *checkout.Order) {
	e.emit(checkout.EventOrderExpired, o)
}

func (e *Emitter) emit(eventType string, o *checkout.Order) {
	payload := checkout.OrderEventPayload{
		OrderID:     o.ID,
		UserID:      o.UserID,
		Settlement:  o.Settlement,
		Status:      o.Status,
		TotalAmount: o.TotalAmount,
		PointsUsed:  o.PointsUsed,
		SessionID:   o.SessionID,
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      e.source,
		CorrelationID: o.ID,
		Payload:       kafka.MustMarshal(payload),
	}

	// Key by user so one shopper's notifications stay ordered.
	e.producer.Publish([]byte(o.UserID), kafka.MustMarshal(env),
		kafkago.Header{Key: HeaderEventType, Value: []byte(eventType)})
	e.log.Debug("event queued", "type", eventType, "order_id", o.ID)
}

// NopSink drops all events. Used by binaries that mutate orders but run
// without a broker attached.
type NopSink struct{}

func (NopSink) OrderCreated(context.Context, *checkout.Order)   {}
func (NopSink) OrderConfirmed(context.Context, *checkout.Order) {}
func (NopSink) OrderExpired(context.Context, *checkout.Order)   {}
