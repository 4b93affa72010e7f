package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Gateway event kinds the reconciler cares about. Everything else is
// acknowledged as a no-op.
const EventCheckoutCompleted = "checkout.session.completed"

// PaymentEvent is a verified, parsed gateway callback.
type PaymentEvent struct {
	ID      string
	Type    string
	Session PaymentSession
}

// PaymentSession is the gateway's view of a checkout session as carried
// on the event. AmountTotal is in minor units.
type PaymentSession struct {
	ID          string
	AmountTotal int64
	Metadata    map[string]string
}

// Metadata keys set when the session was opened.
const (
	MetaUserID       = "userId"
	MetaOrderPayload = "orderPayload"
)

// EventConstructor authenticates a raw webhook body against its
// signature header and parses it. Implementations return
// ErrInvalidSignature without any state change on mismatch.
type EventConstructor interface {
	ConstructEvent(payload []byte, sigHeader string) (PaymentEvent, error)
}

// Reconciler consumes gateway confirmation events and finalizes pending
// money orders exactly once, keyed on the session id. Gateways deliver
// at least once, so every path here must tolerate replays.
type Reconciler struct {
	store    Store
	verifier EventConstructor
	events   EventSink
	log      *slog.Logger
}

func NewReconciler(store Store, verifier EventConstructor, events EventSink, log *slog.Logger) *Reconciler {
	return &Reconciler{store: store, verifier: verifier, events: events, log: log}
}

// HandlePaymentEvent verifies and applies one gateway callback.
// The raw body is required: signature verification covers the exact
// bytes the gateway sent.
func (r *Reconciler) HandlePaymentEvent(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := r.verifier.ConstructEvent(payload, sigHeader)
	if err != nil {
		return err
	}

	if event.Type != EventCheckoutCompleted {
		r.log.Debug("ignoring gateway event", "event_id", event.ID, "type", event.Type)
		return nil
	}

	userID := event.Session.Metadata[MetaUserID]
	rawPayload := event.Session.Metadata[MetaOrderPayload]
	if event.Session.ID == "" || userID == "" || rawPayload == "" {
		return fmt.Errorf("%w: missing session metadata", ErrMalformedEvent)
	}
	var snapshot SessionPayload
	if err := json.Unmarshal([]byte(rawPayload), &snapshot); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	// The gateway-reported paid amount is authoritative.
	paid := RoundCents(float64(event.Session.AmountTotal) / 100)

	var (
		confirmed *Order
		replay    bool
	)
	err = r.store.InTx(ctx, func(tx Tx) error {
		order, err := tx.OrderBySession(ctx, event.Session.ID)
		switch {
		case err == nil:
			return r.confirmExisting(ctx, tx, order, paid, &confirmed, &replay)
		case errors.Is(err, ErrOrderNotFound):
			// The pending record is gone (administratively deleted).
			// Recreate the confirmed order from the session snapshot;
			// stock was already taken at checkout, so none moves here.
			o, err := r.recreateFromSnapshot(ctx, tx, userID, event.Session.ID, snapshot, paid)
			if err != nil {
				return err
			}
			confirmed = o
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return err
	}

	if replay {
		r.log.Info("duplicate payment event acknowledged",
			"event_id", event.ID, "session_id", event.Session.ID)
		return nil
	}
	if confirmed != nil {
		r.log.Info("order confirmed",
			"order_id", confirmed.ID, "session_id", event.Session.ID, "total", confirmed.TotalAmount)
		r.events.OrderConfirmed(ctx, confirmed)
	}
	return nil
}

func (r *Reconciler) confirmExisting(ctx context.Context, tx Tx, order *Order, paid float64, confirmed **Order, replay *bool) error {
	switch order.Status {
	case StatusPending:
		order.TotalAmount = paid
		order.Status = StatusConfirmed
		order.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		*confirmed = order
		return nil
	case StatusCancelled:
		// The reaper released this reservation before payment landed.
		// Acknowledge so the gateway stops retrying; the conflict is
		// surfaced for manual follow-up instead of re-reserving stock.
		r.log.Warn("payment completed for expired order",
			"order_id", order.ID, "session_id", order.SessionID)
		*replay = true
		return nil
	default:
		// Already confirmed (or further along): a redelivery.
		*replay = true
		return nil
	}
}

func (r *Reconciler) recreateFromSnapshot(ctx context.Context, tx Tx, userID, sessionID string, snapshot SessionPayload, paid float64) (*Order, error) {
	if _, err := tx.UserForUpdate(ctx, userID); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	order := &Order{
		ID:          uuid.NewString(),
		UserID:      userID,
		Items:       snapshot.Items,
		TotalAmount: paid,
		Discount:    snapshot.Discount,
		Settlement:  SettlementMoney,
		Status:      StatusConfirmed,
		SessionID:   sessionID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.InsertOrder(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}
