package checkout

import "context"

// Order lifecycle event types carried on the order events topic.
const (
	EventOrderCreated   = "OrderCreated"
	EventOrderConfirmed = "OrderConfirmed"
	EventOrderExpired   = "OrderExpired"
)

// OrderEventPayload is the payload published for every order lifecycle
// event.
type OrderEventPayload struct {
	OrderID     string           `json:"order_id"`
	UserID      string           `json:"user_id"`
	Settlement  SettlementMethod `json:"settlement"`
	Status      Status           `json:"status"`
	TotalAmount float64          `json:"total_amount"`
	PointsUsed  float64          `json:"points_used,omitempty"`
	SessionID   string           `json:"session_id,omitempty"`
}

// EventSink receives order lifecycle notifications. Implementations must
// be fire-and-forget: a failed emit never fails the order operation.
type EventSink interface {
	OrderCreated(ctx context.Context, o *Order)
	OrderConfirmed(ctx context.Context, o *Order)
	OrderExpired(ctx context.Context, o *Order)
}
