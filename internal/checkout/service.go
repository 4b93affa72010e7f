package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Session is an opened gateway checkout session.
type Session struct {
	ID  string
	URL string
}

// SessionPayload is the opaque order snapshot carried through the
// gateway session metadata and handed back on the webhook.
type SessionPayload struct {
	Items      []OrderItem      `json:"items"`
	Discount   float64          `json:"discount"`
	Settlement SettlementMethod `json:"settlement"`
}

// PaymentGateway opens checkout sessions with the external payment
// provider. Calls are blocking I/O and must never run inside a store
// transaction.
type PaymentGateway interface {
	OpenSession(ctx context.Context, userID string, amount float64, payload SessionPayload) (Session, error)
}

type PlaceOrderInput struct {
	Items      []ItemInput
	Discount   float64
	Settlement SettlementMethod
}

type PlaceOrderResult struct {
	Order *Order
	// CheckoutURL is set only on the money path; the client redirects
	// the shopper there to complete payment.
	CheckoutURL string
}

// Service is the checkout orchestrator. It assembles orders from cart
// items, reserving stock at order-creation time for both settlement
// paths so a slow money payment cannot oversell.
type Service struct {
	store   Store
	gateway PaymentGateway
	events  EventSink
	log     *slog.Logger
}

func NewService(store Store, gateway PaymentGateway, events EventSink, log *slog.Logger) *Service {
	return &Service{store: store, gateway: gateway, events: events, log: log}
}

// PlaceOrder validates the cart, reserves stock, prices the order and
// settles it. Points orders commit fully settled; money orders commit
// pending with a gateway session attached and confirm later via webhook.
func (s *Service) PlaceOrder(ctx context.Context, userID string, in PlaceOrderInput) (*PlaceOrderResult, error) {
	if err := validateInput(userID, in); err != nil {
		return nil, err
	}

	switch in.Settlement {
	case SettlementPoints:
		return s.settlePoints(ctx, userID, in)
	default:
		return s.settleMoney(ctx, userID, in)
	}
}

// settlePoints runs the whole checkout in one transaction: there is no
// external call, so the reservation, the balance debit and the order
// insert commit together or not at all.
func (s *Service) settlePoints(ctx context.Context, userID string, in PlaceOrderInput) (*PlaceOrderResult, error) {
	var order *Order

	err := s.store.InTx(ctx, func(tx Tx) error {
		user, err := tx.UserForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		items, total, err := reserveAndPrice(ctx, tx, in.Items)
		if err != nil {
			return err
		}
		total = RoundCents(total - in.Discount)

		pointsRequired := total
		if pointsRequired < 0 {
			pointsRequired = 0
		}
		if user.LoyaltyPoints < pointsRequired {
			return ErrInsufficientBalance
		}
		user.LoyaltyPoints -= pointsRequired
		if err := tx.SaveUser(ctx, user); err != nil {
			return err
		}

		now := time.Now().UTC()
		order = &Order{
			ID:          uuid.NewString(),
			UserID:      userID,
			Items:       items,
			TotalAmount: 0,
			Discount:    in.Discount,
			PointsUsed:  pointsRequired,
			Settlement:  SettlementPoints,
			Status:      StatusConfirmed,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("order placed with points",
		"order_id", order.ID, "user_id", userID, "points_used", order.PointsUsed)
	s.events.OrderCreated(ctx, order)

	return &PlaceOrderResult{Order: order}, nil
}

// settleMoney prices the cart, opens the gateway session, then reserves
// stock and persists the pending order. The gateway call happens between
// two transactions so no row lock is held across external I/O; the
// second transaction re-verifies stock before committing.
func (s *Service) settleMoney(ctx context.Context, userID string, in PlaceOrderInput) (*PlaceOrderResult, error) {
	// Pricing pass: validate the cart and compute the amount the session
	// must be opened for. Always rolled back; nothing may persist before
	// the gateway call succeeds.
	var (
		quote      float64
		quoteItems []OrderItem
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.UserForUpdate(ctx, userID); err != nil {
			return err
		}
		items, total, err := reserveAndPrice(ctx, tx, in.Items)
		if err != nil {
			return err
		}
		quote = RoundCents(total - in.Discount)
		quoteItems = items
		return errPricingOnly
	})
	if err != nil && !errors.Is(err, errPricingOnly) {
		return nil, err
	}
	if quote <= 0 {
		return nil, ErrNoPayableAmount
	}

	session, err := s.gateway.OpenSession(ctx, userID, quote, SessionPayload{
		Items:      quoteItems,
		Discount:   in.Discount,
		Settlement: SettlementMoney,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	var order *Order
	err = s.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.UserForUpdate(ctx, userID); err != nil {
			return err
		}

		items, total, err := reserveAndPrice(ctx, tx, in.Items)
		if err != nil {
			return err
		}
		total = RoundCents(total - in.Discount)
		if total < 0 {
			total = 0
		}

		now := time.Now().UTC()
		order = &Order{
			ID:          uuid.NewString(),
			UserID:      userID,
			Items:       items,
			TotalAmount: total,
			Discount:    in.Discount,
			Settlement:  SettlementMoney,
			Status:      StatusPending,
			SessionID:   session.ID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		// The session stays unused; the gateway expires it on its own.
		return nil, err
	}

	s.log.Info("order placed pending payment",
		"order_id", order.ID, "user_id", userID, "session_id", session.ID, "total", order.TotalAmount)
	s.events.OrderCreated(ctx, order)

	return &PlaceOrderResult{Order: order, CheckoutURL: session.URL}, nil
}

// errPricingOnly aborts the read-only pricing transaction on purpose.
var errPricingOnly = errors.New("pricing pass rollback")

// reserveAndPrice walks the cart once: resolves each item's stock
// counter (variant or product level), verifies and decrements it, and
// snapshots the discounted unit price into the line.
func reserveAndPrice(ctx context.Context, tx Tx, items []ItemInput) ([]OrderItem, float64, error) {
	out := make([]OrderItem, 0, len(items))
	var total float64

	for _, it := range items {
		product, err := tx.ProductForUpdate(ctx, it.ProductID)
		if err != nil {
			return nil, 0, err
		}

		if it.Color != "" || it.Size != "" {
			v := product.VariantFor(it.Color, it.Size)
			if v == nil {
				return nil, 0, fmt.Errorf("%w: %s (%s, %s)", ErrInvalidVariant, product.Name, it.Color, it.Size)
			}
			if v.Stock < it.Quantity {
				return nil, 0, fmt.Errorf("%w: %s (%s, %s)", ErrInsufficientStock, product.Name, it.Color, it.Size)
			}
			v.Stock -= it.Quantity
		} else {
			if product.Stock < it.Quantity {
				return nil, 0, fmt.Errorf("%w: %s", ErrInsufficientStock, product.Name)
			}
			product.Stock -= it.Quantity
		}

		unit := DiscountedUnitPrice(product.Price, product.DiscountPercentage)
		subtotal := LineSubtotal(unit, it.Quantity)
		total += subtotal

		out = append(out, OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			Color:     it.Color,
			Size:      it.Size,
			Quantity:  it.Quantity,
			UnitPrice: unit,
			Subtotal:  subtotal,
		})

		if err := tx.SaveProduct(ctx, product); err != nil {
			return nil, 0, err
		}
	}

	return out, RoundCents(total), nil
}

func validateInput(userID string, in PlaceOrderInput) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", ErrUserNotFound)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: empty cart", ErrInvalidInput)
	}
	for _, it := range in.Items {
		if it.ProductID == "" {
			return fmt.Errorf("%w: empty product id", ErrInvalidInput)
		}
		if it.Quantity < 1 {
			return fmt.Errorf("%w: quantity must be at least 1 for product %s", ErrInvalidInput, it.ProductID)
		}
	}
	if in.Discount < 0 {
		return fmt.Errorf("%w: discount must not be negative", ErrInvalidInput)
	}
	if in.Settlement != "" && !in.Settlement.Valid() {
		return fmt.Errorf("%w: unknown settlement method %q", ErrInvalidInput, in.Settlement)
	}
	return nil
}

// ReopenSession opens a fresh gateway session for an existing pending
// money order, replacing its reconciliation key. Used when the shopper
// lost the original redirect. The gateway call runs before the update
// transaction so no lock is held across external I/O.
func (s *Service) ReopenSession(ctx context.Context, orderID string) (string, error) {
	order, err := s.store.OrderByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order.Settlement != SettlementMoney || order.Status != StatusPending {
		return "", fmt.Errorf("%w: order %s is not awaiting payment", ErrNoPayableAmount, orderID)
	}
	if order.TotalAmount <= 0 {
		return "", ErrNoPayableAmount
	}

	session, err := s.gateway.OpenSession(ctx, order.UserID, order.TotalAmount, SessionPayload{
		Items:      order.Items,
		Discount:   order.Discount,
		Settlement: SettlementMoney,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != StatusPending {
			// Confirmed or reaped while we were talking to the gateway.
			return fmt.Errorf("%w: order %s is not awaiting payment", ErrNoPayableAmount, orderID)
		}
		o.SessionID = session.ID
		o.UpdatedAt = time.Now().UTC()
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

// UpdateStatus applies an administrative status change, validating the
// transition and recording who made it.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status Status, adminID string) (*Order, error) {
	if !ValidStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}

	var order *Order
	err := s.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !CanTransition(o.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, status)
		}
		o.Status = status
		o.UpdatedBy = adminID
		o.UpdatedAt = time.Now().UTC()
		order = o
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	return s.store.OrderByID(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, page, limit int) ([]*Order, int, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.store.ListOrders(ctx, page, limit)
}

// DeleteOrder removes an order record. Administrative only; it has no
// inventory side effects.
func (s *Service) DeleteOrder(ctx context.Context, id string) error {
	return s.store.DeleteOrder(ctx, id)
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	return s.store.ListProducts(ctx)
}
