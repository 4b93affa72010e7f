package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeGateway struct {
	mu    sync.Mutex
	fail  bool
	calls int

	lastAmount  float64
	lastPayload SessionPayload
}

func (g *fakeGateway) OpenSession(ctx context.Context, userID string, amount float64, payload SessionPayload) (Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return Session{}, errors.New("connection refused")
	}
	g.calls++
	g.lastAmount = amount
	g.lastPayload = payload
	return Session{
		ID:  fmt.Sprintf("cs_test_%d", g.calls),
		URL: fmt.Sprintf("https://pay.example.com/c/cs_test_%d", g.calls),
	}, nil
}

type recordSink struct {
	mu        sync.Mutex
	created   []string
	confirmed []string
	expired   []string
}

func (s *recordSink) OrderCreated(ctx context.Context, o *Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, o.ID)
}

func (s *recordSink) OrderConfirmed(ctx context.Context, o *Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmed = append(s.confirmed, o.ID)
}

func (s *recordSink) OrderExpired(ctx context.Context, o *Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired = append(s.expired, o.ID)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *memStore, *fakeGateway, *recordSink) {
	t.Helper()
	store := newMemStore()
	gw := &fakeGateway{}
	sink := &recordSink{}
	svc := NewService(store, gw, sink, discardLogger())

	now := time.Now().UTC()
	store.users["u1"] = &User{ID: "u1", Name: "Dina", LoyaltyPoints: 500, CreatedAt: now, UpdatedAt: now}
	store.products["p1"] = &Product{
		ID: "p1", Name: "Plain Tee", Price: 100, Stock: 10, CreatedAt: now, UpdatedAt: now,
	}
	store.products["p2"] = &Product{
		ID: "p2", Name: "Logo Hoodie", Price: 50, DiscountPercentage: 10, Stock: 5,
		Variants: []Variant{
			{Color: "black", Sizes: []string{"M", "L"}, Stock: 3},
			{Color: "white", Sizes: []string{"M"}, Stock: 1},
		},
		CreatedAt: now, UpdatedAt: now,
	}
	return svc, store, gw, sink
}

func TestPlaceOrderPoints(t *testing.T) {
	svc, store, _, sink := newTestService(t)

	res, err := svc.PlaceOrder(context.Background(), "u1", PlaceOrderInput{
		Items:      []ItemInput{{ProductID: "p1", Quantity: 2}},
		Settlement: SettlementPoints,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	o := res.Order
	if o.Status != StatusConfirmed {
		t.Errorf("status = %s, want confirmed", o.Status)
	}
	if o.TotalAmount != 0 {
		t.Errorf("total = %v, want 0 for points settlement", o.TotalAmount)
	}
	if o.PointsUsed != 200 {
		t.Errorf("points used = %v, want 200", o.PointsUsed)
	}
	if res.CheckoutURL != "" {
		t.Errorf("unexpected checkout url %q", res.CheckoutURL)
	}
	if got := store.users["u1"].LoyaltyPoints; got != 300 {
		t.Errorf("balance = %v, want 300", got)
	}
	if got := store.products["p1"].Stock; got != 8 {
		t.Errorf("stock = %d, want 8", got)
	}
	if len(sink.created) != 1 {
		t.Errorf("created events = %d, want 1", len(sink.created))
	}
}

func TestPlaceOrderPointsInsufficientBalance(t *testing.T) {
	svc, store, _, sink := newTestService(t)

	_, err := svc.PlaceOrder(context.Background(), "u1", PlaceOrderInput{
		Items:      []ItemInput{{ProductID: "p1", Quantity: 6}}, // 600 > 500
		Settlement: SettlementPoints,
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	// The whole transaction must roll back, including the reservation.
	if got := store.products["p1"].Stock; got != 10 {
		t.Errorf("stock = %d, want 10 after rollback", got)
	}
	if got := store.users["u1"].LoyaltyPoints; got != 500 {
		t.Errorf("balance = %v, want 500 after rollback", got)
	}
	if len(sink.created) != 0 {
		t.Errorf("created events = %d, want 0", len(sink.created))
	}
}

func TestPlaceOrderMultiItemAtomicity(t *testing.T) {
	svc, store, _, _ := newTestService(t)

	// First item is in stock, second is not: nothing may persist.
	_, err := svc.PlaceOrder(context.Background(), "u1", PlaceOrderInput{
		Items: []ItemInput{
			{ProductID: "p1", Quantity: 1},
			{ProductID: "p2", Quantity: 4, Color: "black", Size: "M"}, // variant stock 3
		},
		Settlement: SettlementPoints,
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}
	if got := store.products["p1"].Stock; got != 10 {
		t.Errorf("p1 stock = %d, want 10", got)
	}
	if got := store.products["p2"].Variants[0].Stock; got != 3 {
		t.Errorf("variant stock = %d, want 3", got)
	}
}

func TestPlaceOrderInvalidVariant(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	cases := []struct {
		name        string
		color, size string
	}{
		{"unknown color", "red", "M"},
		{"size not in color's list", "white", "L"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.PlaceOrder(context.Background(), "u1", PlaceOrderInput{
				Items:      []ItemInput{{ProductID: "p2", Quantity: 1, Color: tc.color, Size: tc.size}},
				Settlement: SettlementPoints,
			})
			if !errors.Is(err, ErrInvalidVariant) {
				t.Fatalf("err = %v, want ErrInvalidVariant", err)
			}
		})
	}
}

func TestPlaceOrderVariantStockIsIndependent(t *testing.T) {
	svc, store, _, _ := newTestService(t)

	_, err := svc.PlaceOrder(context.Background(), "u1", PlaceOrderInput{
		Items:      []ItemInput{{ProductID: "p2", Quantity: 2, Color: "black", Size: "M"}},
		Settlement: SettlementPoints,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	p := store.products["p2"]
	if p.Variants[0].Stock != 1 {
		t.Errorf("variant stock = %d, want 1", p.Variants[0].Stock)
	}
	if p.Stock != 5 {
		t.Errorf("product stock = %d, want 5 (untouched)", p.Stock)
	}
}

func TestPlaceOrderSnapshotsDiscountedPrice(t *testing.T) {
	svc, store, _, _ := newTestService(t)

	res, err := svc.PlaceOrder(context.Background(), "u1", PlaceOrderInput{
		Items:      []ItemInput{{ProductID: "p2", Quantity: 1, Color: "black", Size: "M"}},
		Settlement: SettlementPoints,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	item := res.Order.Items[0]
	if item.UnitPrice != 45 { // 50 minus 10%
		t.Errorf("unit price = %v, want 45", item.UnitPrice)
	}

	// A later catalog change must not affect the stored order.
	store.products["p2"].Price = 999
	got, err := svc.GetOrder(context.Background(), res.Order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Items[0].UnitPrice != 45 {
		t.Errorf("unit price after price change = %v, want 45", got.Items[0].UnitPrice)
	}
}

func TestPlaceOrderPointsDiscountClampsAtZero(t *testing.T) {
	svc, store, _, _ := newTestService(t)

	res, err := svc.PlaceOrder(context.Background(), "u1", PlaceOrderInput{
		Items:      []ItemInput{{ProductID: "p1", Quantity: 1}},
		Discount:   300, // exceeds the 100 subtotal
		Settlement: SettlementPoints,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if res.Order.PointsUsed != 0 {
		t.Errorf("points used = %v, want 0", res.Order.PointsUsed)
	}
	if got := store.users["u1"].LoyaltyPoints; got != 500 {
		t.Errorf("balance = %v, want 500", got)
	}
}

func TestPlaceOrderMoney(t *testing.T) {
	svc, store, gw, sink := newTestService(t)

	res, err := svc.PlaceOrder(context.Background(), "u1", PlaceOrderInput{
		Items:      []ItemInput{{ProductID: "p1", Quantity: 2}},
		Settlement: SettlementMoney,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	o := res.Order
	if o.Status != StatusPending {
		t.Errorf("status = %s, want pending", o.Status)
	}
	if o.SessionID == "" {
		t.Error("order has no session id")
	}
	if res.CheckoutURL == "" {
		t.Error("no checkout url returned")
	}
	if o.TotalAmount != 200 {
		t.Errorf("total = %v, want 200", o.TotalAmount)
	}
	if gw.lastAmount != 200 {
		t.Errorf("session amount = %v, want 200", gw.lastAmount)
	}
	if len(gw.lastPayload.Items) != 1 {
		t.Fatalf("session payload items = %d, want 1", len(gw.lastPayload.Items))
	}
	// Stock is reserved at creation, not at confirmation.
	if got := store.products["p1"].Stock; got != 8 {
		t.Errorf("stock = %d, want 8", got)
	}
	if len(sink.created) != 1 {
		t.Errorf("created events = %d, want 1", len(sink.created))
	}
}

func TestPlaceOrderMoneyGatewayFailure(t *testing.T) {
	svc, store, gw, sink := newTestService(t)
	gw.fail = true

	_, err := svc.PlaceOrder(context.Background(), "u1", PlaceOrderInput{
		Items:      []ItemInput{{ProductID: "p1", Quantity: 2}},
		Settlement: SettlementMoney,
	})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
	}
	if got := store.products["p1"].Stock; got != 10 {
		t.Errorf("stock = %d, want 10 (nothing reserved)", got)
	}
	if len(sink.created) != 0 {
		t.Errorf("created events = %d, want 0", len(sink.created))
	}
}

func TestPlaceOrderMoneyNoPayableAmount(t *testing.T) {
	svc, _, gw, _ := newTestService(t)

	_, err := svc.PlaceOrder(context.Background(), "u1", PlaceOrderInput{
		Items:      []ItemInput{{ProductID: "p1", Quantity: 1}},
		Discount:   100,
		Settlement: SettlementMoney,
	})
	if !errors.Is(err, ErrNoPayableAmount) {
		t.Fatalf("err = %v, want ErrNoPayableAmount", err)
	}
	if gw.calls != 0 {
		t.Errorf("gateway calls = %d, want 0", gw.calls)
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.PlaceOrder(ctx, "", PlaceOrderInput{Items: []ItemInput{{ProductID: "p1", Quantity: 1}}}); err == nil {
		t.Error("empty user id accepted")
	}
	if _, err := svc.PlaceOrder(ctx, "u1", PlaceOrderInput{}); err == nil {
		t.Error("empty cart accepted")
	}
	if _, err := svc.PlaceOrder(ctx, "u1", PlaceOrderInput{
		Items: []ItemInput{{ProductID: "p1", Quantity: 0}},
	}); err == nil {
		t.Error("zero quantity accepted")
	}
	if _, err := svc.PlaceOrder(ctx, "u1", PlaceOrderInput{
		Items:      []ItemInput{{ProductID: "p1", Quantity: 1}},
		Settlement: SettlementMethod("crypto"),
	}); err == nil {
		t.Error("unknown settlement accepted")
	}
	if _, err := svc.PlaceOrder(ctx, "nobody", PlaceOrderInput{
		Items:      []ItemInput{{ProductID: "p1", Quantity: 1}},
		Settlement: SettlementPoints,
	}); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}
}

func TestConcurrentCheckoutsConserveStock(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	store.users["u1"].LoyaltyPoints = 1e6

	const attempts = 25 // stock is 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PlaceOrder(context.Background(), "u1", PlaceOrderInput{
				Items:      []ItemInput{{ProductID: "p1", Quantity: 1}},
				Settlement: SettlementPoints,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Errorf("succeeded = %d, want exactly 10", succeeded)
	}
	if got := store.products["p1"].Stock; got != 0 {
		t.Errorf("final stock = %d, want 0", got)
	}
}

func TestUpdateStatus(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	now := time.Now().UTC()
	store.orders["o1"] = &Order{
		ID: "o1", UserID: "u1", Status: StatusConfirmed, Settlement: SettlementPoints,
		Items: []OrderItem{{ProductID: "p1", Quantity: 1}}, CreatedAt: now, UpdatedAt: now,
	}

	o, err := svc.UpdateStatus(context.Background(), "o1", StatusShipped, "admin-7")
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if o.Status != StatusShipped || o.UpdatedBy != "admin-7" {
		t.Errorf("got status=%s updated_by=%s", o.Status, o.UpdatedBy)
	}

	// moving backwards is rejected
	if _, err := svc.UpdateStatus(context.Background(), "o1", StatusConfirmed, "admin-7"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
	if _, err := svc.UpdateStatus(context.Background(), "o1", Status("archived"), "admin-7"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition for unknown status", err)
	}
}

func TestReopenSession(t *testing.T) {
	svc, store, gw, _ := newTestService(t)

	res, err := svc.PlaceOrder(context.Background(), "u1", PlaceOrderInput{
		Items:      []ItemInput{{ProductID: "p1", Quantity: 1}},
		Settlement: SettlementMoney,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	firstSession := res.Order.SessionID

	url, err := svc.ReopenSession(context.Background(), res.Order.ID)
	if err != nil {
		t.Fatalf("ReopenSession: %v", err)
	}
	if url == "" {
		t.Error("no url returned")
	}
	if gw.calls != 2 {
		t.Errorf("gateway calls = %d, want 2", gw.calls)
	}

	got := store.orders[res.Order.ID]
	if got.SessionID == firstSession {
		t.Error("session id was not replaced")
	}

	// Not allowed once the order left pending.
	got.Status = StatusConfirmed
	if _, err := svc.ReopenSession(context.Background(), res.Order.ID); err == nil {
		t.Error("reopen accepted for confirmed order")
	}
}

func TestListOrdersPagination(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	base := time.Now().UTC()
	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("o%d", i)
		store.orders[id] = &Order{
			ID: id, UserID: "u1", Status: StatusConfirmed, Settlement: SettlementPoints,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		}
	}

	page1, total, err := svc.ListOrders(context.Background(), 1, 3)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if total != 7 || len(page1) != 3 {
		t.Fatalf("total=%d len=%d, want 7 and 3", total, len(page1))
	}
	if page1[0].ID != "o6" {
		t.Errorf("first = %s, want newest (o6)", page1[0].ID)
	}

	page3, _, err := svc.ListOrders(context.Background(), 3, 3)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(page3) != 1 {
		t.Errorf("page 3 len = %d, want 1", len(page3))
	}
}
