package checkout

import (
	"context"
	"time"
)

// Tx is the transactional view the orchestrator and reconciler mutate
// state through. Every method participates in the surrounding
// transaction; ForUpdate reads take row locks so concurrent checkouts
// against the same product serialize instead of double-decrementing.
type Tx interface {
	UserForUpdate(ctx context.Context, id string) (*User, error)
	ProductForUpdate(ctx context.Context, id string) (*Product, error)
	SaveUser(ctx context.Context, u *User) error
	SaveProduct(ctx context.Context, p *Product) error

	InsertOrder(ctx context.Context, o *Order) error
	UpdateOrder(ctx context.Context, o *Order) error
	OrderForUpdate(ctx context.Context, id string) (*Order, error)
	OrderBySession(ctx context.Context, sessionID string) (*Order, error)
}

// Store provides the atomic unit plus the plain read paths that do not
// need locking.
type Store interface {
	// InTx runs fn inside one transaction. Any error from fn rolls the
	// whole transaction back; nothing is persisted.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	OrderByID(ctx context.Context, id string) (*Order, error)
	ListOrders(ctx context.Context, page, limit int) ([]*Order, int, error)
	DeleteOrder(ctx context.Context, id string) error

	ListProducts(ctx context.Context) ([]Product, error)

	// PendingOlderThan lists money orders still pending whose reservation
	// was taken before cutoff. Used by the reaper.
	PendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error)
}
