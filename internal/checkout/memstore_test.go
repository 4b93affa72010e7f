package checkout

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store for tests. InTx holds the lock for the
// whole callback and restores a snapshot on error, mirroring the
// all-or-nothing commit of the SQL implementation.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*User
	products map[string]*Product
	orders   map[string]*Order
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[string]*User{},
		products: map[string]*Product{},
		orders:   map[string]*Order{},
	}
}

func (s *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapUsers := snapshotMap(s.users, cloneUser)
	snapProducts := snapshotMap(s.products, cloneProduct)
	snapOrders := snapshotMap(s.orders, cloneOrder)

	if err := fn(&memTx{s: s}); err != nil {
		s.users = snapUsers
		s.products = snapProducts
		s.orders = snapOrders
		return err
	}
	return nil
}

type memTx struct{ s *memStore }

func (t *memTx) UserForUpdate(ctx context.Context, id string) (*User, error) {
	u, ok := t.s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (t *memTx) ProductForUpdate(ctx context.Context, id string) (*Product, error) {
	p, ok := t.s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return cloneProduct(p), nil
}

func (t *memTx) SaveUser(ctx context.Context, u *User) error {
	t.s.users[u.ID] = cloneUser(u)
	return nil
}

func (t *memTx) SaveProduct(ctx context.Context, p *Product) error {
	t.s.products[p.ID] = cloneProduct(p)
	return nil
}

func (t *memTx) InsertOrder(ctx context.Context, o *Order) error {
	if _, exists := t.s.orders[o.ID]; exists {
		return fmt.Errorf("duplicate order id %s", o.ID)
	}
	if o.SessionID != "" {
		for _, other := range t.s.orders {
			if other.SessionID == o.SessionID {
				return fmt.Errorf("duplicate session id %s", o.SessionID)
			}
		}
	}
	t.s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (t *memTx) UpdateOrder(ctx context.Context, o *Order) error {
	if _, ok := t.s.orders[o.ID]; !ok {
		return ErrOrderNotFound
	}
	t.s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (t *memTx) OrderForUpdate(ctx context.Context, id string) (*Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (t *memTx) OrderBySession(ctx context.Context, sessionID string) (*Order, error) {
	for _, o := range t.s.orders {
		if o.SessionID == sessionID {
			return cloneOrder(o), nil
		}
	}
	return nil, ErrOrderNotFound
}

func (s *memStore) OrderByID(ctx context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *memStore) ListOrders(ctx context.Context, page, limit int) ([]*Order, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*Order, 0, len(s.orders))
	for _, o := range s.orders {
		all = append(all, cloneOrder(o))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	start := (page - 1) * limit
	if start >= len(all) {
		return nil, len(all), nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (s *memStore) DeleteOrder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return ErrOrderNotFound
	}
	delete(s.orders, id)
	return nil
}

func (s *memStore) ListProducts(ctx context.Context) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, *cloneProduct(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) PendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Order
	for _, o := range s.orders {
		if o.Status == StatusPending && o.Settlement == SettlementMoney && o.CreatedAt.Before(cutoff) {
			out = append(out, cloneOrder(o))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func snapshotMap[T any](m map[string]*T, clone func(*T) *T) map[string]*T {
	out := make(map[string]*T, len(m))
	for k, v := range m {
		out[k] = clone(v)
	}
	return out
}

func cloneUser(u *User) *User {
	c := *u
	return &c
}

func cloneProduct(p *Product) *Product {
	c := *p
	c.Variants = make([]Variant, len(p.Variants))
	for i, v := range p.Variants {
		cv := v
		cv.Sizes = append([]string(nil), v.Sizes...)
		cv.Images = append([]string(nil), v.Images...)
		c.Variants[i] = cv
	}
	return &c
}

func cloneOrder(o *Order) *Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	return &c
}
