package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/danuprasetya/go-shop-checkout/internal/checkout"
)

const batchSize = 100

// Reaper releases the stock held by money orders whose payment never
// arrived. A pending order older than the reservation TTL gets its
// items returned to inventory and the order is cancelled; if the
// payment still lands afterwards the reconciler acknowledges it
// without re-reserving.
type Reaper struct {
	store    checkout.Store
	events   checkout.EventSink
	ttl      time.Duration
	interval time.Duration
	log      *slog.Logger
}

func New(store checkout.Store, events checkout.EventSink, ttl, interval time.Duration, log *slog.Logger) *Reaper {
	return &Reaper{store: store, events: events, ttl: ttl, interval: interval, log: log}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.Sweep(ctx); err != nil {
				r.log.Error("sweep failed", "err", err)
			} else if n > 0 {
				r.log.Info("expired pending orders", "count", n)
			}
		}
	}
}

// Sweep expires one batch of overdue pending orders and returns how
// many it cancelled.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-r.ttl)
	overdue, err := r.store.PendingOlderThan(ctx, cutoff, batchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, o := range overdue {
		cancelled, err := r.expire(ctx, o.ID)
		if err != nil {
			r.log.Error("expire failed", "order_id", o.ID, "err", err)
			continue
		}
		if cancelled != nil {
			expired++
			r.events.OrderExpired(ctx, cancelled)
		}
	}
	return expired, nil
}

// expire restores the order's stock and cancels it in one transaction.
// The order is re-read under lock: the webhook may have confirmed it
// between the listing and now, in which case nothing happens.
func (r *Reaper) expire(ctx context.Context, orderID string) (*checkout.Order, error) {
	var cancelled *checkout.Order
	err := r.store.InTx(ctx, func(tx checkout.Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != checkout.StatusPending {
			return nil
		}

		for _, item := range o.Items {
			product, err := tx.ProductForUpdate(ctx, item.ProductID)
			if err != nil {
				return err
			}
			if item.Color != "" || item.Size != "" {
				if v := product.VariantFor(item.Color, item.Size); v != nil {
					v.Stock += item.Quantity
				} else {
					// Variant removed since checkout. Return the units to
					// the product-level counter rather than losing them.
					product.Stock += item.Quantity
				}
			} else {
				product.Stock += item.Quantity
			}
			if err := tx.SaveProduct(ctx, product); err != nil {
				return err
			}
		}

		o.Status = checkout.StatusCancelled
		o.UpdatedBy = "reaper"
		o.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		cancelled = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}
