package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore implements Store on PostgreSQL. Line items and variants are
// stored as JSONB on their parent rows; a unique index on
// orders.session_id backs reconciliation idempotency.
type PgStore struct{ DB *pgxpool.Pool }

func NewPgStore(db *pgxpool.Pool) *PgStore { return &PgStore{DB: db} }

func (s *PgStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) UserForUpdate(ctx context.Context, id string) (*User, error) {
	var u User
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, email, loyalty_points, created_at, updated_at
		FROM users WHERE id=$1 FOR UPDATE`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.LoyaltyPoints, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (t *pgTx) ProductForUpdate(ctx context.Context, id string) (*Product, error) {
	var (
		p        Product
		variants []byte
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, description, category, price, discount_percentage,
		       stock, variants, loyalty_points, on_sale, created_at, updated_at
		FROM products WHERE id=$1 FOR UPDATE`, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Price, &p.DiscountPercentage,
			&p.Stock, &variants, &p.LoyaltyPoints, &p.OnSale, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if len(variants) > 0 {
		if err := json.Unmarshal(variants, &p.Variants); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func (t *pgTx) SaveUser(ctx context.Context, u *User) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE users SET loyalty_points=$2, updated_at=now() WHERE id=$1`,
		u.ID, u.LoyaltyPoints)
	return err
}

func (t *pgTx) SaveProduct(ctx context.Context, p *Product) error {
	variants, err := json.Marshal(p.Variants)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		UPDATE products SET stock=$2, variants=$3, updated_at=now() WHERE id=$1`,
		p.ID, p.Stock, variants)
	return err
}

func (t *pgTx) InsertOrder(ctx context.Context, o *Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, items, total_amount, discount, points_used,
		                    settlement, status, session_id, updated_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''),NULLIF($10,''),$11,$12)`,
		o.ID, o.UserID, items, o.TotalAmount, o.Discount, o.PointsUsed,
		o.Settlement, o.Status, o.SessionID, o.UpdatedBy, o.CreatedAt, o.UpdatedAt)
	return err
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *Order) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders
		SET total_amount=$2, status=$3, session_id=NULLIF($4,''),
		    updated_by=NULLIF($5,''), updated_at=$6
		WHERE id=$1`,
		o.ID, o.TotalAmount, o.Status, o.SessionID, o.UpdatedBy, o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrOrderNotFound
	}
	return nil
}

func (t *pgTx) OrderForUpdate(ctx context.Context, id string) (*Order, error) {
	return scanOrderRow(t.tx.QueryRow(ctx, orderSelect+` WHERE id=$1 FOR UPDATE`, id))
}

func (t *pgTx) OrderBySession(ctx context.Context, sessionID string) (*Order, error) {
	return scanOrderRow(t.tx.QueryRow(ctx, orderSelect+` WHERE session_id=$1 FOR UPDATE`, sessionID))
}

const orderSelect = `
	SELECT id, user_id, items, total_amount, discount, points_used,
	       settlement, status, COALESCE(session_id,''), COALESCE(updated_by,''),
	       created_at, updated_at
	FROM orders`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrderRow(row rowScanner) (*Order, error) {
	var (
		o     Order
		items []byte
	)
	err := row.Scan(&o.ID, &o.UserID, &items, &o.TotalAmount, &o.Discount, &o.PointsUsed,
		&o.Settlement, &o.Status, &o.SessionID, &o.UpdatedBy, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PgStore) OrderByID(ctx context.Context, id string) (*Order, error) {
	return scanOrderRow(s.DB.QueryRow(ctx, orderSelect+` WHERE id=$1`, id))
}

func (s *PgStore) ListOrders(ctx context.Context, page, limit int) ([]*Order, int, error) {
	var total int
	if err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.DB.Query(ctx, orderSelect+`
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrderRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

func (s *PgStore) DeleteOrder(ctx context.Context, id string) error {
	ct, err := s.DB.Exec(ctx, `DELETE FROM orders WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrOrderNotFound
	}
	return nil
}

func (s *PgStore) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, name, description, category, price, discount_percentage,
		       stock, variants, loyalty_points, on_sale, created_at, updated_at
		FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var (
			p        Product
			variants []byte
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Price,
			&p.DiscountPercentage, &p.Stock, &variants, &p.LoyaltyPoints, &p.OnSale,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if len(variants) > 0 {
			if err := json.Unmarshal(variants, &p.Variants); err != nil {
				return nil, err
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PgStore) PendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error) {
	rows, err := s.DB.Query(ctx, orderSelect+`
		WHERE status=$1 AND settlement=$2 AND created_at < $3
		ORDER BY created_at LIMIT $4`,
		StatusPending, SettlementMoney, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
