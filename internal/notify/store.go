package notify

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotificationNotFound = errors.New("notification not found")

// Notification is a persisted per-user message derived from an order
// lifecycle event.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	OrderID   string    `json:"order_id"`
	EventType string    `json:"event_type"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists notifications in PostgreSQL.
type Store struct{ DB *pgxpool.Pool }

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) Create(ctx context.Context, n *Notification) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO notifications (id, user_id, order_id, event_type, message, read, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		n.ID, n.UserID, n.OrderID, n.EventType, n.Message, n.Read, n.CreatedAt)
	return err
}

// List returns a user's notifications, newest first. unreadOnly narrows
// to unread ones.
func (s *Store) List(ctx context.Context, userID string, unreadOnly bool, page, limit int) ([]Notification, error) {
	q := `
		SELECT id, user_id, order_id, event_type, message, read, created_at
		FROM notifications
		WHERE user_id=$1`
	if unreadOnly {
		q += ` AND read=false`
	}
	q += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := s.DB.Query(ctx, q, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.OrderID, &n.EventType, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND read=false`, userID).Scan(&count)
	return count, err
}

func (s *Store) MarkRead(ctx context.Context, userID, id string) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE notifications SET read=true WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrNotificationNotFound
	}
	return nil
}

func (s *Store) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE notifications SET read=true WHERE user_id=$1 AND read=false`, userID)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (s *Store) Delete(ctx context.Context, userID, id string) error {
	ct, err := s.DB.Exec(ctx, `
		DELETE FROM notifications WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrNotificationNotFound
	}
	return nil
}
