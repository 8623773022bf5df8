package notify

import (
	"context"

	"github.com/karoseri/quotedesk/internal/platform/db"
)

// PgStore persists notifications.
type PgStore struct {
	db db.DBTX
}

// NewPgStore constructs a PgStore.
func NewPgStore(conn db.DBTX) *PgStore {
	return &PgStore{db: conn}
}

// Insert stores n. Redelivered tasks reuse the id, so a second insert is a no-op.
func (s *PgStore) Insert(ctx context.Context, n Notification) error {
	_, err := s.db.Exec(ctx, `INSERT INTO notifications (id, user_id, title, description, link, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`, n.ID, n.UserID, n.Title, n.Description, n.Link, n.CreatedAt)
	return err
}

// ListUnread returns the newest unread notifications of a user.
func (s *PgStore) ListUnread(ctx context.Context, userID int64, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `SELECT id, user_id, title, description, link, created_at, read_at
FROM notifications WHERE user_id=$1 AND read_at IS NULL
ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Description, &n.Link, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
