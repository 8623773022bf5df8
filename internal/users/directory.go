// Package users resolves display names and email addresses of staff accounts.
package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/karoseri/quotedesk/internal/platform/db"
	"github.com/karoseri/quotedesk/internal/shared"
)

// User is the read-only projection other packages need.
type User struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// Directory reads users from PostgreSQL.
type Directory struct {
	db db.DBTX
}

// NewDirectory constructs a Directory.
func NewDirectory(conn db.DBTX) *Directory {
	return &Directory{db: conn}
}

// GetUser returns the active user with id.
func (d *Directory) GetUser(ctx context.Context, id int64) (User, error) {
	var u User
	err := d.db.QueryRow(ctx, `SELECT id, full_name, email FROM users WHERE id=$1 AND is_active`, id).
		Scan(&u.ID, &u.FullName, &u.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.NotFoundf("user %d", id)
		}
		return User{}, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}
