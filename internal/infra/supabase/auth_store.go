package supabase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
)

// ============================================================
// UserStore implementation: account owners via PostgREST
// ============================================================

// userRow carries the password hash, which domain.User never serializes.
type userRow struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

func (r userRow) toDomain() *domain.User {
	return &domain.User{
		ID:           r.ID,
		Name:         r.Name,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt,
	}
}

func (c *Client) CreateUser(ctx context.Context, user *domain.User) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateUser")
	defer span.End()

	row := userRow{
		ID:           user.ID,
		Name:         user.Name,
		Email:        strings.ToLower(user.Email),
		PasswordHash: user.PasswordHash,
		CreatedAt:    user.CreatedAt,
	}
	return c.call(ctx, "users", func() error {
		_, err := c.doPost(ctx, tableUsers, row)
		return err
	})
}

func (c *Client) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetUserByEmail")
	defer span.End()

	return c.getUser(ctx, eq("email", strings.ToLower(email)), email)
}

func (c *Client) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetUserByID")
	defer span.End()

	return c.getUser(ctx, eq("id", id), id)
}

func (c *Client) getUser(ctx context.Context, filter, key string) (*domain.User, error) {
	var rows []userRow
	err := c.call(ctx, "users", func() error {
		rows = nil
		if err := c.getList(ctx, fmt.Sprintf("%s?%s&limit=1", tableUsers, filter), &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return &domain.ErrNotFound{Resource: "user", ID: key}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows[0].toDomain(), nil
}
