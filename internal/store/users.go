package store

import (
	"context"
	"strings"

	"marketplace-orders/internal/apperr"
	"marketplace-orders/internal/models"
)

func (q *queries) CreateUser(ctx context.Context, u *models.User) error {
	u.Email = strings.ToLower(u.Email)
	err := q.ext.QueryRowxContext(ctx, `
		INSERT INTO users (email, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		u.Email, u.PasswordHash, u.Role).Scan(&u.ID, &u.CreatedAt)
	if isUniqueViolation(err) {
		return apperr.Conflict("email already registered")
	}
	return err
}

func (q *queries) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	found, err := q.getOne(ctx, &u,
		"SELECT id, email, password_hash, role, created_at FROM users WHERE email = $1",
		strings.ToLower(email))
	if err != nil || !found {
		return nil, err
	}
	return &u, nil
}

func (q *queries) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	found, err := q.getOne(ctx, &u,
		"SELECT id, email, password_hash, role, created_at FROM users WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound("user", id)
	}
	return &u, nil
}
