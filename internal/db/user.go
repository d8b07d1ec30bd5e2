package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrEmptyEmail = errors.New("email is empty")

// GetOrCreateUser returns the user's id for the given email, creating the user if needed.
// Emails are compared case-insensitively, so "Alice@Example.com" and "alice@example.com"
// share one id and therefore one AI rate-limit window.
func GetOrCreateUser(ctx context.Context, pool *pgxpool.Pool, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrEmptyEmail
	}

	var userID string
	err := pool.QueryRow(ctx, `
		INSERT INTO users (email)
		VALUES ($1)
		ON CONFLICT (email) DO UPDATE SET updated_at = now()
		RETURNING id::text
	`, email).Scan(&userID)

	if err != nil {
		return "", fmt.Errorf("failed to get or create user: %w", err)
	}

	return userID, nil
}
