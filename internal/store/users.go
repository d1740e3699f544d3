// users.go -- Admin account queries.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// CreateUser inserts a new admin. The caller generates the UUID v7 and Argon2id hash.
func (s *PostgresStore) CreateUser(ctx context.Context, id uuid.UUID, username, passwordHash string) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO users (user_id, username, password_hash) VALUES ($1, $2, $3)",
		id, username, passwordHash)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetUserByUsername returns the stored credentials for username.
// Returns ErrNotFound if no such user exists.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		"SELECT user_id, username, password_hash FROM users WHERE username = $1",
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching user by username: %w", err)
	}
	return &u, nil
}

// GetUserByID returns the user row for id. Returns ErrNotFound if missing.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		"SELECT user_id, username, password_hash FROM users WHERE user_id = $1",
		id,
	).Scan(&u.ID, &u.Username, &u.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching user by id: %w", err)
	}
	return &u, nil
}

// UpdatePasswordHash replaces the stored hash for id.
// Returns ErrNotFound if the user vanished.
func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE users SET password_hash = $2 WHERE user_id = $1",
		id, passwordHash)
	if err != nil {
		return fmt.Errorf("updating password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
