// subscriptions.go -- Subscriber + confirmation token queries.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// InsertSubscriber adds a pending subscriber inside tx.
// Returns ErrDuplicateEmail when the email is already present.
func (s *PostgresStore) InsertSubscriber(ctx context.Context, tx pgx.Tx, sub Subscriber) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO subscriptions (id, email, name, subscribed_at, status)
		 VALUES ($1, $2, $3, $4, $5)`,
		sub.ID, sub.Email, sub.Name, sub.SubscribedAt, sub.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting subscriber: %w", err)
	}
	return nil
}

// StoreSubscriptionToken links a confirmation token to subscriberID inside tx.
func (s *PostgresStore) StoreSubscriptionToken(ctx context.Context, tx pgx.Tx, subscriberID uuid.UUID, token string) error {
	_, err := tx.Exec(ctx,
		"INSERT INTO subscription_tokens (subscription_token, subscriber_id) VALUES ($1, $2)",
		token, subscriberID)
	if err != nil {
		return fmt.Errorf("storing subscription token: %w", err)
	}
	return nil
}

// GetSubscriberIDFromToken resolves a confirmation token. Returns ErrNotFound for unknown tokens.
func (s *PostgresStore) GetSubscriberIDFromToken(ctx context.Context, token string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		"SELECT subscriber_id FROM subscription_tokens WHERE subscription_token = $1",
		token,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("fetching subscriber id from token: %w", err)
	}
	return id, nil
}

// ConfirmSubscriber marks the subscriber as confirmed. Confirming twice is a no-op.
func (s *PostgresStore) ConfirmSubscriber(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE subscriptions SET status = $2 WHERE id = $1",
		id, StatusConfirmed)
	if err != nil {
		return fmt.Errorf("confirming subscriber: %w", err)
	}
	return nil
}
