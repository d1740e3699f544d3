// issues.go -- Newsletter issue queries.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// InsertNewsletterIssue writes an issue inside tx. published_at is taken from issue,
// zero value means "now" on the database side.
func (s *PostgresStore) InsertNewsletterIssue(ctx context.Context, tx pgx.Tx, issue NewsletterIssue) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO newsletter_issues (id, title, text_content, html_content, published_at)
		 VALUES ($1, $2, $3, $4, COALESCE($5, now()))`,
		issue.ID, issue.Title, issue.TextContent, issue.HTMLContent, nullTime(issue.PublishedAt))
	if err != nil {
		return fmt.Errorf("inserting newsletter issue: %w", err)
	}
	return nil
}

// GetNewsletterIssue fetches a single issue. Returns ErrNotFound if missing.
func (s *PostgresStore) GetNewsletterIssue(ctx context.Context, id uuid.UUID) (*NewsletterIssue, error) {
	var issue NewsletterIssue
	err := s.pool.QueryRow(ctx,
		"SELECT id, title, text_content, html_content, published_at FROM newsletter_issues WHERE id = $1",
		id,
	).Scan(&issue.ID, &issue.Title, &issue.TextContent, &issue.HTMLContent, &issue.PublishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching newsletter issue: %w", err)
	}
	return &issue, nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
