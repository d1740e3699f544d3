// Package delivery is the outbox side of publishing: rows in issue_delivery_queue
// are written in the publishing transaction and drained by Worker.
package delivery

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// EnqueueDeliveryTasks inserts one queue row per confirmed subscriber for issueID,
// inside tx. A single INSERT ... SELECT so the recipient snapshot is whatever that
// one statement sees. Returns the number of rows queued.
func EnqueueDeliveryTasks(ctx context.Context, tx pgx.Tx, issueID uuid.UUID) (int64, error) {
	tag, err := tx.Exec(ctx,
		`INSERT INTO issue_delivery_queue (newsletter_issue_id, subscriber_email)
		 SELECT $1, email
		 FROM subscriptions
		 WHERE status = 'confirmed'`,
		issueID)
	if err != nil {
		return 0, fmt.Errorf("enqueuing delivery tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}
