// handler.go -- Dependencies shared by the newsletter HTTP handlers.
package newsletter

import (
	"context"

	"github.com/MGallo-Code/herald/internal/delivery"
	"github.com/MGallo-Code/herald/internal/idempotency"
	"github.com/MGallo-Code/herald/internal/mail"
	"github.com/MGallo-Code/herald/internal/store"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// Store defines database operations needed by newsletter handlers.
// Satisfied by *store.PostgresStore.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)

	InsertNewsletterIssue(ctx context.Context, tx pgx.Tx, issue store.NewsletterIssue) error

	InsertSubscriber(ctx context.Context, tx pgx.Tx, sub store.Subscriber) error
	StoreSubscriptionToken(ctx context.Context, tx pgx.Tx, subscriberID uuid.UUID, token string) error
	GetSubscriberIDFromToken(ctx context.Context, token string) (uuid.UUID, error)
	ConfirmSubscriber(ctx context.Context, id uuid.UUID) error
}

// IdempotencyCache is satisfied by *idempotency.Cache.
type IdempotencyCache interface {
	TryBegin(ctx context.Context, userID uuid.UUID, key idempotency.Key) (idempotency.NextAction, error)
	SaveResponse(ctx context.Context, tx pgx.Tx, userID uuid.UUID, key idempotency.Key, resp *idempotency.Response) (*idempotency.Response, error)
}

// EnqueueFunc queues delivery of issueID inside tx. Defaults to delivery.EnqueueDeliveryTasks.
type EnqueueFunc func(ctx context.Context, tx pgx.Tx, issueID uuid.UUID) (int64, error)

// Handler holds dependencies for the subscription and publishing endpoints.
type Handler struct {
	Store   Store
	Cache   IdempotencyCache
	Mailer  mail.Mailer
	BaseURL string // prefix for confirmation links, no trailing slash
	Enqueue EnqueueFunc
}

func (h *Handler) enqueue() EnqueueFunc {
	if h.Enqueue != nil {
		return h.Enqueue
	}
	return delivery.EnqueueDeliveryTasks
}
