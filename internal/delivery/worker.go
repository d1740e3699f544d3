// worker.go
//
// Drains issue_delivery_queue one row at a time. Each row is claimed with
// FOR UPDATE SKIP LOCKED in its own transaction, so any number of workers can
// run against the same table without handing the same row to two of them.
//
// Delivery is at-least-once: the row is deleted only after the send attempt,
// so a crash in between re-sends on restart.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MGallo-Code/herald/internal/mail"
	"github.com/MGallo-Code/herald/internal/subscriber"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/MGallo-Code/herald/internal/delivery")

// ExecutionOutcome reports what a single TryExecuteTask call did.
type ExecutionOutcome int

const (
	// TaskCompleted means a row was claimed and retired (sent, failed, or skipped).
	TaskCompleted ExecutionOutcome = iota
	// EmptyQueue means no unlocked row was available.
	EmptyQueue
)

func (o ExecutionOutcome) String() string {
	switch o {
	case TaskCompleted:
		return "task_completed"
	case EmptyQueue:
		return "empty_queue"
	default:
		return fmt.Sprintf("ExecutionOutcome(%d)", int(o))
	}
}

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Config tunes a Worker. Zero values fall back to the defaults below.
type Config struct {
	// SendTimeout bounds a single Mailer.Send call. Default 10s.
	SendTimeout time.Duration
	// IdleDelay is how long Run sleeps after EmptyQueue or an error. Default 1s.
	IdleDelay time.Duration
}

// Worker delivers queued newsletter issues through a Mailer.
type Worker struct {
	db          TxBeginner
	mailer      mail.Mailer
	sendTimeout time.Duration
	idleDelay   time.Duration
}

// NewWorker builds a Worker. db and mailer are owned by the caller.
func NewWorker(db TxBeginner, mailer mail.Mailer, cfg Config) *Worker {
	w := &Worker{
		db:          db,
		mailer:      mailer,
		sendTimeout: cfg.SendTimeout,
		idleDelay:   cfg.IdleDelay,
	}
	if w.sendTimeout <= 0 {
		w.sendTimeout = 10 * time.Second
	}
	if w.idleDelay <= 0 {
		w.idleDelay = time.Second
	}
	return w
}

// Run loops until ctx is cancelled. A completed task loops again straight away;
// an empty queue or an error waits IdleDelay first. Always returns nil.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("delivery worker started")
	runLoop(ctx, w.TryExecuteTask, w.idleDelay)
	slog.Info("delivery worker stopped")
	return nil
}

// runLoop is Run without the Worker, so the scheduling policy can be tested alone.
func runLoop(ctx context.Context, step func(context.Context) (ExecutionOutcome, error), idle time.Duration) {
	for {
		if ctx.Err() != nil {
			return
		}
		outcome, err := step(ctx)
		if err == nil && outcome == TaskCompleted {
			continue
		}
		if err != nil && ctx.Err() == nil {
			slog.Error("delivery task failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(idle):
		}
	}
}

// TryExecuteTask claims at most one queued row, attempts delivery, and retires it.
func (w *Worker) TryExecuteTask(ctx context.Context) (ExecutionOutcome, error) {
	ctx, span := tracer.Start(ctx, "delivery.try_execute_task", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	tx, err := w.db.Begin(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "begin failed")
		return EmptyQueue, fmt.Errorf("beginning delivery transaction: %w", err)
	}
	// No-op after Commit
	defer tx.Rollback(context.Background())

	var issueID uuid.UUID
	var email string
	err = tx.QueryRow(ctx,
		`SELECT newsletter_issue_id, subscriber_email
		 FROM issue_delivery_queue
		 FOR UPDATE
		 SKIP LOCKED
		 LIMIT 1`,
	).Scan(&issueID, &email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EmptyQueue, nil
		}
		span.SetStatus(codes.Error, "claim failed")
		return EmptyQueue, fmt.Errorf("claiming delivery task: %w", err)
	}

	span.SetAttributes(
		attribute.String("newsletter_issue_id", issueID.String()),
		attribute.String("subscriber_email", email),
	)

	if err := w.deliver(ctx, tx, issueID, email); err != nil {
		span.SetStatus(codes.Error, "deliver failed")
		return EmptyQueue, err
	}

	// Retire: the only commit point for the claim
	if _, err := tx.Exec(ctx,
		`DELETE FROM issue_delivery_queue
		 WHERE newsletter_issue_id = $1 AND subscriber_email = $2`,
		issueID, email,
	); err != nil {
		span.SetStatus(codes.Error, "retire failed")
		return EmptyQueue, fmt.Errorf("deleting delivery task: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		span.SetStatus(codes.Error, "commit failed")
		return EmptyQueue, fmt.Errorf("committing delivery task: %w", err)
	}

	return TaskCompleted, nil
}

// deliver re-validates the stored address and sends the issue to it.
// Bad addresses and send failures are logged, counted and swallowed so the row
// still gets retired. Only store errors are returned.
func (w *Worker) deliver(ctx context.Context, tx pgx.Tx, issueID uuid.UUID, rawEmail string) error {
	email, err := subscriber.ParseEmail(rawEmail)
	if err != nil {
		slog.Warn("skipping a confirmed subscriber, stored contact details are invalid",
			"newsletter_issue_id", issueID, "email", rawEmail, "error", err)
		tasksTotal.WithLabelValues("skipped_invalid").Inc()
		return nil
	}

	var title, textContent, htmlContent string
	err = tx.QueryRow(ctx,
		"SELECT title, text_content, html_content FROM newsletter_issues WHERE id = $1",
		issueID,
	).Scan(&title, &textContent, &htmlContent)
	if err != nil {
		return fmt.Errorf("fetching newsletter issue %s: %w", issueID, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	defer cancel()
	start := time.Now()
	err = w.mailer.Send(sendCtx, email.String(), title, htmlContent, textContent)
	sendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Error("failed to deliver issue to a confirmed subscriber, skipping",
			"newsletter_issue_id", issueID, "email", email.String(), "error", err)
		tasksTotal.WithLabelValues("send_failed").Inc()
		return nil
	}

	tasksTotal.WithLabelValues("sent").Inc()
	return nil
}
