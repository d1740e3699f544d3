package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/MGallo-Code/herald/internal/idempotency")

// ErrIncompleteRecord means the key was claimed but no response was ever saved:
// the claiming request rolled back after the row became visible, or it committed
// without calling SaveResponse. There is no reclaim policy, so the key stays unusable.
var ErrIncompleteRecord = errors.New("idempotency record exists without a saved response")

// ErrRecordNotFound is returned by GetSavedResponse when no row exists for the key.
var ErrRecordNotFound = errors.New("idempotency record not found")

// NextAction is what TryBegin tells the caller to do next.
// It is either StartProcessing or ReturnSavedResponse.
type NextAction interface {
	nextAction()
}

// StartProcessing means this request owns the key. Tx holds the claim row;
// all business writes must go through Tx, and SaveResponse commits it.
// On any failure before that, the caller must roll Tx back.
type StartProcessing struct {
	Tx pgx.Tx
}

// ReturnSavedResponse means the key was already used; write Response back unchanged.
type ReturnSavedResponse struct {
	Response *Response
}

func (StartProcessing) nextAction()     {}
func (ReturnSavedResponse) nextAction() {}

// Cache is the Postgres-backed idempotency store.
type Cache struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewCache returns a Cache on pool.
func NewCache(pool *pgxpool.Pool) *Cache {
	return &Cache{pool: pool, now: time.Now}
}

// TryBegin claims (userID, key) or returns the saved response for it.
//
// A concurrent request holding an uncommitted claim for the same key blocks the
// insert here until it commits (we then replay) or rolls back (we claim).
func (c *Cache) TryBegin(ctx context.Context, userID uuid.UUID, key Key) (NextAction, error) {
	ctx, span := tracer.Start(ctx, "idempotency.try_begin")
	defer span.End()

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "begin failed")
		return nil, fmt.Errorf("beginning idempotency transaction: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO idempotency (user_id, idempotency_key, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`,
		userID, string(key), c.now().UTC())
	if err != nil {
		tx.Rollback(ctx)
		span.SetStatus(codes.Error, "claim failed")
		return nil, fmt.Errorf("claiming idempotency key: %w", err)
	}

	if tag.RowsAffected() > 0 {
		span.SetAttributes(attribute.String("idempotency.outcome", "start_processing"))
		claimsTotal.WithLabelValues("start_processing").Inc()
		return StartProcessing{Tx: tx}, nil
	}

	// Someone else owns the key. Nothing to keep in this transaction.
	tx.Rollback(ctx)

	saved, err := c.GetSavedResponse(ctx, userID, key)
	if err != nil {
		if errors.Is(err, ErrIncompleteRecord) {
			claimsTotal.WithLabelValues("incomplete").Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "saved response unavailable")
		return nil, err
	}

	span.SetAttributes(attribute.String("idempotency.outcome", "return_saved_response"))
	claimsTotal.WithLabelValues("return_saved_response").Inc()
	return ReturnSavedResponse{Response: saved}, nil
}

// GetSavedResponse loads the completed response for (userID, key).
// Returns ErrRecordNotFound if there is no row, ErrIncompleteRecord if the row
// has no response yet.
func (c *Cache) GetSavedResponse(ctx context.Context, userID uuid.UUID, key Key) (*Response, error) {
	row := c.pool.QueryRow(ctx,
		`SELECT response_status_code, response_header_names, response_header_values, response_body
		 FROM idempotency
		 WHERE user_id = $1 AND idempotency_key = $2`,
		userID, string(key))

	resp, err := scanResponse(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		if errors.Is(err, ErrIncompleteRecord) {
			return nil, err
		}
		return nil, fmt.Errorf("fetching saved response: %w", err)
	}
	return resp, nil
}

// SaveResponse stores resp against the claim held by tx and commits tx.
// The returned Response is rebuilt from the values Postgres persisted, so callers
// should render it instead of resp.
func (c *Cache) SaveResponse(ctx context.Context, tx pgx.Tx, userID uuid.UUID, key Key, resp *Response) (*Response, error) {
	ctx, span := tracer.Start(ctx, "idempotency.save_response")
	defer span.End()

	names := make([]string, len(resp.Headers))
	values := make([][]byte, len(resp.Headers))
	for i, h := range resp.Headers {
		names[i] = h.Name
		values[i] = h.Value
		if values[i] == nil {
			values[i] = []byte{}
		}
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}

	row := tx.QueryRow(ctx,
		`UPDATE idempotency
		 SET response_status_code = $3,
		     response_header_names = $4,
		     response_header_values = $5,
		     response_body = $6
		 WHERE user_id = $1 AND idempotency_key = $2
		 RETURNING response_status_code, response_header_names, response_header_values, response_body`,
		userID, string(key), int16(resp.StatusCode), names, values, body)

	saved, err := scanResponse(row)
	if err != nil {
		tx.Rollback(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("saving response: %w", ErrRecordNotFound)
		}
		return nil, fmt.Errorf("saving response: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.SetStatus(codes.Error, "commit failed")
		return nil, fmt.Errorf("committing idempotency transaction: %w", err)
	}
	return saved, nil
}

// scanResponse reads the four response columns. A NULL status code is ErrIncompleteRecord.
func scanResponse(row pgx.Row) (*Response, error) {
	var (
		status *int16
		names  []string
		values [][]byte
		body   []byte
	)
	if err := row.Scan(&status, &names, &values, &body); err != nil {
		return nil, err
	}
	if status == nil {
		return nil, ErrIncompleteRecord
	}
	if len(names) != len(values) {
		return nil, fmt.Errorf("header names/values length mismatch: %d != %d", len(names), len(values))
	}

	headers := make([]HeaderPair, len(names))
	for i := range names {
		headers[i] = HeaderPair{Name: names[i], Value: values[i]}
	}
	if body == nil {
		body = []byte{}
	}
	return &Response{StatusCode: int(*status), Headers: headers, Body: body}, nil
}
