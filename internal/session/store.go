// store.go
//
// Postgres-backed session persistence. Rows past expires_at are treated as
// absent on read and left for the Reaper to delete.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// State is the per-session key/value map.
type State map[string]string

// Backend is the load/save/update/delete contract the Manager depends on.
type Backend interface {
	Load(ctx context.Context, id uuid.UUID) (State, bool, error)
	Save(ctx context.Context, state State, ttl time.Duration) (uuid.UUID, error)
	Update(ctx context.Context, id uuid.UUID, state State, ttl time.Duration) (uuid.UUID, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// PgStore implements Backend on the sessions table.
type PgStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPgStore wraps pool. The pool is owned by the caller.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, now: time.Now}
}

// Load returns the state for id. ok is false when no row exists or it has expired.
func (s *PgStore) Load(ctx context.Context, id uuid.UUID) (State, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		"SELECT state FROM sessions WHERE id = $1 AND expires_at > $2",
		id, s.now(),
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("loading session: %w", err)
	}

	state, err := decodeState(raw)
	if err != nil {
		return nil, false, err
	}
	return state, true, nil
}

// Save inserts state under a fresh random id and returns that id.
func (s *PgStore) Save(ctx context.Context, state State, ttl time.Duration) (uuid.UUID, error) {
	raw, err := encodeState(state)
	if err != nil {
		return uuid.Nil, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generating session id: %w", err)
	}

	now := s.now()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (id, state, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)`,
		id, raw, now, now.Add(ttl),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting session: %w", err)
	}
	return id, nil
}

// lookup is the result of the existence check in Update.
type lookup int

const (
	found lookup = iota
	notFound
)

// Update overwrites state and pushes expires_at out by ttl. If the row is gone
// (expired, reaped, deleted, or never existed) it saves under a new id instead. The
// returned id is the one to hand back to the client.
func (s *PgStore) Update(ctx context.Context, id uuid.UUID, state State, ttl time.Duration) (uuid.UUID, error) {
	raw, err := encodeState(state)
	if err != nil {
		return uuid.Nil, err
	}

	res, err := s.overwrite(ctx, id, raw, ttl)
	if err != nil {
		return uuid.Nil, err
	}

	switch res {
	case found:
		return id, nil
	case notFound:
		return s.Save(ctx, state, ttl)
	default:
		return uuid.Nil, fmt.Errorf("unexpected session lookup result %d", res)
	}
}

// overwrite updates the row in place and reports whether it was there.
func (s *PgStore) overwrite(ctx context.Context, id uuid.UUID, raw []byte, ttl time.Duration) (lookup, error) {
	now := s.now()
	// An expired row counts as gone, it must not be revived under the old id
	tag, err := s.pool.Exec(ctx,
		"UPDATE sessions SET state = $2, expires_at = $3 WHERE id = $1 AND expires_at > $4",
		id, raw, now.Add(ttl), now,
	)
	if err != nil {
		return notFound, fmt.Errorf("updating session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound, nil
	}
	return found, nil
}

// Delete removes id. Deleting a missing id is not an error.
func (s *PgStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE id = $1", id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func encodeState(state State) ([]byte, error) {
	if state == nil {
		state = State{}
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encoding session state: %w", err)
	}
	return raw, nil
}

func decodeState(raw []byte) (State, error) {
	state := State{}
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decoding session state: %w", err)
	}
	return state, nil
}
