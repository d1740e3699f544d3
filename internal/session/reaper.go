// reaper.go

// Periodic physical deletion of expired session rows.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/puddle/v2"
)

// Reaper deletes expired sessions on a fixed interval.
type Reaper struct {
	pool     *pgxpool.Pool
	interval time.Duration
	now      func() time.Time
}

// NewReaper builds a Reaper. interval <= 0 falls back to 30s.
func NewReaper(pool *pgxpool.Pool, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reaper{pool: pool, interval: interval, now: time.Now}
}

// Run sweeps every interval until ctx is done or the pool is closed.
// Other errors are logged and the next tick tries again. Always returns nil.
func (r *Reaper) Run(ctx context.Context) error {
	slog.Info("session reaper started", "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session reaper stopped")
			return nil
		case <-ticker.C:
		}

		n, err := r.DeleteExpired(ctx)
		switch {
		case err == nil:
			reapedTotal.Add(float64(n))
			if n > 0 {
				slog.Debug("expired sessions deleted", "deleted", n)
			}
		case errors.Is(err, puddle.ErrClosedPool):
			slog.Info("session reaper stopped, pool closed")
			return nil
		case ctx.Err() != nil:
			slog.Info("session reaper stopped")
			return nil
		default:
			slog.Warn("session cleanup failed", "error", err)
		}
	}
}

// DeleteExpired removes every row whose expires_at has passed, in one statement.
func (r *Reaper) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, "DELETE FROM sessions WHERE expires_at <= $1", r.now())
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
