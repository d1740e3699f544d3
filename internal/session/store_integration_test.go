//go:build integration

package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MGallo-Code/herald/internal/session"
	"github.com/MGallo-Code/herald/internal/testutil"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/puddle/v2"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable time source shared by a store and a reaper.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestPgStore(t *testing.T) (*session.PgStore, *pgxpool.Pool, *fakeClock) {
	t.Helper()
	ps := testutil.NewTestStore(t)
	clock := &fakeClock{t: time.Now()}
	s := session.NewPgStore(ps.Pool())
	s.SetClock(clock.Now)
	return s, ps.Pool(), clock
}

func rowCount(t *testing.T, pool *pgxpool.Pool) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), "SELECT count(*) FROM sessions").Scan(&n))
	return n
}

// --- PgStore ---

func TestPgStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestPgStore(t)

	state := session.State{"user_id": "abc", "_flash": "héllo \"quoted\""}
	id, err := s.Save(ctx, state, time.Hour)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	got, ok, err := s.Load(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, state, got)

	t.Run("ids are fresh per save", func(t *testing.T) {
		other, err := s.Save(ctx, state, time.Hour)
		require.NoError(t, err)
		require.NotEqual(t, id, other)
	})

	t.Run("unknown id is absent", func(t *testing.T) {
		_, ok, err := s.Load(ctx, uuid.Must(uuid.NewV4()))
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestPgStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s, pool, clock := newTestPgStore(t)

	id, err := s.Save(ctx, session.State{"k": "v"}, time.Minute)
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	_, ok, err := s.Load(ctx, id)
	require.NoError(t, err)
	require.True(t, ok, "session should be live before ttl elapses")

	clock.Advance(2 * time.Second)
	_, ok, err = s.Load(ctx, id)
	require.NoError(t, err)
	require.False(t, ok, "session should be absent after ttl elapses")

	// Lazy expiry, the row stays until the reaper runs
	require.Equal(t, 1, rowCount(t, pool))
}

func TestPgStore_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("existing row keeps its id", func(t *testing.T) {
		s, pool, clock := newTestPgStore(t)
		id, err := s.Save(ctx, session.State{"k": "v"}, time.Minute)
		require.NoError(t, err)

		clock.Advance(30 * time.Second)
		got, err := s.Update(ctx, id, session.State{"k": "v2"}, time.Minute)
		require.NoError(t, err)
		require.Equal(t, id, got)

		// Expiry was pushed out from the update time
		clock.Advance(45 * time.Second)
		state, ok, err := s.Load(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, session.State{"k": "v2"}, state)
		require.Equal(t, 1, rowCount(t, pool))
	})

	t.Run("missing row falls back to save with a new id", func(t *testing.T) {
		s, _, _ := newTestPgStore(t)
		gone := uuid.Must(uuid.NewV4())

		got, err := s.Update(ctx, gone, session.State{"k": "v"}, time.Minute)
		require.NoError(t, err)
		require.NotEqual(t, gone, got)

		state, ok, err := s.Load(ctx, got)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, session.State{"k": "v"}, state)
	})

	t.Run("expired row is not revived", func(t *testing.T) {
		s, _, clock := newTestPgStore(t)
		id, err := s.Save(ctx, session.State{"k": "v"}, time.Minute)
		require.NoError(t, err)

		clock.Advance(2 * time.Minute)
		got, err := s.Update(ctx, id, session.State{"k": "v2"}, time.Minute)
		require.NoError(t, err)
		require.NotEqual(t, id, got)

		_, ok, err := s.Load(ctx, id)
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestPgStore_Delete(t *testing.T) {
	ctx := context.Background()
	s, pool, _ := newTestPgStore(t)

	id, err := s.Save(ctx, session.State{"k": "v"}, time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, id))
	require.Equal(t, 0, rowCount(t, pool))

	// Second delete of the same id is fine
	require.NoError(t, s.Delete(ctx, id))
	require.NoError(t, s.Delete(ctx, uuid.Must(uuid.NewV4())))
}

// --- Reaper ---

func TestReaper_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	s, pool, clock := newTestPgStore(t)

	_, err := s.Save(ctx, session.State{"k": "short"}, time.Minute)
	require.NoError(t, err)
	_, err = s.Save(ctx, session.State{"k": "short2"}, time.Minute)
	require.NoError(t, err)
	live, err := s.Save(ctx, session.State{"k": "long"}, time.Hour)
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	r := session.NewReaper(pool, time.Hour)
	r.SetClock(clock.Now)

	n, err := r.DeleteExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.Equal(t, 1, rowCount(t, pool))

	_, ok, err := s.Load(ctx, live)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReaper_Run(t *testing.T) {
	t.Run("sweeps on each tick and stops on cancel", func(t *testing.T) {
		s, pool, clock := newTestPgStore(t)
		_, err := s.Save(context.Background(), session.State{"k": "v"}, time.Minute)
		require.NoError(t, err)
		clock.Advance(time.Hour)

		r := session.NewReaper(pool, 20*time.Millisecond)
		r.SetClock(clock.Now)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- r.Run(ctx) }()

		require.Eventually(t, func() bool { return rowCount(t, pool) == 0 }, 5*time.Second, 20*time.Millisecond)
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("reaper did not stop after cancel")
		}
	})

	t.Run("exits quietly once the pool is closed", func(t *testing.T) {
		ps := testutil.NewTestStore(t)
		// Own pool so closing it doesn't affect test cleanup
		pool, err := pgxpool.NewWithConfig(context.Background(), ps.Pool().Config())
		require.NoError(t, err)
		pool.Close()

		r := session.NewReaper(pool, 10*time.Millisecond)
		done := make(chan error, 1)
		go func() { done <- r.Run(context.Background()) }()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("reaper kept running on a closed pool")
		}
	})

	t.Run("closed pool surfaces as a closed-pool error", func(t *testing.T) {
		ps := testutil.NewTestStore(t)
		pool, err := pgxpool.NewWithConfig(context.Background(), ps.Pool().Config())
		require.NoError(t, err)
		pool.Close()

		_, err = session.NewReaper(pool, time.Hour).DeleteExpired(context.Background())
		require.True(t, errors.Is(err, puddle.ErrClosedPool), "got %v", err)
	})
}
