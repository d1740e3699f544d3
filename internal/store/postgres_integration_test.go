//go:build integration

package store_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"testing/fstest"

	"github.com/MGallo-Code/herald/internal/store"
	"github.com/MGallo-Code/herald/internal/testutil"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

// --- Helpers ---

// mustCreateUser inserts an admin with a placeholder hash, returns its id.
func mustCreateUser(t *testing.T, ps *store.PostgresStore, username string) uuid.UUID {
	t.Helper()
	id := uuid.Must(uuid.NewV7())
	require.NoError(t, ps.CreateUser(context.Background(), id, username, "hash"))
	return id
}

// mustInsertSubscriber commits a subscriber with the given status.
func mustInsertSubscriber(t *testing.T, ps *store.PostgresStore, email, status string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := uuid.Must(uuid.NewV7())

	tx, err := ps.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, ps.InsertSubscriber(ctx, tx, store.Subscriber{
		ID: id, Email: email, Name: "Test", Status: status,
	}))
	require.NoError(t, tx.Commit(ctx))
	return id
}

// --- Migrate ---

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	ps := testutil.NewTestStore(t)

	t.Run("applies migration and records version", func(t *testing.T) {
		testFS := fstest.MapFS{
			"900_test_migrate.sql": &fstest.MapFile{Data: []byte("CREATE TABLE test_migrate_tbl (id INT);")},
		}
		require.NoError(t, ps.Migrate(ctx, testFS))

		var tableExists, recorded bool
		require.NoError(t, ps.Pool().QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = 'test_migrate_tbl')",
		).Scan(&tableExists))
		require.NoError(t, ps.Pool().QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", "900_test_migrate.sql",
		).Scan(&recorded))
		if !tableExists {
			t.Error("expected test_migrate_tbl to exist after migration")
		}
		if !recorded {
			t.Error("expected migration version to be recorded in schema_migrations")
		}
	})

	t.Run("skips already-applied migrations", func(t *testing.T) {
		// Second run of the real schema must be a no-op, not a "relation exists" error
		if err := ps.Migrate(ctx, os.DirFS(testutil.MigrationsDir())); err != nil {
			t.Fatalf("re-running migrations failed: %v", err)
		}
	})

	t.Run("failed migration is rolled back and not recorded", func(t *testing.T) {
		testFS := fstest.MapFS{
			"901_broken.sql": &fstest.MapFile{Data: []byte("CREATE TABLE half_done (id INT); SELECT nope FROM nowhere;")},
		}
		if err := ps.Migrate(ctx, testFS); err == nil {
			t.Fatal("expected error from broken migration, got nil")
		}

		var tableExists, recorded bool
		require.NoError(t, ps.Pool().QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = 'half_done')",
		).Scan(&tableExists))
		require.NoError(t, ps.Pool().QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", "901_broken.sql",
		).Scan(&recorded))
		if tableExists {
			t.Error("half_done table should have been rolled back")
		}
		if recorded {
			t.Error("broken migration should not be recorded")
		}
	})
}

// --- Users ---

func TestUsers(t *testing.T) {
	ctx := context.Background()
	ps := testutil.NewTestStore(t)

	t.Run("lookup by username and id", func(t *testing.T) {
		id := mustCreateUser(t, ps, "alice")

		byName, err := ps.GetUserByUsername(ctx, "alice")
		require.NoError(t, err)
		if byName.ID != id {
			t.Errorf("ID: expected %v, got %v", id, byName.ID)
		}

		byID, err := ps.GetUserByID(ctx, id)
		require.NoError(t, err)
		if byID.Username != "alice" {
			t.Errorf("Username: expected %q, got %q", "alice", byID.Username)
		}
	})

	t.Run("unknown user returns ErrNotFound", func(t *testing.T) {
		if _, err := ps.GetUserByUsername(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := ps.GetUserByID(ctx, uuid.Must(uuid.NewV7())); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("update password hash", func(t *testing.T) {
		id := mustCreateUser(t, ps, "bob")
		require.NoError(t, ps.UpdatePasswordHash(ctx, id, "new-hash"))

		u, err := ps.GetUserByID(ctx, id)
		require.NoError(t, err)
		if u.PasswordHash != "new-hash" {
			t.Errorf("PasswordHash: expected %q, got %q", "new-hash", u.PasswordHash)
		}

		if err := ps.UpdatePasswordHash(ctx, uuid.Must(uuid.NewV7()), "x"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound for missing user, got %v", err)
		}
	})
}

// --- Subscriptions ---

func TestSubscriptions(t *testing.T) {
	ctx := context.Background()
	ps := testutil.NewTestStore(t)

	t.Run("token confirms subscriber", func(t *testing.T) {
		id := uuid.Must(uuid.NewV7())
		tx, err := ps.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, ps.InsertSubscriber(ctx, tx, store.Subscriber{
			ID: id, Email: "ursula@example.com", Name: "Ursula", Status: store.StatusPendingConfirmation,
		}))
		require.NoError(t, ps.StoreSubscriptionToken(ctx, tx, id, "tok123"))
		require.NoError(t, tx.Commit(ctx))

		got, err := ps.GetSubscriberIDFromToken(ctx, "tok123")
		require.NoError(t, err)
		if got != id {
			t.Errorf("subscriber id: expected %v, got %v", id, got)
		}

		require.NoError(t, ps.ConfirmSubscriber(ctx, id))
		var status string
		require.NoError(t, ps.Pool().QueryRow(ctx, "SELECT status FROM subscriptions WHERE id = $1", id).Scan(&status))
		if status != store.StatusConfirmed {
			t.Errorf("status: expected %q, got %q", store.StatusConfirmed, status)
		}
	})

	t.Run("duplicate email returns ErrDuplicateEmail", func(t *testing.T) {
		mustInsertSubscriber(t, ps, "dupe@example.com", store.StatusConfirmed)

		tx, err := ps.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback(ctx)
		err = ps.InsertSubscriber(ctx, tx, store.Subscriber{
			ID: uuid.Must(uuid.NewV7()), Email: "dupe@example.com", Name: "Again", Status: store.StatusPendingConfirmation,
		})
		if !errors.Is(err, store.ErrDuplicateEmail) {
			t.Errorf("expected ErrDuplicateEmail, got %v", err)
		}
	})

	t.Run("unknown token returns ErrNotFound", func(t *testing.T) {
		if _, err := ps.GetSubscriberIDFromToken(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

// --- Newsletter issues ---

func TestNewsletterIssues(t *testing.T) {
	ctx := context.Background()
	ps := testutil.NewTestStore(t)

	t.Run("insert then fetch", func(t *testing.T) {
		issue := store.NewsletterIssue{
			ID:          uuid.Must(uuid.NewV7()),
			Title:       "Issue #1",
			TextContent: "plain body",
			HTMLContent: "<p>html body</p>",
		}
		tx, err := ps.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, ps.InsertNewsletterIssue(ctx, tx, issue))
		require.NoError(t, tx.Commit(ctx))

		got, err := ps.GetNewsletterIssue(ctx, issue.ID)
		require.NoError(t, err)
		if got.Title != issue.Title || got.TextContent != issue.TextContent || got.HTMLContent != issue.HTMLContent {
			t.Errorf("issue content mismatch: got %+v", got)
		}
		if got.PublishedAt.IsZero() {
			t.Error("PublishedAt should default to now()")
		}
	})

	t.Run("rolled back insert leaves nothing behind", func(t *testing.T) {
		id := uuid.Must(uuid.NewV7())
		tx, err := ps.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, ps.InsertNewsletterIssue(ctx, tx, store.NewsletterIssue{
			ID: id, Title: "t", TextContent: "x", HTMLContent: "y",
		}))
		require.NoError(t, tx.Rollback(ctx))

		if _, err := ps.GetNewsletterIssue(ctx, id); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
