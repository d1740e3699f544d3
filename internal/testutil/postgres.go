//go:build integration

// postgres.go
//
// Disposable Postgres for integration tests. One container per test binary,
// one freshly migrated database per test. Set TEST_DATABASE_URL to reuse an
// existing server instead of starting a container.
package testutil

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MGallo-Code/herald/internal/store"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
)

// MigrationsDir returns the absolute path of the repo's migrations directory.
func MigrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// serverDSN returns a DSN for a server the tests may create databases on.
// Skips the test when neither TEST_DATABASE_URL nor Docker is available.
func serverDSN(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		// Container is reaped by testcontainers when the test binary exits.
		container, err := tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("herald"),
			tcpostgres.WithUsername("test"),
			tcpostgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			containerErr = err
			return
		}
		containerDSN, containerErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	if containerErr != nil {
		t.Skipf("postgres container unavailable: %v", containerErr)
	}
	return containerDSN
}

// NewTestStore returns a PostgresStore connected to a brand new, fully migrated database.
// The database is dropped when the test ends.
func NewTestStore(t *testing.T) *store.PostgresStore {
	t.Helper()
	ctx := context.Background()

	dsn, name := NewTestDatabase(t)

	ps, err := store.NewPostgresStore(ctx, dsn)
	require.NoError(t, err, "connecting to test database %s", name)
	t.Cleanup(ps.Close)

	require.NoError(t, ps.Migrate(ctx, os.DirFS(MigrationsDir())), "migrating test database")
	return ps
}

// NewTestDatabase creates an empty database and returns its DSN and name.
// Dropped (forcibly) at test cleanup, after anything registered later has closed.
func NewTestDatabase(t *testing.T) (string, string) {
	t.Helper()
	ctx := context.Background()
	base := serverDSN(t)

	name := "herald_" + strings.ReplaceAll(uuid.Must(uuid.NewV4()).String(), "-", "")

	admin, err := pgx.Connect(ctx, base)
	require.NoError(t, err, "connecting to test server")
	_, err = admin.Exec(ctx, "CREATE DATABASE "+name)
	admin.Close(ctx)
	require.NoError(t, err, "creating test database")

	t.Cleanup(func() {
		admin, err := pgx.Connect(context.Background(), base)
		if err != nil {
			t.Logf("dropping %s: %v", name, err)
			return
		}
		defer admin.Close(context.Background())
		admin.Exec(context.Background(), "DROP DATABASE IF EXISTS "+name+" WITH (FORCE)")
	})

	u, err := url.Parse(base)
	require.NoError(t, err, "parsing test server DSN")
	u.Path = "/" + name
	return u.String(), name
}
