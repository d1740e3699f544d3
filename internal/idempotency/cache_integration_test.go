//go:build integration

package idempotency

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/MGallo-Code/herald/internal/store"
	"github.com/MGallo-Code/herald/internal/testutil"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

// newTestCache returns a Cache on a fresh database plus a user that may own keys.
func newTestCache(t *testing.T) (*Cache, *store.PostgresStore, uuid.UUID) {
	t.Helper()
	ps := testutil.NewTestStore(t)
	userID := uuid.Must(uuid.NewV7())
	require.NoError(t, ps.CreateUser(context.Background(), userID, "admin", "hash"))
	return NewCache(ps.Pool()), ps, userID
}

// mustStart asserts TryBegin claimed the key and returns the claim.
func mustStart(t *testing.T, c *Cache, userID uuid.UUID, key Key) StartProcessing {
	t.Helper()
	next, err := c.TryBegin(context.Background(), userID, key)
	require.NoError(t, err)
	start, ok := next.(StartProcessing)
	require.True(t, ok, "expected StartProcessing, got %T", next)
	return start
}

func sampleResponse() *Response {
	return &Response{
		StatusCode: http.StatusSeeOther,
		Headers: []HeaderPair{
			{Name: "Location", Value: []byte("/admin/newsletters")},
			{Name: "Set-Cookie", Value: []byte("a=1")},
			{Name: "Set-Cookie", Value: []byte("b=2")},
			{Name: "X-Raw", Value: []byte{0x00, 0xff, 0x80}},
		},
		Body: []byte("redirecting"),
	}
}

func assertSameResponse(t *testing.T, want, got *Response) {
	t.Helper()
	if want.StatusCode != got.StatusCode {
		t.Errorf("StatusCode: expected %d, got %d", want.StatusCode, got.StatusCode)
	}
	if len(want.Headers) != len(got.Headers) {
		t.Fatalf("Headers: expected %d pairs, got %d", len(want.Headers), len(got.Headers))
	}
	for i := range want.Headers {
		if want.Headers[i].Name != got.Headers[i].Name || !bytes.Equal(want.Headers[i].Value, got.Headers[i].Value) {
			t.Errorf("Headers[%d]: expected %s=%q, got %s=%q",
				i, want.Headers[i].Name, want.Headers[i].Value, got.Headers[i].Name, got.Headers[i].Value)
		}
	}
	if !bytes.Equal(want.Body, got.Body) {
		t.Errorf("Body: expected %q, got %q", want.Body, got.Body)
	}
}

func TestCache(t *testing.T) {
	ctx := context.Background()

	t.Run("first call proceeds, second replays the saved response", func(t *testing.T) {
		c, _, userID := newTestCache(t)

		start := mustStart(t, c, userID, "key-1")
		saved, err := c.SaveResponse(ctx, start.Tx, userID, "key-1", sampleResponse())
		require.NoError(t, err)
		assertSameResponse(t, sampleResponse(), saved)

		next, err := c.TryBegin(ctx, userID, "key-1")
		require.NoError(t, err)
		replay, ok := next.(ReturnSavedResponse)
		require.True(t, ok, "expected ReturnSavedResponse, got %T", next)
		assertSameResponse(t, saved, replay.Response)
	})

	t.Run("keys are scoped per user", func(t *testing.T) {
		c, ps, userID := newTestCache(t)
		other := uuid.Must(uuid.NewV7())
		require.NoError(t, ps.CreateUser(ctx, other, "other", "hash"))

		start := mustStart(t, c, userID, "shared")
		_, err := c.SaveResponse(ctx, start.Tx, userID, "shared", sampleResponse())
		require.NoError(t, err)

		otherStart := mustStart(t, c, other, "shared")
		otherStart.Tx.Rollback(ctx)
	})

	t.Run("empty headers and body round-trip", func(t *testing.T) {
		c, _, userID := newTestCache(t)
		start := mustStart(t, c, userID, "empty")

		saved, err := c.SaveResponse(ctx, start.Tx, userID, "empty", &Response{StatusCode: http.StatusNoContent})
		require.NoError(t, err)
		if saved.StatusCode != http.StatusNoContent || len(saved.Headers) != 0 || len(saved.Body) != 0 {
			t.Errorf("unexpected saved response: %+v", saved)
		}

		got, err := c.GetSavedResponse(ctx, userID, "empty")
		require.NoError(t, err)
		assertSameResponse(t, saved, got)
	})

	t.Run("rolled back claim frees the key", func(t *testing.T) {
		c, _, userID := newTestCache(t)

		start := mustStart(t, c, userID, "retry-me")
		require.NoError(t, start.Tx.Rollback(ctx))

		again := mustStart(t, c, userID, "retry-me")
		again.Tx.Rollback(ctx)
	})

	t.Run("committed claim without response is ErrIncompleteRecord", func(t *testing.T) {
		c, _, userID := newTestCache(t)

		start := mustStart(t, c, userID, "wedged")
		require.NoError(t, start.Tx.Commit(ctx))

		_, err := c.TryBegin(ctx, userID, "wedged")
		if !errors.Is(err, ErrIncompleteRecord) {
			t.Fatalf("expected ErrIncompleteRecord, got %v", err)
		}
	})

	t.Run("business writes commit only with the saved response", func(t *testing.T) {
		c, ps, userID := newTestCache(t)
		issueID := uuid.Must(uuid.NewV7())

		start := mustStart(t, c, userID, "atomic")
		require.NoError(t, ps.InsertNewsletterIssue(ctx, start.Tx, store.NewsletterIssue{
			ID: issueID, Title: "t", TextContent: "x", HTMLContent: "y",
		}))

		// Not visible before SaveResponse commits
		if _, err := ps.GetNewsletterIssue(ctx, issueID); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("issue visible before commit: %v", err)
		}

		_, err := c.SaveResponse(ctx, start.Tx, userID, "atomic", sampleResponse())
		require.NoError(t, err)

		if _, err := ps.GetNewsletterIssue(ctx, issueID); err != nil {
			t.Errorf("issue should be committed with the response: %v", err)
		}
	})

	t.Run("concurrent duplicate waits for the owner and replays", func(t *testing.T) {
		c, _, userID := newTestCache(t)
		start := mustStart(t, c, userID, "race")

		var wg sync.WaitGroup
		var next NextAction
		var err error
		wg.Add(1)
		go func() {
			defer wg.Done()
			next, err = c.TryBegin(ctx, userID, "race")
		}()

		// Give the second request time to block on the uncommitted claim
		time.Sleep(200 * time.Millisecond)
		_, saveErr := c.SaveResponse(ctx, start.Tx, userID, "race", sampleResponse())
		require.NoError(t, saveErr)
		wg.Wait()

		require.NoError(t, err)
		replay, ok := next.(ReturnSavedResponse)
		require.True(t, ok, "expected ReturnSavedResponse, got %T", next)
		assertSameResponse(t, sampleResponse(), replay.Response)
	})

	t.Run("unknown key has no saved response", func(t *testing.T) {
		c, _, userID := newTestCache(t)
		if _, err := c.GetSavedResponse(ctx, userID, "never-used"); !errors.Is(err, ErrRecordNotFound) {
			t.Errorf("expected ErrRecordNotFound, got %v", err)
		}
	})
}
