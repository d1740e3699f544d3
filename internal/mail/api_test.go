package mail

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newTestAPIMailer points an APIMailer at srv with fixed credentials.
func newTestAPIMailer(srv *httptest.Server, timeout time.Duration) *APIMailer {
	return NewAPIMailer(APIConfig{
		BaseURL:    srv.URL,
		AuthToken:  "secret-token",
		ProjectID:  "proj-1",
		Sender:     "news@example.com",
		SenderName: "Herald",
		Timeout:    timeout,
	})
}

func TestAPIMailer_Send(t *testing.T) {
	t.Run("posts expected request", func(t *testing.T) {
		var gotPath, gotToken, gotCT string
		var got apiSendRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotToken = r.Header.Get("X-Auth-Token")
			gotCT = r.Header.Get("Content-Type")
			json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		err := newTestAPIMailer(srv, time.Second).Send(context.Background(), "reader@example.com", "Subject", "<p>html</p>", "text")
		if err != nil {
			t.Fatalf("Send failed: %v", err)
		}

		if r := gotPath; r != "/emails" {
			t.Errorf("path: expected /emails, got %q", r)
		}
		if gotToken != "secret-token" {
			t.Errorf("X-Auth-Token: expected %q, got %q", "secret-token", gotToken)
		}
		if gotCT != "application/json" {
			t.Errorf("Content-Type: expected application/json, got %q", gotCT)
		}
		if got.From.Email != "news@example.com" || got.From.Name != "Herald" {
			t.Errorf("from: got %+v", got.From)
		}
		if len(got.To) != 1 || got.To[0].Email != "reader@example.com" {
			t.Errorf("to: got %+v", got.To)
		}
		if got.Subject != "Subject" || got.HTML != "<p>html</p>" || got.Text != "text" {
			t.Errorf("content: got %+v", got)
		}
		if got.ProjectID != "proj-1" {
			t.Errorf("project_id: expected %q, got %q", "proj-1", got.ProjectID)
		}
	})

	t.Run("non-2xx is ErrSendFailed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("boom"))
		}))
		defer srv.Close()

		err := newTestAPIMailer(srv, time.Second).Send(context.Background(), "reader@example.com", "s", "h", "t")
		if !errors.Is(err, ErrSendFailed) {
			t.Fatalf("expected ErrSendFailed, got %v", err)
		}
	})

	t.Run("slow provider times out", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		start := time.Now()
		err := newTestAPIMailer(srv, 50*time.Millisecond).Send(context.Background(), "reader@example.com", "s", "h", "t")
		if err == nil {
			t.Fatal("expected timeout error, got nil")
		}
		if errors.Is(err, ErrSendFailed) {
			t.Error("timeout should not be reported as a provider rejection")
		}
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Errorf("Send took %v, timeout not applied", elapsed)
		}
	})

	t.Run("cancelled context aborts send", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := newTestAPIMailer(srv, time.Second).Send(ctx, "reader@example.com", "s", "h", "t"); err == nil {
			t.Fatal("expected error for cancelled context, got nil")
		}
	})
}

func TestNopMailer(t *testing.T) {
	if err := (NopMailer{}).Send(context.Background(), "a@b.c", "s", "h", "t"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
