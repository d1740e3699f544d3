package idempotency

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRecorder(t *testing.T) {
	t.Run("captures status headers and body", func(t *testing.T) {
		rec := NewRecorder()
		rec.Header().Set("Location", "/admin/newsletters")
		rec.Header().Add("Set-Cookie", "a=1")
		rec.Header().Add("Set-Cookie", "b=2")
		rec.WriteHeader(http.StatusSeeOther)
		rec.Write([]byte("see other"))

		resp := rec.Response()
		if resp.StatusCode != http.StatusSeeOther {
			t.Errorf("StatusCode: expected 303, got %d", resp.StatusCode)
		}
		want := []HeaderPair{
			{Name: "Location", Value: []byte("/admin/newsletters")},
			{Name: "Set-Cookie", Value: []byte("a=1")},
			{Name: "Set-Cookie", Value: []byte("b=2")},
		}
		if len(resp.Headers) != len(want) {
			t.Fatalf("Headers: expected %d pairs, got %d", len(want), len(resp.Headers))
		}
		for i := range want {
			if resp.Headers[i].Name != want[i].Name || !bytes.Equal(resp.Headers[i].Value, want[i].Value) {
				t.Errorf("Headers[%d]: expected %s=%q, got %s=%q", i, want[i].Name, want[i].Value, resp.Headers[i].Name, resp.Headers[i].Value)
			}
		}
		if string(resp.Body) != "see other" {
			t.Errorf("Body: expected %q, got %q", "see other", resp.Body)
		}
	})

	t.Run("write without WriteHeader implies 200", func(t *testing.T) {
		rec := NewRecorder()
		rec.Write([]byte("ok"))
		if got := rec.Response().StatusCode; got != http.StatusOK {
			t.Errorf("StatusCode: expected 200, got %d", got)
		}
	})

	t.Run("second WriteHeader is ignored", func(t *testing.T) {
		rec := NewRecorder()
		rec.WriteHeader(http.StatusCreated)
		rec.WriteHeader(http.StatusInternalServerError)
		if got := rec.Response().StatusCode; got != http.StatusCreated {
			t.Errorf("StatusCode: expected 201, got %d", got)
		}
	})

	t.Run("snapshot is not affected by later writes", func(t *testing.T) {
		rec := NewRecorder()
		rec.Write([]byte("first"))
		resp := rec.Response()
		rec.Write([]byte("second"))
		if string(resp.Body) != "first" {
			t.Errorf("Body: expected snapshot %q, got %q", "first", resp.Body)
		}
	})
}

func TestResponse_Render(t *testing.T) {
	t.Run("replays duplicates in order with raw bytes", func(t *testing.T) {
		resp := &Response{
			StatusCode: http.StatusSeeOther,
			Headers: []HeaderPair{
				{Name: "Location", Value: []byte("/admin/newsletters")},
				{Name: "X-Raw", Value: []byte{0xff, 0xfe}},
				{Name: "X-Multi", Value: []byte("one")},
				{Name: "X-Multi", Value: []byte("two")},
			},
			Body: []byte("body"),
		}

		w := httptest.NewRecorder()
		resp.Render(w)

		if w.Code != http.StatusSeeOther {
			t.Errorf("status: expected 303, got %d", w.Code)
		}
		if got := w.Header().Get("Location"); got != "/admin/newsletters" {
			t.Errorf("Location: expected %q, got %q", "/admin/newsletters", got)
		}
		if got := w.Header()["X-Multi"]; len(got) != 2 || got[0] != "one" || got[1] != "two" {
			t.Errorf("X-Multi: expected [one two], got %v", got)
		}
		if got := w.Header()["X-Raw"]; len(got) != 1 || got[0] != string([]byte{0xff, 0xfe}) {
			t.Errorf("X-Raw: raw bytes not preserved, got %q", got)
		}
		if w.Body.String() != "body" {
			t.Errorf("body: expected %q, got %q", "body", w.Body.String())
		}
	})

	t.Run("recorded then rendered response matches a direct write", func(t *testing.T) {
		handler := func(w http.ResponseWriter) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Add("Vary", "Cookie")
			w.Header().Add("Vary", "Accept")
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"ok":true}`))
		}

		direct := httptest.NewRecorder()
		handler(direct)

		rec := NewRecorder()
		handler(rec)
		replayed := httptest.NewRecorder()
		rec.Response().Render(replayed)

		if direct.Code != replayed.Code {
			t.Errorf("status: direct %d, replayed %d", direct.Code, replayed.Code)
		}
		for name, vals := range direct.Header() {
			got := replayed.Header()[name]
			if len(got) != len(vals) {
				t.Errorf("%s: direct %v, replayed %v", name, vals, got)
				continue
			}
			for i := range vals {
				if got[i] != vals[i] {
					t.Errorf("%s[%d]: direct %q, replayed %q", name, i, vals[i], got[i])
				}
			}
		}
		if direct.Body.String() != replayed.Body.String() {
			t.Errorf("body: direct %q, replayed %q", direct.Body.String(), replayed.Body.String())
		}
	})
}
