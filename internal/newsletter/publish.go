// publish.go -- Newsletter publishing: idempotent, with delivery queued in the same transaction.
package newsletter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MGallo-Code/herald/internal/auth"
	"github.com/MGallo-Code/herald/internal/idempotency"
	"github.com/MGallo-Code/herald/internal/session"
	"github.com/MGallo-Code/herald/internal/store"
	"github.com/MGallo-Code/herald/internal/web"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

const publishedFlash = "The newsletter issue has been accepted - emails will go out shortly."

// PublishForm handles GET /admin/newsletters. It hands out a fresh idempotency
// key for the next submission along with any pending flash.
func (h *Handler) PublishForm(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		web.InternalServerError(w, r, errors.New("session middleware not installed"))
		return
	}
	key, err := uuid.NewV4()
	if err != nil {
		web.InternalServerError(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, struct {
		Flash          string `json:"flash,omitempty"`
		IdempotencyKey string `json:"idempotency_key"`
	}{sess.TakeFlash(), key.String()})
}

// Publish handles POST /admin/newsletters
// (form: title, text_content, html_content, idempotency_key).
//
// A repeated key replays the first response and writes nothing. Otherwise the
// issue, its delivery queue rows and the saved response commit together.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		web.InternalServerError(w, r, errors.New("missing user id in context"))
		return
	}
	sess, ok := session.FromContext(r.Context())
	if !ok {
		web.InternalServerError(w, r, errors.New("session middleware not installed"))
		return
	}
	if err := r.ParseForm(); err != nil {
		web.BadRequest(w, "invalid form body")
		return
	}

	key, err := idempotency.ParseKey(r.PostForm.Get("idempotency_key"))
	if err != nil {
		web.BadRequest(w, err.Error())
		return
	}
	issue := store.NewsletterIssue{
		Title:       r.PostForm.Get("title"),
		TextContent: r.PostForm.Get("text_content"),
		HTMLContent: r.PostForm.Get("html_content"),
	}
	if msg := validateIssue(issue); msg != "" {
		web.BadRequest(w, msg)
		return
	}

	next, err := h.Cache.TryBegin(r.Context(), userID, key)
	if err != nil {
		if errors.Is(err, idempotency.ErrIncompleteRecord) {
			web.LogError(r, "idempotency key claimed but never completed",
				"user_id", userID, "idempotency_key", key)
		}
		web.InternalServerError(w, r, err)
		return
	}

	switch action := next.(type) {
	case idempotency.ReturnSavedResponse:
		web.LogInfo(r, "replaying saved publish response", "user_id", userID, "idempotency_key", key)
		action.Response.Render(w)

	case idempotency.StartProcessing:
		saved, err := h.publish(r.Context(), action.Tx, userID, key, issue)
		if err != nil {
			action.Tx.Rollback(context.WithoutCancel(r.Context()))
			web.InternalServerError(w, r, err)
			return
		}
		sess.Flash(publishedFlash)
		saved.Render(w)

	default:
		web.InternalServerError(w, r, fmt.Errorf("unexpected idempotency action %T", next))
	}
}

// publish does the business writes inside tx and hands back the persisted response.
// SaveResponse commits tx.
func (h *Handler) publish(ctx context.Context, tx pgx.Tx, userID uuid.UUID, key idempotency.Key, issue store.NewsletterIssue) (*idempotency.Response, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating issue id: %w", err)
	}
	issue.ID = id

	if err := h.Store.InsertNewsletterIssue(ctx, tx, issue); err != nil {
		return nil, err
	}
	n, err := h.enqueue()(ctx, tx, issue.ID)
	if err != nil {
		return nil, err
	}

	rec := idempotency.NewRecorder()
	web.SeeOther(rec, "/admin/newsletters")
	saved, err := h.Cache.SaveResponse(ctx, tx, userID, key, rec.Response())
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "newsletter issue published", "issue_id", issue.ID, "recipients", n)
	return saved, nil
}

func validateIssue(issue store.NewsletterIssue) string {
	switch {
	case strings.TrimSpace(issue.Title) == "":
		return "title is required"
	case strings.TrimSpace(issue.TextContent) == "":
		return "text_content is required"
	case strings.TrimSpace(issue.HTMLContent) == "":
		return "html_content is required"
	}
	return ""
}
