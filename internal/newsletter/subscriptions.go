// subscriptions.go -- Subscribe and confirm endpoints.
package newsletter

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/MGallo-Code/herald/internal/mail"
	"github.com/MGallo-Code/herald/internal/store"
	"github.com/MGallo-Code/herald/internal/subscriber"
	"github.com/MGallo-Code/herald/internal/web"
	"github.com/gofrs/uuid/v5"
)

const (
	tokenLength   = 25
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Subscribe handles POST /subscriptions (form: email, name).
// 200 once the confirmation email is sent, 400 on bad input, 409 if already subscribed.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		web.BadRequest(w, "invalid form body")
		return
	}
	newSub, err := subscriber.ParseNew(r.PostForm.Get("email"), r.PostForm.Get("name"))
	if err != nil {
		web.LogInfo(r, "subscribe rejected", "reason", "invalid_input", "error", err)
		web.BadRequest(w, err.Error())
		return
	}

	token, err := generateSubscriptionToken()
	if err != nil {
		web.InternalServerError(w, r, err)
		return
	}

	id, err := h.storePendingSubscriber(r.Context(), newSub, token)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			web.Conflict(w, "already subscribed")
			return
		}
		web.InternalServerError(w, r, err)
		return
	}

	link := h.BaseURL + "/subscriptions/confirm?subscription_token=" + url.QueryEscape(token)
	msg := mail.Confirmation(newSub.Name.String(), link)
	if err := h.Mailer.Send(r.Context(), newSub.Email.String(), msg.Subject, msg.HTML, msg.Text); err != nil {
		web.InternalServerError(w, r, fmt.Errorf("sending confirmation email: %w", err))
		return
	}

	web.LogInfo(r, "subscriber pending confirmation", "subscriber_id", id)
	web.OK(w, "confirmation email sent")
}

// storePendingSubscriber writes the subscriber and its token in one transaction.
func (h *Handler) storePendingSubscriber(ctx context.Context, newSub subscriber.New, token string) (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generating subscriber id: %w", err)
	}

	tx, err := h.Store.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("beginning subscribe transaction: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := h.Store.InsertSubscriber(ctx, tx, store.Subscriber{
		ID:           id,
		Email:        newSub.Email.String(),
		Name:         newSub.Name.String(),
		Status:       store.StatusPendingConfirmation,
		SubscribedAt: time.Now().UTC(),
	}); err != nil {
		return uuid.Nil, err
	}
	if err := h.Store.StoreSubscriptionToken(ctx, tx, id, token); err != nil {
		return uuid.Nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("committing subscribe transaction: %w", err)
	}
	return id, nil
}

// Confirm handles GET /subscriptions/confirm?subscription_token=...
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("subscription_token")
	if token == "" {
		web.BadRequest(w, "subscription_token is required")
		return
	}

	id, err := h.Store.GetSubscriberIDFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			web.LogInfo(r, "confirm rejected", "reason", "unknown_token")
			web.Unauthorized(w, "unknown subscription token")
			return
		}
		web.InternalServerError(w, r, err)
		return
	}
	if err := h.Store.ConfirmSubscriber(r.Context(), id); err != nil {
		web.InternalServerError(w, r, err)
		return
	}

	web.LogInfo(r, "subscriber confirmed", "subscriber_id", id)
	web.OK(w, "subscription confirmed")
}

// generateSubscriptionToken returns a random alphanumeric token.
func generateSubscriptionToken() (string, error) {
	buf := make([]byte, tokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating subscription token: %w", err)
	}
	// 256 % 62 != 0, reject the tail to keep the distribution uniform
	out := make([]byte, 0, tokenLength)
	for len(out) < tokenLength {
		for _, b := range buf {
			if int(b) >= 256-256%len(tokenAlphabet) {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == tokenLength {
				break
			}
		}
		if len(out) < tokenLength {
			if _, err := rand.Read(buf); err != nil {
				return "", fmt.Errorf("generating subscription token: %w", err)
			}
		}
	}
	return string(out), nil
}
