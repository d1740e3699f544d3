// handler.go -- HTTP handlers for login, logout and the admin account pages.
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/MGallo-Code/herald/internal/session"
	"github.com/MGallo-Code/herald/internal/store"
	"github.com/MGallo-Code/herald/internal/web"
)

// RateLimiter checks and records login attempts per key.
// Satisfied by *store.RedisRateLimiter and store.NoopRateLimiter.
type RateLimiter interface {
	// Allow records an attempt; store.ErrRateLimitExceeded means locked out.
	Allow(ctx context.Context, key string, policy store.RateLimit) error
	// Reset clears the attempt counter after a successful login.
	Reset(ctx context.Context, key string) error
}

// Handler holds dependencies for the login and /admin account handlers.
type Handler struct {
	Users       UserStore
	RL          RateLimiter
	LoginPolicy store.RateLimit
}

// flashBody is the JSON shape of pages that only surface a flash message.
type flashBody struct {
	Flash string `json:"flash,omitempty"`
}

// mustSession fetches the request session or writes a 500.
func mustSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		web.InternalServerError(w, r, errors.New("session middleware not installed"))
	}
	return sess, ok
}

// LoginForm handles GET /login, returning any pending flash message.
func (h *Handler) LoginForm(w http.ResponseWriter, r *http.Request) {
	sess, ok := mustSession(w, r)
	if !ok {
		return
	}
	web.JSON(w, http.StatusOK, flashBody{Flash: sess.TakeFlash()})
}

// Login handles POST /login (form: username, password).
// 303 to /admin/dashboard on success, 303 back to /login with a flash on bad
// credentials, 429 when the username is locked out.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	sess, ok := mustSession(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		web.BadRequest(w, "invalid form body")
		return
	}
	creds := Credentials{
		Username: r.PostForm.Get("username"),
		Password: r.PostForm.Get("password"),
	}

	limitKey := "login:" + creds.Username
	if err := h.RL.Allow(r.Context(), limitKey, h.LoginPolicy); err != nil {
		if errors.Is(err, store.ErrRateLimitExceeded) {
			web.LogInfo(r, "login failed", "reason", "rate_limited", "username", creds.Username)
			web.TooManyRequests(w)
			return
		}
		web.InternalServerError(w, r, err)
		return
	}

	userID, err := ValidateCredentials(r.Context(), h.Users, creds)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			web.LogInfo(r, "login failed", "reason", "invalid_credentials", "username", creds.Username)
			sess.Flash("Authentication failed")
			web.SeeOther(w, "/login")
			return
		}
		web.InternalServerError(w, r, err)
		return
	}

	if err := h.RL.Reset(r.Context(), limitKey); err != nil {
		web.LogWarn(r, "failed to reset login limiter", "error", err)
	}

	// New id on privilege change
	sess.Renew()
	sess.Insert(SessionUserIDKey, userID.String())
	web.LogInfo(r, "admin logged in", "user_id", userID)
	web.SeeOther(w, "/admin/dashboard")
}

// Dashboard handles GET /admin/dashboard.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		web.InternalServerError(w, r, errors.New("missing user id in context"))
		return
	}
	u, err := h.Users.GetUserByID(r.Context(), userID)
	if err != nil {
		web.InternalServerError(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, struct {
		Username string `json:"username"`
	}{u.Username})
}

// ChangePasswordForm handles GET /admin/password.
func (h *Handler) ChangePasswordForm(w http.ResponseWriter, r *http.Request) {
	sess, ok := mustSession(w, r)
	if !ok {
		return
	}
	web.JSON(w, http.StatusOK, flashBody{Flash: sess.TakeFlash()})
}

// ChangePassword handles POST /admin/password
// (form: current_password, new_password, new_password_check).
// Every outcome redirects back to /admin/password with a flash, except server errors.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	sess, ok := mustSession(w, r)
	if !ok {
		return
	}
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		web.InternalServerError(w, r, errors.New("missing user id in context"))
		return
	}
	if err := r.ParseForm(); err != nil {
		web.BadRequest(w, "invalid form body")
		return
	}
	current := r.PostForm.Get("current_password")
	newPassword := r.PostForm.Get("new_password")

	back := func(msg string) {
		sess.Flash(msg)
		web.SeeOther(w, "/admin/password")
	}

	if newPassword != r.PostForm.Get("new_password_check") {
		back("You entered two different new passwords - the field values must match.")
		return
	}
	if msg := ValidateNewPassword(newPassword); msg != "" {
		back(msg)
		return
	}

	u, err := h.Users.GetUserByID(r.Context(), userID)
	if err != nil {
		web.InternalServerError(w, r, err)
		return
	}
	if _, err := ValidateCredentials(r.Context(), h.Users, Credentials{Username: u.Username, Password: current}); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			web.LogInfo(r, "password change failed", "reason", "wrong_current_password", "user_id", userID)
			back("The current password is incorrect.")
			return
		}
		web.InternalServerError(w, r, err)
		return
	}

	if err := ChangePassword(r.Context(), h.Users, userID, newPassword); err != nil {
		web.InternalServerError(w, r, err)
		return
	}
	web.LogInfo(r, "admin changed password", "user_id", userID)
	back("Your password has been changed.")
}

// Logout handles POST /admin/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, ok := mustSession(w, r)
	if !ok {
		return
	}
	userID, _ := UserIDFromContext(r.Context())
	sess.Purge()
	web.LogInfo(r, "admin logged out", "user_id", userID)
	web.SeeOther(w, "/login")
}
