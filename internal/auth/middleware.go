// middleware.go

// Admin-only route guard.
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/MGallo-Code/herald/internal/session"
	"github.com/MGallo-Code/herald/internal/web"
	"github.com/gofrs/uuid/v5"
)

// SessionUserIDKey is the session key holding the logged-in admin's id.
const SessionUserIDKey = "user_id"

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const userIDKey contextKey = "user_id"

// UserIDFromContext returns the admin id injected by RejectAnonymous.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}

// WithUserID returns ctx carrying id, as RejectAnonymous would.
func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// RejectAnonymous redirects to /login unless the session holds a user id.
// Must run inside session.Manager.Middleware.
func RejectAnonymous(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := session.FromContext(r.Context())
		if !ok {
			web.InternalServerError(w, r, errors.New("session middleware not installed"))
			return
		}

		raw, ok := sess.Get(SessionUserIDKey)
		if !ok {
			web.LogDebug(r, "anonymous request to admin route")
			web.SeeOther(w, "/login")
			return
		}
		id, err := uuid.FromString(raw)
		if err != nil {
			// Unusable session, drop it entirely
			web.LogWarn(r, "session user_id is not a uuid", "value", raw)
			sess.Purge()
			web.SeeOther(w, "/login")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
	})
}
