// manager.go
//
// Cookie session middleware on top of a Backend. The cookie carries only a
// signed token whose jti is the session id; all state lives server side.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MGallo-Code/herald/internal/web"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

const flashKey = "_flash"

// ErrInvalidCookie is returned when the cookie token fails verification.
var ErrInvalidCookie = errors.New("invalid session cookie")

// Config tunes the Manager.
type Config struct {
	CookieName string        // default "session"
	Secure     bool          // Secure attribute on the cookie
	TTL        time.Duration // row and cookie lifetime, default 24h
}

// Manager loads the session before a handler runs and persists changes before
// the response goes out.
type Manager struct {
	backend Backend
	secret  []byte
	cfg     Config
	now     func() time.Time
}

// NewManager builds a Manager. secret signs the cookie token (HS256).
func NewManager(backend Backend, secret []byte, cfg Config) *Manager {
	if cfg.CookieName == "" {
		cfg.CookieName = "session"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Manager{backend: backend, secret: secret, cfg: cfg, now: time.Now}
}

type contextKey struct{}

// Session is the request's view of its stored state. Safe for concurrent use.
type Session struct {
	mu    sync.Mutex
	id    uuid.UUID // Nil until first persisted
	state State
	dirty bool
	renew bool
	purge bool
	stale bool // request carried a cookie that no longer maps to a session
}

// FromContext returns the request's session. ok is false outside Middleware.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok
}

func (s *Session) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state[key]
	return v, ok
}

func (s *Session) Insert(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = value
	s.dirty = true
}

func (s *Session) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state[key]; ok {
		delete(s.state, key)
		s.dirty = true
	}
}

// Renew issues a new session id on commit and drops the old row.
// Call after a privilege change such as login.
func (s *Session) Renew() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renew = true
	s.dirty = true
}

// Purge clears all state, deletes the row and expires the cookie.
func (s *Session) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{}
	s.purge = true
}

// Flash stores a one-shot message for the next request.
func (s *Session) Flash(msg string) {
	s.Insert(flashKey, msg)
}

// TakeFlash returns and clears the pending flash message, "" if none.
func (s *Session) TakeFlash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.state[flashKey]
	if !ok {
		return ""
	}
	delete(s.state, flashKey)
	s.dirty = true
	return msg
}

// Middleware attaches a Session to the request context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := m.load(r)
		if err != nil {
			web.InternalServerError(w, r, err)
			return
		}

		sw := &sessionWriter{ResponseWriter: w, m: m, r: r, sess: sess}
		next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), contextKey{}, sess)))
		// Handler wrote nothing, changes still need saving
		sw.commit()
	})
}

// load resolves the cookie to a Session. A missing, forged or expired cookie
// yields an empty session, only backend failures are errors.
func (m *Manager) load(r *http.Request) (*Session, error) {
	sess := &Session{state: State{}}

	c, err := r.Cookie(m.cfg.CookieName)
	if err != nil || c.Value == "" {
		return sess, nil
	}

	id, err := m.parseToken(c.Value)
	if err != nil {
		web.LogDebug(r, "ignoring session cookie", "error", err)
		sess.stale = true
		return sess, nil
	}

	state, ok, err := m.backend.Load(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if !ok {
		sess.stale = true
		return sess, nil
	}
	sess.id = id
	if state != nil {
		sess.state = state
	}
	return sess, nil
}

// save persists the session and sets or clears the cookie. Runs once per request.
func (m *Manager) save(w http.ResponseWriter, r *http.Request, s *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := r.Context()

	switch {
	case s.purge:
		if s.id != uuid.Nil {
			if err := m.backend.Delete(ctx, s.id); err != nil {
				return err
			}
		}
		m.clearCookie(w)
		return nil

	case !s.dirty:
		if s.stale {
			m.clearCookie(w)
		}
		return nil

	case s.renew:
		if s.id != uuid.Nil {
			if err := m.backend.Delete(ctx, s.id); err != nil {
				return err
			}
			s.id = uuid.Nil
		}
	}

	if len(s.state) == 0 {
		if s.id != uuid.Nil {
			if err := m.backend.Delete(ctx, s.id); err != nil {
				return err
			}
		}
		if s.id != uuid.Nil || s.stale {
			m.clearCookie(w)
		}
		return nil
	}

	var id uuid.UUID
	var err error
	if s.id == uuid.Nil {
		id, err = m.backend.Save(ctx, s.state, m.cfg.TTL)
	} else {
		// Update may hand back a different id, it is the one the client gets
		id, err = m.backend.Update(ctx, s.id, s.state, m.cfg.TTL)
	}
	if err != nil {
		return err
	}
	s.id = id

	token, err := m.signToken(id)
	if err != nil {
		return err
	}
	m.setCookie(w, token)
	return nil
}

func (m *Manager) signToken(id uuid.UUID) (string, error) {
	now := m.now()
	claims := jwt.RegisteredClaims{
		ID:        id.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.TTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return token, nil
}

func (m *Manager) parseToken(raw string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}
	id, err := uuid.FromString(claims.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad jti: %v", ErrInvalidCookie, err)
	}
	return id, nil
}

func (m *Manager) setCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(m.cfg.TTL.Seconds()),
	})
}

func (m *Manager) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// sessionWriter commits the session right before the first byte of the
// response, while Set-Cookie can still be added.
type sessionWriter struct {
	http.ResponseWriter
	m    *Manager
	r    *http.Request
	sess *Session

	once   sync.Once
	failed bool
}

// commit saves the session. On failure the handler's response is replaced by a 500.
func (sw *sessionWriter) commit() {
	sw.once.Do(func() {
		if err := sw.m.save(sw.ResponseWriter, sw.r, sw.sess); err != nil {
			sw.failed = true
			web.InternalServerError(sw.ResponseWriter, sw.r, fmt.Errorf("saving session: %w", err))
		}
	})
}

func (sw *sessionWriter) WriteHeader(code int) {
	sw.commit()
	if sw.failed {
		return
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *sessionWriter) Write(b []byte) (int, error) {
	sw.commit()
	if sw.failed {
		return len(b), nil
	}
	return sw.ResponseWriter.Write(b)
}

func (sw *sessionWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
