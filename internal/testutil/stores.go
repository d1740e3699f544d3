// stores.go
//
// Hand-written mocks for the store-facing interfaces of auth and newsletter.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"sync"

	"github.com/MGallo-Code/herald/internal/store"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// MockUserStore implements auth.UserStore. Users are keyed by username.
// Use *Err fields to inject errors for specific operations.
type MockUserStore struct {
	CreateUserErr error
	GetUserErr    error
	UpdateHashErr error

	mu    sync.Mutex
	users map[string]*store.User
}

// NewMockUserStore returns a MockUserStore seeded with users.
func NewMockUserStore(users ...*store.User) *MockUserStore {
	m := &MockUserStore{users: make(map[string]*store.User)}
	for _, u := range users {
		m.users[u.Username] = u
	}
	return m
}

func (m *MockUserStore) CreateUser(_ context.Context, id uuid.UUID, username, passwordHash string) error {
	if m.CreateUserErr != nil {
		return m.CreateUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.users == nil {
		m.users = make(map[string]*store.User)
	}
	m.users[username] = &store.User{ID: id, Username: username, PasswordHash: passwordHash}
	return nil
}

func (m *MockUserStore) GetUserByUsername(_ context.Context, username string) (*store.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MockUserStore) GetUserByID(_ context.Context, id uuid.UUID) (*store.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MockUserStore) UpdatePasswordHash(_ context.Context, id uuid.UUID, passwordHash string) error {
	if m.UpdateHashErr != nil {
		return m.UpdateHashErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			u.PasswordHash = passwordHash
			return nil
		}
	}
	return store.ErrNotFound
}

// Hash returns the stored password hash for username, "" if unknown.
func (m *MockUserStore) Hash(username string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[username]; ok {
		return u.PasswordHash
	}
	return ""
}

// MockRateLimiter implements auth.RateLimiter.
// AllowErr is returned from every Allow call; Allowed and Resets record keys.
type MockRateLimiter struct {
	AllowErr error
	ResetErr error

	mu      sync.Mutex
	Allowed []string
	Resets  []string
}

func (m *MockRateLimiter) Allow(_ context.Context, key string, _ store.RateLimit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Allowed = append(m.Allowed, key)
	return m.AllowErr
}

func (m *MockRateLimiter) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Resets = append(m.Resets, key)
	return m.ResetErr
}

// MockTx is a pgx.Tx that only tracks Commit and Rollback.
// Calling any other pgx.Tx method panics on the nil embedded interface.
type MockTx struct {
	pgx.Tx
	CommitErr error

	mu         sync.Mutex
	committed  bool
	rolledBack bool
}

func (tx *MockTx) Commit(context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.CommitErr != nil {
		return tx.CommitErr
	}
	tx.committed = true
	return nil
}

// Rollback after Commit is a no-op, as with a real transaction.
func (tx *MockTx) Rollback(context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.committed {
		tx.rolledBack = true
	}
	return nil
}

func (tx *MockTx) Committed() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.committed
}

func (tx *MockTx) RolledBack() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.rolledBack
}

// MockNewsletterStore implements newsletter.Store in memory.
// Writes made through a transaction are visible immediately; tests assert on
// MockTx to check commit/rollback.
type MockNewsletterStore struct {
	BeginErr       error
	InsertIssueErr error
	InsertSubErr   error
	StoreTokenErr  error
	ConfirmErr     error
	LookupTokenErr error

	mu          sync.Mutex
	Txs         []*MockTx
	Issues      []store.NewsletterIssue
	Subscribers map[uuid.UUID]store.Subscriber
	Tokens      map[string]uuid.UUID
}

func NewMockNewsletterStore() *MockNewsletterStore {
	return &MockNewsletterStore{
		Subscribers: make(map[uuid.UUID]store.Subscriber),
		Tokens:      make(map[string]uuid.UUID),
	}
}

func (m *MockNewsletterStore) Begin(context.Context) (pgx.Tx, error) {
	if m.BeginErr != nil {
		return nil, m.BeginErr
	}
	tx := &MockTx{}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Txs = append(m.Txs, tx)
	return tx, nil
}

func (m *MockNewsletterStore) InsertNewsletterIssue(_ context.Context, _ pgx.Tx, issue store.NewsletterIssue) error {
	if m.InsertIssueErr != nil {
		return m.InsertIssueErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Issues = append(m.Issues, issue)
	return nil
}

func (m *MockNewsletterStore) InsertSubscriber(_ context.Context, _ pgx.Tx, sub store.Subscriber) error {
	if m.InsertSubErr != nil {
		return m.InsertSubErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.Subscribers {
		if s.Email == sub.Email {
			return store.ErrDuplicateEmail
		}
	}
	m.Subscribers[sub.ID] = sub
	return nil
}

func (m *MockNewsletterStore) StoreSubscriptionToken(_ context.Context, _ pgx.Tx, subscriberID uuid.UUID, token string) error {
	if m.StoreTokenErr != nil {
		return m.StoreTokenErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tokens[token] = subscriberID
	return nil
}

func (m *MockNewsletterStore) GetSubscriberIDFromToken(_ context.Context, token string) (uuid.UUID, error) {
	if m.LookupTokenErr != nil {
		return uuid.Nil, m.LookupTokenErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.Tokens[token]
	if !ok {
		return uuid.Nil, store.ErrNotFound
	}
	return id, nil
}

func (m *MockNewsletterStore) ConfirmSubscriber(_ context.Context, id uuid.UUID) error {
	if m.ConfirmErr != nil {
		return m.ConfirmErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.Subscribers[id]
	if !ok {
		return nil
	}
	sub.Status = store.StatusConfirmed
	m.Subscribers[id] = sub
	return nil
}

// LastTx returns the most recently begun transaction, nil if none.
func (m *MockNewsletterStore) LastTx() *MockTx {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Txs) == 0 {
		return nil
	}
	return m.Txs[len(m.Txs)-1]
}
