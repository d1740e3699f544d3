// sessions.go
//
// In-memory session.Backend for handler tests.
package testutil

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/MGallo-Code/herald/internal/session"
	"github.com/gofrs/uuid/v5"
)

// MockSessionBackend keeps sessions in a map and ignores ttl.
// Use *Err fields to inject errors for specific operations.
type MockSessionBackend struct {
	LoadErr   error
	SaveErr   error
	UpdateErr error
	DeleteErr error

	mu       sync.Mutex
	sessions map[uuid.UUID]session.State
	deleted  []uuid.UUID
}

func NewMockSessionBackend() *MockSessionBackend {
	return &MockSessionBackend{sessions: make(map[uuid.UUID]session.State)}
}

func (m *MockSessionBackend) Load(_ context.Context, id uuid.UUID) (session.State, bool, error) {
	if m.LoadErr != nil {
		return nil, false, m.LoadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[id]
	if !ok {
		return nil, false, nil
	}
	return maps.Clone(st), true, nil
}

func (m *MockSessionBackend) Save(_ context.Context, state session.State, _ time.Duration) (uuid.UUID, error) {
	if m.SaveErr != nil {
		return uuid.Nil, m.SaveErr
	}
	id := uuid.Must(uuid.NewV4())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = maps.Clone(state)
	return id, nil
}

// Update follows the store contract: a missing id saves under a new one.
func (m *MockSessionBackend) Update(ctx context.Context, id uuid.UUID, state session.State, ttl time.Duration) (uuid.UUID, error) {
	if m.UpdateErr != nil {
		return uuid.Nil, m.UpdateErr
	}
	m.mu.Lock()
	if _, ok := m.sessions[id]; ok {
		m.sessions[id] = maps.Clone(state)
		m.mu.Unlock()
		return id, nil
	}
	m.mu.Unlock()
	return m.Save(ctx, state, ttl)
}

func (m *MockSessionBackend) Delete(_ context.Context, id uuid.UUID) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	m.deleted = append(m.deleted, id)
	return nil
}

// Put seeds a session and returns its id.
func (m *MockSessionBackend) Put(state session.State) uuid.UUID {
	id := uuid.Must(uuid.NewV4())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = maps.Clone(state)
	return id
}

// Get returns a copy of the stored state for id.
func (m *MockSessionBackend) Get(id uuid.UUID) (session.State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[id]
	return maps.Clone(st), ok
}

// Len is the number of live sessions.
func (m *MockSessionBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Deleted returns every id passed to Delete, in order.
func (m *MockSessionBackend) Deleted() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.deleted...)
}
