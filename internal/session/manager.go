package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/aboutnine/internal/chemistry"
)

var ErrExists = errors.New("session: already exists")

// Manager tracks live sessions by ID.
type Manager struct {
	scorer *chemistry.Scorer
	opts   []Option

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates sessions that score with scorer and share opts.
func NewManager(scorer *chemistry.Scorer, opts ...Option) *Manager {
	return &Manager{
		scorer:   scorer,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Create starts a session. An empty id gets a generated UUID.
func (m *Manager) Create(id string, opts ...Option) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}
	s := New(id, m.scorer, append(append([]Option{}, m.opts...), opts...)...)
	m.sessions[id] = s
	return s, nil
}

// GetOrCreate returns the session for id, creating it if needed. The
// boolean reports whether it was created.
func (m *Manager) GetOrCreate(id string, opts ...Option) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, false
	}
	s := New(id, m.scorer, append(append([]Option{}, m.opts...), opts...)...)
	m.sessions[id] = s
	return s, true
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove forgets the session and returns it.
func (m *Manager) Remove(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	return s, ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
