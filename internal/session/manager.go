package session

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sells-group/contract-cli/internal/config"
)

// Manager keeps one rehydrated Session per owner.
type Manager struct {
	cfg    *config.Config
	collab Collaborators

	mu       sync.RWMutex
	sessions map[string]*Session
	group    singleflight.Group
}

// NewManager creates a Manager sharing collab across all owners.
func NewManager(cfg *config.Config, collab Collaborators) *Manager {
	return &Manager{
		cfg:      cfg,
		collab:   collab,
		sessions: make(map[string]*Session),
	}
}

// Get returns the owner's session, creating and rehydrating it on first use.
// Concurrent first calls for one owner share a single rehydration.
func (m *Manager) Get(ctx context.Context, ownerID string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[ownerID]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	v, err, _ := m.group.Do(ownerID, func() (any, error) {
		m.mu.RLock()
		s, ok := m.sessions[ownerID]
		m.mu.RUnlock()
		if ok {
			return s, nil
		}

		s, err := New(m.cfg, ownerID, m.collab)
		if err != nil {
			return nil, err
		}
		if err := s.Rehydrate(ctx); err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.sessions[ownerID] = s
		m.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Activity reports every live session's activity since the given time,
// ordered by owner.
func (m *Manager) Activity(since time.Time) []Activity {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(sessions, func(a, b *Session) int {
		return strings.Compare(a.OwnerID, b.OwnerID)
	})
	out := make([]Activity, len(sessions))
	for i, s := range sessions {
		out[i] = s.Activity(since)
	}
	return out
}
