package runner

import (
	"errors"
	"sync"
	"time"

	"github.com/hperssn/palmpay/internal/domain"
)

var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
)

type ManagerConfig struct {
	// TTL is how long an idle or finalized session is kept.
	TTL             time.Duration
	CleanupInterval time.Duration
}

// SessionManager holds the live sequencers. Sessions are dropped on Stop or
// after TTL without activity and are never persisted.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Sequencer

	deps Deps
	cfg  ManagerConfig
	done chan struct{}
	once sync.Once
}

func NewSessionManager(deps Deps, cfg ManagerConfig) *SessionManager {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	m := &SessionManager{
		sessions: make(map[string]*Sequencer),
		deps:     deps,
		cfg:      cfg,
		done:     make(chan struct{}),
	}

	go m.cleanupLoop()

	return m
}

func (m *SessionManager) cleanupLoop() {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			m.Sweep(now)
		case <-m.done:
			return
		}
	}
}

// Sweep stops sessions with no activity for longer than TTL before now and
// returns how many were removed.
func (m *SessionManager) Sweep(now time.Time) int {
	cutoff := now.Add(-m.cfg.TTL)

	m.mu.Lock()
	var expired []*Sequencer
	for id, seq := range m.sessions {
		sess := seq.Session()
		if sess.UpdatedAt.Before(cutoff) {
			expired = append(expired, seq)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, seq := range expired {
		seq.Stop()
	}
	if len(expired) > 0 && m.deps.Logger != nil {
		m.deps.Logger.Info("expired sessions removed", "count", len(expired))
	}
	return len(expired)
}

func (m *SessionManager) Events(id string) (<-chan StepEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, ok := m.sessions[id]
	if !ok {
		return nil, false
	}

	return seq.Events(), true
}

func (m *SessionManager) StartSession(s *domain.Session) (*Sequencer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return nil, ErrSessionExists
	}

	seq, err := NewSequencer(s, m.deps)
	if err != nil {
		return nil, err
	}
	m.sessions[s.ID] = seq

	return seq, nil
}

func (m *SessionManager) StopSession(id string) error {
	m.mu.Lock()
	seq, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !exists {
		return ErrSessionNotFound
	}

	seq.Stop()
	return nil
}

func (m *SessionManager) GetSession(id string) (*domain.Session, bool) {
	m.mu.Lock()
	seq, exists := m.sessions[id]
	m.mu.Unlock()

	if !exists {
		return nil, false
	}
	return seq.Session(), true
}

func (m *SessionManager) Sequencer(id string) (*Sequencer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, exists := m.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return seq, nil
}

func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops the cleanup loop and every live session.
func (m *SessionManager) Close() {
	m.once.Do(func() { close(m.done) })

	m.mu.Lock()
	live := make([]*Sequencer, 0, len(m.sessions))
	for id, seq := range m.sessions {
		live = append(live, seq)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, seq := range live {
		seq.Stop()
	}
}
