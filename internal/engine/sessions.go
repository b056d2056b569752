package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"apiguardian/internal/safety"
	"apiguardian/types"
)

// Session groups successive analyses under one remediation quota. Each
// session owns a ledger; the ledger's modification count and backups span
// every endpoint analyzed in that session.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	mu      sync.RWMutex
	ledger  *safety.SessionLedger
	reports []*types.ExecutionReport
}

// Ledger returns the session's safety ledger.
func (s *Session) Ledger() *safety.SessionLedger {
	return s.ledger
}

// Reports returns the reports produced so far, oldest first.
func (s *Session) Reports() []*types.ExecutionReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.ExecutionReport, len(s.reports))
	copy(out, s.reports)
	return out
}

func (s *Session) addReport(report *types.ExecutionReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
}

// SessionManager tracks live sessions by ID.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session with the given ID, creating it on first
// use. An empty ID yields a fresh single-use session.
func (m *SessionManager) GetOrCreate(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[id]; ok {
		return session
	}
	session := &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		ledger:    safety.NewLedger(id),
	}
	m.sessions[id] = session
	return session
}

// Get returns a session by ID.
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	return session, ok
}

// Drop discards a session and its ledger. Backups referenced by the
// ledger are not removed; they remain recoverable on disk.
func (m *SessionManager) Drop(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}
