// Package store provides session storage backends for FormPipe.
//
// The in-memory store is the default; SQLite and PostgreSQL backends exist as
// the durable extension point for deployments that must survive restarts.
package store

import (
	"strings"
	"sync"

	"github.com/dignifi/formpipe/internal/models"
)

// SessionStore persists conversation sessions keyed by their opaque token.
// GetSession returns (nil, nil) for unknown tokens; absence is not an error.
type SessionStore interface {
	SaveSession(session models.Session) error
	GetSession(id string) (*models.Session, error)
	DeleteSession(id string) error
	Close() error
}

// Opts holds configuration for database-backed stores.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithDSN sets the database DSN (a file path for SQLite, a connection string
// for PostgreSQL).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite".
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore keeps sessions in process memory for the life of the process.
// Safe for concurrent use across sessions; entries live until explicitly
// deleted (eviction policy is the caller's concern).
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
}

// NewInMemoryStore creates an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]models.Session)}
}

// SaveSession stores or replaces a session.
func (s *InMemoryStore) SaveSession(session models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

// GetSession retrieves a session by token, or nil if unknown.
func (s *InMemoryStore) GetSession(id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	// Copy out so callers never share the stored value.
	copied := session
	return &copied, nil
}

// DeleteSession removes a session. Deleting an unknown token is a no-op.
func (s *InMemoryStore) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
