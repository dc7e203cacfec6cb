// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"sync"

	"github.com/google/uuid"

	"github.com/mcpgate/mcpgate/internal/domain/session"
	"github.com/mcpgate/mcpgate/internal/port/outbound"
)

// SessionRegistry implements outbound.SessionRegistry with an in-memory map.
// Thread-safe for concurrent access. Sessions are never expired; they live
// until an explicit DELETE or gateway shutdown.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*session.Session),
	}
}

// GetOrCreate returns the session named by the client's session header, or
// creates a fresh one when the header is absent or unrecognized. Session ids
// are always gateway-issued UUIDs; an unrecognized client-supplied value is
// not adopted.
func (r *SessionRegistry) GetOrCreate(headerValue string) (*session.Session, bool) {
	if headerValue != "" {
		r.mu.RLock()
		s, ok := r.sessions[headerValue]
		r.mu.RUnlock()
		if ok {
			return s, false
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check under the write lock: a concurrent request may have created it.
	if headerValue != "" {
		if s, ok := r.sessions[headerValue]; ok {
			return s, false
		}
	}
	s := session.New(uuid.NewString())
	r.sessions[s.ID] = s
	return s, true
}

// Get returns the session with the given id, if present.
func (r *SessionRegistry) Get(id string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Delete removes the session with the given id.
func (r *SessionRegistry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Snapshot returns the current sessions. The correlator iterates this on
// every child output line; for the expected session counts a copy is cheap.
func (r *SessionRegistry) Snapshot() []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Size returns the number of live sessions.
func (r *SessionRegistry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Compile-time check that SessionRegistry implements the outbound port.
var _ outbound.SessionRegistry = (*SessionRegistry)(nil)
