package outbound

import (
	"github.com/mcpgate/mcpgate/internal/domain/session"
)

// SessionRegistry is the outbound port for session storage.
// The registry is the only owner of Session values; callers hold borrowed
// references scoped to a single operation.
type SessionRegistry interface {
	// GetOrCreate returns the session for the given header value, creating
	// a new one when the value is empty or unrecognized. The second return
	// reports whether a session was created.
	GetOrCreate(headerValue string) (*session.Session, bool)

	// Get returns the session with the given id, if present.
	Get(id string) (*session.Session, bool)

	// Delete removes the session with the given id.
	Delete(id string)

	// Snapshot returns the current set of sessions.
	Snapshot() []*session.Session

	// Size returns the number of live sessions.
	Size() int
}
