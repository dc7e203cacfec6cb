// Package session holds the per-session multiplexing state of the gateway:
// pending requests, live response slots, and the bounded SSE replay history.
package session

import (
	"sync"

	"github.com/mcpgate/mcpgate/pkg/mcp"
)

// HistoryLimit bounds the number of broadcast payloads kept for
// Last-Event-ID replay.
const HistoryLimit = 100

// Session is the per-client correlation context, identified by a UUID
// carried in the session header. One child process is shared by all
// sessions; the session keeps everything needed to route that child's
// output back to the right HTTP responses.
//
// Sessions are created by the registry and mutated concurrently by HTTP
// handlers (insertions) and the outbound correlator (removals + writes).
// A session is destroyed only by an explicit DELETE or gateway shutdown;
// the last connection closing leaves it intact for resumability.
type Session struct {
	// ID is the opaque UUID v4 issued to the client via the session header.
	ID string

	mu          sync.Mutex
	slots       map[string]Slot
	pending     map[string]*mcp.Message
	history     [][]byte
	lastEventID uint64
}

// New creates an empty session with the given id.
func New(id string) *Session {
	return &Session{
		ID:      id,
		slots:   make(map[string]Slot),
		pending: make(map[string]*mcp.Message),
	}
}

// PutPending records the original request under its correlation key, so the
// correlator can recognize the reply and timeouts can cite the original id.
func (s *Session) PutPending(key string, msg *mcp.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[key] = msg
}

// PutSlot stores a live response handle under the given key (a request-id
// key for batch POSTs, a stream UUID for GET-opened SSE streams).
func (s *Session) PutSlot(key string, slot Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[key] = slot
}

// RemoveSlot removes the response handle stored under key, leaving the rest
// of the session state intact. Used when an SSE stream closes.
func (s *Session) RemoveSlot(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, key)
}

// TakeReply removes and returns the response slot for a correlation key if
// it exists and has not ended, removing the pending entry in the same
// critical section. This is the batch fast path: the reply goes directly
// back down the POST that carried the request.
func (s *Session) TakeReply(key string) (Slot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[key]
	if !ok || slot.Ended() {
		return nil, false
	}
	delete(s.slots, key)
	delete(s.pending, key)
	return slot, true
}

// TakePending removes and returns the pending request for a correlation key.
func (s *Session) TakePending(key string) (*mcp.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.pending[key]
	if !ok {
		return nil, false
	}
	delete(s.pending, key)
	return msg, true
}

// CancelRequest atomically removes both the pending entry and the response
// slot for a correlation key. Used by the timeout scheduler and the
// client-disconnect path; returns the original request and whether a
// pending entry existed, so a timer firing after cancellation finds nothing
// and exits silently.
func (s *Session) CancelRequest(key string) (*mcp.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.pending[key]
	delete(s.pending, key)
	delete(s.slots, key)
	return msg, ok
}

// Pending reports whether a pending entry exists for the key.
func (s *Session) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// AnyLiveSlot returns some response handle that has not ended, or nil.
// Used by the correlator in batch mode when the originating POST's slot is
// gone but the session still has live responses (first one wins).
func (s *Session) AnyLiveSlot() Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slot := range s.slots {
		if !slot.Ended() {
			return slot
		}
	}
	return nil
}

// Broadcast appends data to the replay history, assigns the next event id,
// and writes the frame to every live slot. The slot set is copied out under
// the lock and written without it, since response writes may block.
// Returns the event id and the number of slots written.
func (s *Session) Broadcast(data []byte) (uint64, int) {
	s.mu.Lock()
	s.history = append(s.history, data)
	if len(s.history) > HistoryLimit {
		s.history = s.history[1:]
	}
	s.lastEventID++
	id := s.lastEventID
	targets := make([]Slot, 0, len(s.slots))
	for _, slot := range s.slots {
		targets = append(targets, slot)
	}
	s.mu.Unlock()

	written := 0
	for _, slot := range targets {
		if err := slot.WriteEvent(id, data); err == nil {
			written++
		}
	}
	return id, written
}

// NextEventID reserves and returns the next event id without touching the
// history. Used for single-slot events such as the stream-mode timeout
// error, keeping ids strictly increasing within the session.
func (s *Session) NextEventID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEventID++
	return s.lastEventID
}

// Replay returns a copy of the history entries starting at index from.
// Replay ids are history indexes: the caller emits entry i with id from+i.
// An out-of-range from yields nil.
func (s *Session) Replay(from int) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if from < 0 || from >= len(s.history) {
		return nil
	}
	out := make([][]byte, len(s.history)-from)
	copy(out, s.history[from:])
	return out
}

// CloseAll ends every response handle in the session. Used by DELETE and by
// gateway shutdown.
func (s *Session) CloseAll() {
	s.mu.Lock()
	targets := make([]Slot, 0, len(s.slots))
	for _, slot := range s.slots {
		targets = append(targets, slot)
	}
	s.slots = make(map[string]Slot)
	s.pending = make(map[string]*mcp.Message)
	s.mu.Unlock()

	for _, slot := range targets {
		slot.End()
	}
}

// LastEventID returns the current event id counter.
func (s *Session) LastEventID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEventID
}

// HistoryLen returns the number of retained broadcast payloads.
func (s *Session) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// SlotCount returns the number of stored response handles.
func (s *Session) SlotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
