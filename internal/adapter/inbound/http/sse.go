package http

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/mcpgate/mcpgate/internal/domain/session"
)

// httpSlot implements session.Slot over an http.ResponseWriter.
//
// The correlator, the timeout scheduler and the client-disconnect path all
// race on the same slot; the mutex plus the ended flag make the winning
// write exclusive, and Done() lets the owning handler block until the slot
// is finished (the ResponseWriter must not be touched after the handler
// returns).
type httpSlot struct {
	mu          sync.Mutex
	w           http.ResponseWriter
	flusher     http.Flusher
	wroteHeader bool
	ended       bool
	done        chan struct{}
}

func newSlot(w http.ResponseWriter) *httpSlot {
	flusher, _ := w.(http.Flusher)
	return &httpSlot{
		w:       w,
		flusher: flusher,
		done:    make(chan struct{}),
	}
}

// StartSSE commits the already-set SSE headers and flushes them to the
// client. The caller sets Content-Type and friends beforehand.
func (s *httpSlot) StartSSE() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.wroteHeader {
		return
	}
	s.w.WriteHeader(http.StatusOK)
	s.wroteHeader = true
	s.flush()
}

// WriteJSON writes a complete JSON response and ends the slot.
func (s *httpSlot) WriteJSON(status int, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return session.ErrSlotEnded
	}
	if !s.wroteHeader {
		s.w.Header().Set("Content-Type", "application/json")
		s.w.WriteHeader(status)
		s.wroteHeader = true
	}
	_, err := s.w.Write(body)
	s.flush()
	s.endLocked()
	return err
}

// WriteEvent writes one id/data SSE frame.
func (s *httpSlot) WriteEvent(id uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return session.ErrSlotEnded
	}
	s.wroteHeader = true
	if _, err := fmt.Fprintf(s.w, "id: %d\ndata: %s\n\n", id, data); err != nil {
		return err
	}
	s.flush()
	return nil
}

// WriteConnected writes the prologue frame announcing the session id.
// It carries an event name and no id.
func (s *httpSlot) WriteConnected(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return session.ErrSlotEnded
	}
	s.wroteHeader = true
	if _, err := fmt.Fprintf(s.w, "event: connected\ndata: {\"sessionId\":%q}\n\n", sessionID); err != nil {
		return err
	}
	s.flush()
	return nil
}

// End marks the slot ended and releases the blocked handler. Idempotent.
func (s *httpSlot) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked()
}

// Ended reports whether the slot has ended.
func (s *httpSlot) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Done returns a channel closed when the slot ends.
func (s *httpSlot) Done() <-chan struct{} {
	return s.done
}

func (s *httpSlot) endLocked() {
	if s.ended {
		return
	}
	s.ended = true
	close(s.done)
}

func (s *httpSlot) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// Compile-time check that httpSlot implements the domain slot.
var _ session.Slot = (*httpSlot)(nil)
