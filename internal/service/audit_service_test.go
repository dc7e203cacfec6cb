package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mcpgate/mcpgate/internal/domain/audit"
)

// memStore collects written records for assertions.
type memStore struct {
	mu      sync.Mutex
	records []audit.Record
	closed  bool
}

func (m *memStore) Write(_ context.Context, rec audit.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// TestAuditService_WritesRecords verifies records flow through the channel
// to the store and Stop closes the store.
func TestAuditService_WritesRecords(t *testing.T) {
	store := &memStore{}
	svc := NewAuditService(store, discardLogger())
	svc.Start(context.Background())

	msg := mustDecode(t, `{"jsonrpc":"2.0","method":"tools/call","id":1}`)
	svc.Record(NewRecord(msg, false))
	svc.Record(NewRecord(msg, true))

	svc.Stop()

	if store.count() != 2 {
		t.Errorf("stored records = %d, want 2", store.count())
	}
	if !store.closed {
		t.Error("store not closed after Stop")
	}
}

// TestAuditService_DropsWhenFull verifies the hot path never blocks: a full
// channel drops and counts.
func TestAuditService_DropsWhenFull(t *testing.T) {
	store := &memStore{}
	svc := NewAuditService(store, discardLogger(), WithChannelSize(1))
	// No worker started: the channel fills immediately.

	msg := mustDecode(t, `{"jsonrpc":"2.0","method":"a","id":1}`)
	rec := NewRecord(msg, false)
	done := make(chan struct{})
	go func() {
		svc.Record(rec)
		svc.Record(rec)
		svc.Record(rec)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full channel")
	}
	if svc.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", svc.Dropped())
	}
}

// TestAuditService_StopIdempotent verifies repeated Stops are safe.
func TestAuditService_StopIdempotent(t *testing.T) {
	svc := NewAuditService(&memStore{}, discardLogger())
	svc.Start(context.Background())
	svc.Stop()
	svc.Stop()
}

// TestNewRecord verifies record fields: direction, kind, method, size, and
// a stable checksum over the raw payload.
func TestNewRecord(t *testing.T) {
	msg := mustDecode(t, `{"jsonrpc":"2.0","method":"tools/list","id":"a"}`)

	rec := NewRecord(msg, false)
	if rec.Direction != audit.ClientToChild {
		t.Errorf("Direction = %s, want %s", rec.Direction, audit.ClientToChild)
	}
	if rec.Kind != "request" {
		t.Errorf("Kind = %q, want request", rec.Kind)
	}
	if rec.Method != "tools/list" {
		t.Errorf("Method = %q, want tools/list", rec.Method)
	}
	if rec.Size != len(msg.Raw) {
		t.Errorf("Size = %d, want %d", rec.Size, len(msg.Raw))
	}
	if len(rec.Sum) != 16 {
		t.Errorf("Sum = %q, want 16 hex chars", rec.Sum)
	}

	again := NewRecord(msg, false)
	if again.Sum != rec.Sum {
		t.Errorf("checksum not stable: %q vs %q", again.Sum, rec.Sum)
	}

	fromChild := NewRecord(msg, true)
	if fromChild.Direction != audit.ChildToClient {
		t.Errorf("Direction = %s, want %s", fromChild.Direction, audit.ChildToClient)
	}
}
