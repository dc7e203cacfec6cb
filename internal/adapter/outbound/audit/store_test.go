package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcpgate/mcpgate/internal/domain/audit"
)

func sampleRecord() audit.Record {
	return audit.Record{
		Time:      time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
		Direction: audit.ClientToChild,
		Kind:      "request",
		Method:    "tools/call",
		ID:        json.RawMessage(`1`),
		Size:      64,
		Sum:       "deadbeefdeadbeef",
	}
}

// TestWriterStore verifies records land as one JSON line each.
func TestWriterStore(t *testing.T) {
	var buf bytes.Buffer
	store := NewWriterStore(&buf)

	if err := store.Write(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := store.Write(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	scanner := bufio.NewScanner(&buf)
	lines := 0
	for scanner.Scan() {
		lines++
		var rec audit.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line %d is not JSON: %v", lines, err)
		}
		if rec.Method != "tools/call" {
			t.Errorf("Method = %q, want tools/call", rec.Method)
		}
		if rec.Direction != audit.ClientToChild {
			t.Errorf("Direction = %q, want %q", rec.Direction, audit.ClientToChild)
		}
	}
	if lines != 2 {
		t.Errorf("lines = %d, want 2", lines)
	}
}

// TestFileStore verifies append semantics across reopen and that Close is
// safe to repeat.
func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := store.Write(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := store.Write(context.Background(), sampleRecord()); err == nil {
		t.Error("Write() after Close error = nil, want error")
	}

	// Reopen appends rather than truncating.
	store, err = NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() reopen error = %v", err)
	}
	if err := store.Write(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if n := bytes.Count(data, []byte("\n")); n != 2 {
		t.Errorf("file lines = %d, want 2", n)
	}
}

// TestSQLiteStore verifies inserts round trip through the database.
func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := store.Write(ctx, sampleRecord()); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Count() = %d, want 3", n)
	}
}

// TestSQLiteStore_File verifies records persist to a database file on disk.
func TestSQLiteStore_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := store.Write(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() reopen error = %v", err)
	}
	defer func() { _ = reopened.Close() }()

	n, err := reopened.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() after reopen = %d, want 1", n)
	}
}
