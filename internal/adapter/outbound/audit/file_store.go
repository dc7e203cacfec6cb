// Package audit provides persistence adapters for the gateway's audit
// trail: JSON Lines to a writer or file, and a sqlite-backed store.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mcpgate/mcpgate/internal/domain/audit"
)

// WriterStore writes audit records as JSON Lines to an io.Writer.
// Used for the "stdout" audit output.
type WriterStore struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriterStore creates a store writing JSONL records to w.
func NewWriterStore(w io.Writer) *WriterStore {
	return &WriterStore{enc: json.NewEncoder(w)}
}

// Write appends one record as a JSON line.
func (s *WriterStore) Write(_ context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	return nil
}

// Close is a no-op; the underlying writer is not owned by the store.
func (s *WriterStore) Close() error {
	return nil
}

// FileStore appends audit records as JSON Lines to a single file.
type FileStore struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewFileStore opens (or creates) the audit file at path for appending.
func NewFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &FileStore{file: f, enc: json.NewEncoder(f)}, nil
}

// Write appends one record as a JSON line.
func (s *FileStore) Write(_ context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return os.ErrClosed
	}
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	return nil
}

// Close syncs and closes the audit file. Safe to call once.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	f := s.file
	s.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync audit file: %w", err)
	}
	return f.Close()
}

// Compile-time checks that both stores implement the audit port.
var (
	_ audit.Store = (*WriterStore)(nil)
	_ audit.Store = (*FileStore)(nil)
)
