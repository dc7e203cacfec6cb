package service

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mcpgate/mcpgate/internal/domain/audit"
	"github.com/mcpgate/mcpgate/pkg/mcp"
)

// defaultAuditChannelSize buffers audit records between the hot path and
// the background writer.
const defaultAuditChannelSize = 1000

// AuditService provides async audit logging with a buffered channel and a
// background worker. Message forwarding never blocks on the audit sink:
// when the channel is full the record is dropped and counted.
type AuditService struct {
	store  audit.Store
	ch     chan audit.Record
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger *slog.Logger
	drops  atomic.Int64
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithChannelSize sets the audit channel buffer size.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		s.ch = make(chan audit.Record, size)
	}
}

// NewAuditService creates an audit service writing to store.
func NewAuditService(store audit.Store, logger *slog.Logger, opts ...AuditOption) *AuditService {
	s := &AuditService{
		store:  store,
		ch:     make(chan audit.Record, defaultAuditChannelSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background writer.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record enqueues rec without blocking. Full channel drops the record.
func (s *AuditService) Record(rec audit.Record) {
	select {
	case s.ch <- rec:
	default:
		s.drops.Add(1)
	}
}

// Dropped returns the number of records dropped due to backpressure.
func (s *AuditService) Dropped() int64 {
	return s.drops.Load()
}

// ChannelDepth returns the number of records currently buffered.
func (s *AuditService) ChannelDepth() int {
	return len(s.ch)
}

// ChannelCapacity returns the audit channel buffer size.
func (s *AuditService) ChannelCapacity() int {
	return cap(s.ch)
}

// Stop drains pending records, closes the store, and waits for the worker.
// Safe to call multiple times.
func (s *AuditService) Stop() {
	s.once.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	if n := s.Dropped(); n > 0 {
		s.logger.Warn("audit records dropped under backpressure", "count", n)
	}
}

func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close audit store", "error", err)
		}
	}()

	for {
		select {
		case rec := <-s.ch:
			s.write(ctx, rec)
		case <-s.done:
			s.drain(ctx)
			return
		case <-ctx.Done():
			s.drain(context.Background())
			return
		}
	}
}

// drain writes whatever is still buffered, without waiting for more.
func (s *AuditService) drain(ctx context.Context) {
	for {
		select {
		case rec := <-s.ch:
			s.write(ctx, rec)
		default:
			return
		}
	}
}

func (s *AuditService) write(ctx context.Context, rec audit.Record) {
	if err := s.store.Write(ctx, rec); err != nil {
		s.logger.Error("failed to write audit record", "error", err)
	}
}

// NewRecord builds an audit record for a message crossing the gateway.
// fromChild selects the direction. The payload itself is not retained; the
// record carries its size and xxhash64 checksum.
func NewRecord(msg *mcp.Message, fromChild bool) audit.Record {
	dir := audit.ClientToChild
	if fromChild {
		dir = audit.ChildToClient
	}
	sum := xxhash.Sum64(msg.Raw)
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(sum >> (56 - 8*i))
	}
	return audit.Record{
		Time:      time.Now().UTC(),
		Direction: dir,
		Kind:      mcp.Classify(msg.Raw),
		Method:    msg.Method,
		ID:        msg.ID,
		Size:      len(msg.Raw),
		Sum:       hex.EncodeToString(buf[:]),
	}
}
