// Package service contains the gateway core: the outbound correlator that
// routes child output to waiting HTTP responses, the per-request timeout
// scheduler, and the async audit trail.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mcpgate/mcpgate/internal/ctxkey"
	"github.com/mcpgate/mcpgate/internal/domain/session"
	"github.com/mcpgate/mcpgate/internal/port/outbound"
	"github.com/mcpgate/mcpgate/pkg/mcp"
)

// Mode selects how replies travel back to clients.
type Mode string

const (
	// ModeBatch blocks each POST until the child replies, then returns one
	// JSON body on that POST.
	ModeBatch Mode = "batch"
	// ModeStream delivers replies as SSE events on the session's streams.
	ModeStream Mode = "stream"
)

// DefaultBatchTimeout bounds how long a POST waits for the child's reply.
const DefaultBatchTimeout = 30 * time.Second

// dispatcherMetrics holds the prometheus counters the dispatcher records.
type dispatcherMetrics struct {
	childLines *prometheus.CounterVec
	broadcasts prometheus.Counter
	timeouts   prometheus.Counter
}

func newDispatcherMetrics(reg prometheus.Registerer) *dispatcherMetrics {
	return &dispatcherMetrics{
		childLines: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpgate",
				Name:      "child_lines_total",
				Help:      "Child stdout lines processed, by message kind",
			},
			[]string{"kind"},
		),
		broadcasts: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "mcpgate",
				Name:      "broadcasts_total",
				Help:      "SSE broadcasts emitted across all sessions",
			},
		),
		timeouts: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "mcpgate",
				Name:      "request_timeouts_total",
				Help:      "Pending requests that timed out waiting for the child",
			},
		),
	}
}

// Dispatcher is the outbound correlator. It consumes framed child stdout
// lines and matches each one to a pending request's HTTP response or to the
// broadcast set of SSE streams, scanning every session: the child's stdout
// is a single ordered stream and carries no session addressing, so the
// correlator relies on JSON-RPC id uniqueness among in-flight requests.
type Dispatcher struct {
	registry outbound.SessionRegistry
	child    outbound.ChildWriter
	mode     Mode
	timeout  time.Duration
	logger   *slog.Logger
	audit    *AuditService
	metrics  *dispatcherMetrics
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMode sets the response mode. Default is ModeBatch.
func WithMode(mode Mode) DispatcherOption {
	return func(d *Dispatcher) {
		d.mode = mode
	}
}

// WithBatchTimeout sets the per-request timeout.
func WithBatchTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithAudit attaches the audit trail. Nil disables auditing.
func WithAudit(audit *AuditService) DispatcherOption {
	return func(d *Dispatcher) {
		d.audit = audit
	}
}

// WithRegisterer registers the dispatcher's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = newDispatcherMetrics(reg)
	}
}

// NewDispatcher creates a dispatcher over the given registry and child.
func NewDispatcher(registry outbound.SessionRegistry, child outbound.ChildWriter, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		child:    child,
		mode:     ModeBatch,
		timeout:  DefaultBatchTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Mode returns the configured response mode.
func (d *Dispatcher) Mode() Mode {
	return d.mode
}

// Run consumes child stdout lines until the channel closes (child exit).
// Lines are processed strictly in arrival order.
func (d *Dispatcher) Run(ctx context.Context, lines <-chan []byte) error {
	for line := range lines {
		d.dispatch(ctx, line)
	}
	d.logger.Debug("child output stream closed")
	return nil
}

// Forward sends a client message to the child's stdin as one line.
func (d *Dispatcher) Forward(ctx context.Context, msg *mcp.Message) error {
	if err := d.child.WriteLine(msg.Raw); err != nil {
		return fmt.Errorf("forward to child: %w", err)
	}
	if d.audit != nil {
		d.audit.Record(NewRecord(msg, false))
	}
	return nil
}

// dispatch routes one complete child output line.
func (d *Dispatcher) dispatch(ctx context.Context, line []byte) {
	logger := d.loggerFrom(ctx)

	msg, err := mcp.Decode(line)
	if err != nil {
		// Framing survives non-JSON output; the line is dropped.
		logger.Error("child emitted invalid JSON", "error", err, "line", string(line))
		d.countLine("invalid")
		return
	}
	d.countLine(mcp.Classify(line))
	if d.audit != nil {
		d.audit.Record(NewRecord(msg, true))
	}

	if msg.ID != nil {
		d.dispatchReply(logger, msg)
		return
	}
	d.dispatchNotification(msg)
}

// dispatchReply delivers an id-bearing child message. For each session, in
// order: the directly held response slot for the id, then the broadcast
// (stream) or fan-in (batch) fallback when only the pending entry remains.
// Sessions that never originated the id are untouched.
func (d *Dispatcher) dispatchReply(logger *slog.Logger, msg *mcp.Message) {
	key := msg.IDKey()
	body, err := json.Marshal(mcp.NewReplyEnvelope(msg))
	if err != nil {
		logger.Error("failed to encode reply envelope", "id", key, "error", err)
		return
	}

	for _, s := range d.registry.Snapshot() {
		if slot, ok := s.TakeReply(key); ok {
			if err := slot.WriteJSON(200, body); err != nil {
				logger.Warn("reply write failed", "session", s.ID, "id", key, "error", err)
			}
			continue
		}
		if _, ok := s.TakePending(key); !ok {
			// This session did not originate request key.
			continue
		}
		if d.mode == ModeStream {
			d.broadcast(s, body)
			continue
		}
		if slot := s.AnyLiveSlot(); slot != nil {
			if err := slot.WriteJSON(200, body); err != nil {
				logger.Warn("reply write failed", "session", s.ID, "id", key, "error", err)
			}
			continue
		}
		logger.Warn("no live response for child reply, dropping",
			"session", s.ID, "id", key)
	}
}

// dispatchNotification broadcasts an id-less child message to every
// session's live SSE streams.
func (d *Dispatcher) dispatchNotification(msg *mcp.Message) {
	body, err := json.Marshal(mcp.NewNotificationEnvelope(msg))
	if err != nil {
		d.logger.Error("failed to encode notification envelope", "method", msg.Method, "error", err)
		return
	}
	for _, s := range d.registry.Snapshot() {
		d.broadcast(s, body)
	}
}

func (d *Dispatcher) broadcast(s *session.Session, body []byte) {
	s.Broadcast(body)
	if d.metrics != nil {
		d.metrics.broadcasts.Inc()
	}
}

// ArmTimeout schedules the one-shot timeout for a pending request. slot is
// the POST's own response handle in both modes. When the timer fires after
// the reply or a disconnect already cleaned up, it finds no pending entry
// and exits silently; the ended check runs last, just before writing.
func (d *Dispatcher) ArmTimeout(s *session.Session, key string, slot session.Slot) *time.Timer {
	return time.AfterFunc(d.timeout, func() {
		if slot.Ended() {
			return
		}
		msg, ok := s.CancelRequest(key)
		if !ok {
			return
		}
		if d.metrics != nil {
			d.metrics.timeouts.Inc()
		}
		d.logger.Warn("request timed out waiting for child",
			"session", s.ID, "id", key, "timeout", d.timeout)

		var id json.RawMessage
		if msg != nil {
			id = msg.ID
		}
		body, err := json.Marshal(mcp.NewErrorEnvelope(mcp.CodeGatewayError, "Request timeout", id))
		if err != nil {
			return
		}
		if d.mode == ModeStream {
			_ = slot.WriteEvent(s.NextEventID(), body)
			slot.End()
			return
		}
		_ = slot.WriteJSON(504, body)
	})
}

func (d *Dispatcher) countLine(kind string) {
	if d.metrics != nil {
		d.metrics.childLines.WithLabelValues(kind).Inc()
	}
}

// loggerFrom returns the enriched logger from ctx when middleware put one
// there, falling back to the dispatcher's own.
func (d *Dispatcher) loggerFrom(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return d.logger
}
