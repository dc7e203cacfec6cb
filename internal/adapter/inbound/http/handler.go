// Package http provides the HTTP transport adapter for the gateway: the
// single MCP endpoint bridging clients to the child process over JSON
// responses and SSE streams.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/mcpgate/mcpgate/internal/ctxkey"
	"github.com/mcpgate/mcpgate/internal/domain/session"
	"github.com/mcpgate/mcpgate/internal/port/outbound"
	"github.com/mcpgate/mcpgate/internal/service"
	"github.com/mcpgate/mcpgate/pkg/mcp"
)

// DefaultSessionHeader is the header carrying the session id.
const DefaultSessionHeader = "Mcp-Session-Id"

// DefaultEndpoint is the MCP endpoint path.
const DefaultEndpoint = "/mcp"

// maxRequestBodySize is the maximum allowed request body size (4 MiB).
const maxRequestBodySize = 4 << 20

// endpointHandler serves the MCP endpoint: POST carries client messages to
// the child, GET opens an SSE stream, DELETE tears the session down, and
// OPTIONS answers CORS preflight.
type endpointHandler struct {
	registry      outbound.SessionRegistry
	dispatcher    *service.Dispatcher
	sessionHeader string
	logger        *slog.Logger
	metrics       *Metrics
}

func (h *endpointHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	case http.MethodOptions:
		// CORS headers were applied by middleware.
		w.WriteHeader(http.StatusNoContent)
	default:
		writeRPCError(w, http.StatusMethodNotAllowed, mcp.CodeGatewayError,
			fmt.Sprintf("Method %s not allowed", r.Method), nil)
	}
}

// handlePost forwards one JSON-RPC message to the child and, for
// id-bearing requests, holds the response open until the correlator or the
// timeout scheduler finishes it, or the client goes away.
func (h *endpointHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	logger := h.log(r)

	sess, created := h.registry.GetOrCreate(r.Header.Get(h.sessionHeader))
	w.Header().Set(h.sessionHeader, sess.ID)
	if created {
		logger.Info("session created", "session", sess.ID)
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() { _ = r.Body.Close() }()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeRPCError(w, http.StatusRequestEntityTooLarge, mcp.CodeGatewayError,
				"Request body too large", nil)
			return
		}
		writeRPCError(w, http.StatusBadRequest, mcp.CodeParseError,
			"Parse error: Invalid JSON", nil)
		return
	}

	msg, err := mcp.Decode(body)
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, mcp.CodeParseError,
			"Parse error: Invalid JSON", nil)
		return
	}

	if err := h.dispatcher.Forward(r.Context(), msg); err != nil {
		logger.Error("failed to forward message to child", "error", err)
		writeRPCError(w, http.StatusInternalServerError, mcp.CodeGatewayError,
			"Internal error", nil)
		return
	}

	if h.dispatcher.Mode() == service.ModeStream {
		h.finishStreamPost(w, r, sess, msg)
		return
	}

	if msg.IsNotification() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// Batch: park the response under the request-id key until the child
	// replies or the timeout fires. Key collisions between numeric and
	// string ids are inherited behavior; see mcp.Message.IDKey.
	key := msg.IDKey()
	slot := newSlot(w)
	sess.PutPending(key, msg)
	sess.PutSlot(key, slot)
	h.dispatcher.ArmTimeout(sess, key, slot)

	select {
	case <-r.Context().Done():
		// Disconnect and timeout race on the same entries; CancelRequest
		// removes both atomically so a late timer finds nothing.
		sess.CancelRequest(key)
		slot.End()
	case <-slot.Done():
	}
}

// finishStreamPost handles the stream-mode tail of a POST: the response
// becomes an SSE channel. Replies fan out to the session's GET-opened
// streams, not back down the POST, so the slot is not stored under a
// request-id key; only the timeout scheduler holds it directly.
func (h *endpointHandler) finishStreamPost(w http.ResponseWriter, r *http.Request, sess *session.Session, msg *mcp.Message) {
	writeSSEHeaders(w, h.sessionHeader, sess.ID)
	slot := newSlot(w)
	slot.StartSSE()

	if msg.IsNotification() {
		// No reply expected; the channel stays open until the client
		// goes away.
		<-r.Context().Done()
		slot.End()
		return
	}

	key := msg.IDKey()
	sess.PutPending(key, msg)
	h.dispatcher.ArmTimeout(sess, key, slot)

	select {
	case <-r.Context().Done():
		sess.CancelRequest(key)
		slot.End()
	case <-slot.Done():
	}
}

// handleGet opens an SSE stream on the session, replaying history when the
// client resumes with Last-Event-ID.
func (h *endpointHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	logger := h.log(r)

	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	sess, created := h.registry.GetOrCreate(r.Header.Get(h.sessionHeader))
	if created {
		logger.Info("session created", "session", sess.ID)
	}

	writeSSEHeaders(w, h.sessionHeader, sess.ID)
	slot := newSlot(w)
	slot.StartSSE()
	_ = slot.WriteConnected(sess.ID)

	// Last-Event-ID replay: ids are history indexes, restarting at the
	// supplied base rather than continuing lastEventID.
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		if from, err := strconv.Atoi(raw); err == nil {
			for i, data := range sess.Replay(from) {
				if err := slot.WriteEvent(uint64(from+i), data); err != nil {
					break
				}
			}
		}
	}

	streamKey := uuid.NewString()
	sess.PutSlot(streamKey, slot)
	if h.metrics != nil {
		h.metrics.SSEStreams.Inc()
	}
	logger.Debug("SSE stream opened", "session", sess.ID, "stream", streamKey)

	select {
	case <-r.Context().Done():
	case <-slot.Done():
	}
	// Only the stream goes away; session state is retained for resume.
	sess.RemoveSlot(streamKey)
	slot.End()
	if h.metrics != nil {
		h.metrics.SSEStreams.Dec()
	}
}

// handleDelete tears down a session: every live response handle is ended
// and the session is removed from the registry.
func (h *endpointHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(h.sessionHeader)
	if id == "" {
		writeRPCError(w, http.StatusBadRequest, mcp.CodeGatewayError,
			"Missing session ID", nil)
		return
	}

	sess, ok := h.registry.Get(id)
	if !ok {
		writeRPCError(w, http.StatusNotFound, mcp.CodeGatewayError,
			fmt.Sprintf("Session %s not found", id), nil)
		return
	}

	sess.CloseAll()
	h.registry.Delete(id)
	h.log(r).Info("session deleted", "session", id)
	w.WriteHeader(http.StatusNoContent)
}

// log returns the request-scoped logger placed by middleware, falling back
// to the handler's own.
func (h *endpointHandler) log(r *http.Request) *slog.Logger {
	if logger, ok := r.Context().Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return h.logger
}

func writeSSEHeaders(w http.ResponseWriter, sessionHeader, sessionID string) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set(sessionHeader, sessionID)
}

// writeRPCError writes a gateway-synthesized JSON-RPC error envelope with
// the given HTTP status. A nil id marshals as null.
func writeRPCError(w http.ResponseWriter, status, code int, message string, id json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(mcp.NewErrorEnvelope(code, message, id))
}
