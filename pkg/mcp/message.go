// Package mcp provides JSON-RPC 2.0 message types and codec utilities
// for the mcpgate gateway.
package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Error codes synthesized by the gateway.
const (
	// CodeParseError is returned when a request body is not a JSON object.
	CodeParseError = -32700
	// CodeGatewayError covers all other gateway-synthesized errors
	// (missing/unknown session, method not allowed, request timeout).
	CodeGatewayError = -32000
)

// Message is a loosely decoded JSON-RPC message.
//
// The gateway forwards messages between HTTP clients and the child process
// without enforcing the full JSON-RPC schema, so Message keeps the original
// bytes plus the handful of fields the multiplexer needs. The id is kept as
// json.RawMessage because replies must carry it back verbatim, preserving
// the numeric-vs-string distinction.
type Message struct {
	// Raw contains the original bytes of the message.
	Raw []byte

	// ID is the raw JSON-RPC id. Nil when the message carries no id
	// (a notification) or when the id is JSON null.
	ID json.RawMessage

	// Method is the request/notification method, empty for responses.
	Method string

	// Params, Result and Error are the raw values of the corresponding
	// fields; nil when absent.
	Params json.RawMessage
	Result json.RawMessage
	Error  json.RawMessage
}

// Decode parses a single JSON-RPC message from data.
// It fails if data is not a JSON object; any object is otherwise accepted,
// since the child is the authority on what it understands.
func Decode(data []byte) (*Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("not a JSON object: %w", err)
	}

	m := &Message{Raw: data}
	if id, ok := fields["id"]; ok && !bytes.Equal(id, []byte("null")) {
		m.ID = id
	}
	if method, ok := fields["method"]; ok {
		_ = json.Unmarshal(method, &m.Method)
	}
	m.Params = fields["params"]
	m.Result = fields["result"]
	m.Error = fields["error"]
	return m, nil
}

// IsNotification reports whether the message carries no id and therefore
// expects no reply.
func (m *Message) IsNotification() bool {
	return m.ID == nil
}

// IsReply reports whether the message looks like a response
// (carries a result or an error).
func (m *Message) IsReply() bool {
	return m.Result != nil || m.Error != nil
}

// IDKey returns the correlation key for the message id: the unquoted string
// form of the id. Numeric 1 and string "1" map to the same key; callers must
// avoid mixing the two forms within one session.
func (m *Message) IDKey() string {
	if len(m.ID) == 0 {
		return ""
	}
	if m.ID[0] == '"' {
		var s string
		if err := json.Unmarshal(m.ID, &s); err == nil {
			return s
		}
	}
	return string(bytes.TrimSpace(m.ID))
}
