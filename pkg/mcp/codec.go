package mcp

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// ReplyEnvelope is the normalized response body the gateway sends for a
// child reply. Field order matters on the wire: result always precedes the
// echoed id, and error is omitted entirely when the child reported none.
type ReplyEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// NewReplyEnvelope builds the response envelope for a child reply.
// Result is always present (null when the child sent none); the id is the
// child's raw id, preserved verbatim.
func NewReplyEnvelope(m *Message) ReplyEnvelope {
	return ReplyEnvelope{
		JSONRPC: "2.0",
		Result:  m.Result,
		Error:   m.Error,
		ID:      m.ID,
	}
}

// ErrorDetail is the error member of a gateway-synthesized error envelope.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope is a gateway-synthesized JSON-RPC error response.
// A nil ID marshals as JSON null.
type ErrorEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Error   ErrorDetail     `json:"error"`
	ID      json.RawMessage `json:"id"`
}

// NewErrorEnvelope builds a gateway error envelope with the given code,
// message and original raw id (nil for id:null).
func NewErrorEnvelope(code int, message string, id json.RawMessage) ErrorEnvelope {
	return ErrorEnvelope{
		JSONRPC: "2.0",
		Error:   ErrorDetail{Code: code, Message: message},
		ID:      id,
	}
}

// NotificationEnvelope is the normalized body broadcast for a child
// notification. Method is always present, params omitted when null.
type NotificationEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewNotificationEnvelope builds the broadcast envelope for a child
// notification.
func NewNotificationEnvelope(m *Message) NotificationEnvelope {
	return NotificationEnvelope{
		JSONRPC: "2.0",
		Method:  m.Method,
		Params:  m.Params,
	}
}

// Classify decodes data with the MCP SDK's strict JSON-RPC codec and names
// the message shape: "request", "notification", "response" or "invalid".
// Used for logging and audit metadata only; routing relies on Decode, which
// tolerates messages the strict codec rejects.
func Classify(data []byte) string {
	msg, err := jsonrpc.DecodeMessage(data)
	if err != nil {
		return "invalid"
	}
	switch m := msg.(type) {
	case *jsonrpc.Request:
		if m.IsCall() {
			return "request"
		}
		return "notification"
	case *jsonrpc.Response:
		return "response"
	default:
		return "invalid"
	}
}
