// Package audit defines the audit record model and store port for the
// gateway's message audit trail.
package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Direction labels which way a message crossed the gateway.
type Direction string

const (
	// ClientToChild marks a message forwarded from an HTTP client to the
	// child's stdin.
	ClientToChild Direction = "client->child"
	// ChildToClient marks a line read from the child's stdout.
	ChildToClient Direction = "child->client"
)

// Record is one audited message crossing. Payload bytes are not stored;
// Size and Sum (xxhash64 of the payload, hex) identify the content without
// retaining it.
type Record struct {
	Time      time.Time       `json:"ts"`
	Direction Direction       `json:"direction"`
	Kind      string          `json:"kind,omitempty"`
	Method    string          `json:"method,omitempty"`
	ID        json.RawMessage `json:"id,omitempty"`
	Size      int             `json:"size"`
	Sum       string          `json:"sum"`
}

// Store persists audit records. Implementations must be safe for use from
// a single background writer goroutine.
type Store interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}
