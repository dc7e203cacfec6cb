// Package inbound defines the inbound port interfaces for the gateway core.
// Inbound adapters (HTTP) implement this interface.
package inbound

import (
	"context"
)

// Transport is the inbound port for a gateway listener.
type Transport interface {
	// Start begins accepting client connections.
	// Blocks until the context is cancelled or an error occurs.
	// Returns nil on graceful shutdown, error on failure.
	Start(ctx context.Context) error

	// Close gracefully shuts down the transport and cleans up resources.
	Close() error
}
