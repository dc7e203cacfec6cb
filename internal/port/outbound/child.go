// Package outbound defines the outbound port interfaces for the gateway core.
package outbound

// ChildWriter is the outbound port for sending messages to the child process.
// The implementation must serialize writes so that every message is followed
// by its newline before another message begins; the newline is the only
// framing the child has.
type ChildWriter interface {
	// WriteLine appends '\n' to msg and writes it atomically to the
	// child's stdin.
	WriteLine(msg []byte) error
}
