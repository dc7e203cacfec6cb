package session

import "errors"

// ErrSlotEnded is returned when a write is attempted on a response handle
// that has already been written or closed.
var ErrSlotEnded = errors.New("response slot already ended")

// Slot is a live HTTP response handle held by the gateway pending a write.
//
// Two kinds of slots share a session's responses map: batch POST responses
// keyed by the stringified request id, and GET-opened SSE streams keyed by a
// random stream UUID. The union is unambiguous because request ids are
// client-controlled and stream keys are random UUIDs.
//
// Implementations must be safe for concurrent use: the correlator, the
// timeout scheduler and the client-disconnect path race on the same slot,
// and the ended check is what keeps the reply at-most-once.
type Slot interface {
	// WriteJSON writes a complete application/json response with the given
	// status and body, then ends the slot. Returns ErrSlotEnded if the slot
	// already ended.
	WriteJSON(status int, body []byte) error

	// WriteEvent writes one SSE frame (id + data lines) without ending the
	// slot. Returns ErrSlotEnded if the slot already ended.
	WriteEvent(id uint64, data []byte) error

	// End marks the slot ended and releases any handler blocked on it.
	// Idempotent.
	End()

	// Ended reports whether the slot has ended.
	Ended() bool
}
