package http

import (
	"net/http/httptest"
	"testing"

	"github.com/mcpgate/mcpgate/internal/domain/session"
)

// TestSlot_WriteEvent verifies the SSE frame layout.
func TestSlot_WriteEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	slot := newSlot(rec)

	if err := slot.WriteEvent(3, []byte(`{"n":1}`)); err != nil {
		t.Fatalf("WriteEvent() error = %v", err)
	}
	want := "id: 3\ndata: {\"n\":1}\n\n"
	if rec.Body.String() != want {
		t.Errorf("frame = %q, want %q", rec.Body.String(), want)
	}
}

// TestSlot_WriteConnected verifies the prologue frame: named event, session
// id payload, no id field.
func TestSlot_WriteConnected(t *testing.T) {
	rec := httptest.NewRecorder()
	slot := newSlot(rec)

	if err := slot.WriteConnected("abc-123"); err != nil {
		t.Fatalf("WriteConnected() error = %v", err)
	}
	want := "event: connected\ndata: {\"sessionId\":\"abc-123\"}\n\n"
	if rec.Body.String() != want {
		t.Errorf("frame = %q, want %q", rec.Body.String(), want)
	}
}

// TestSlot_WriteJSON verifies the one-shot JSON response ends the slot.
func TestSlot_WriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	slot := newSlot(rec)

	if err := slot.WriteJSON(200, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if rec.Code != 200 {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Errorf("body = %s", rec.Body.String())
	}
	if !slot.Ended() {
		t.Error("slot not ended after WriteJSON")
	}

	// A second write loses the race.
	if err := slot.WriteJSON(200, []byte(`{"again":true}`)); err != session.ErrSlotEnded {
		t.Errorf("second WriteJSON error = %v, want ErrSlotEnded", err)
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Errorf("body mutated by second write: %s", rec.Body.String())
	}
}

// TestSlot_EndReleasesDone verifies Done unblocks on End and End is
// idempotent.
func TestSlot_EndReleasesDone(t *testing.T) {
	slot := newSlot(httptest.NewRecorder())

	select {
	case <-slot.Done():
		t.Fatal("Done closed before End")
	default:
	}

	slot.End()
	slot.End()

	select {
	case <-slot.Done():
	default:
		t.Error("Done not closed after End")
	}
	if err := slot.WriteEvent(1, []byte(`{}`)); err != session.ErrSlotEnded {
		t.Errorf("WriteEvent after End error = %v, want ErrSlotEnded", err)
	}
}
