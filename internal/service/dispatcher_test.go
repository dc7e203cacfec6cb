package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mcpgate/mcpgate/internal/adapter/outbound/memory"
	"github.com/mcpgate/mcpgate/internal/domain/session"
	"github.com/mcpgate/mcpgate/pkg/mcp"
)

// fakeChild records lines written toward the child process.
type fakeChild struct {
	mu    sync.Mutex
	lines [][]byte
	err   error
}

func (c *fakeChild) WriteLine(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	line := make([]byte, len(msg))
	copy(line, msg)
	c.lines = append(c.lines, line)
	return nil
}

func (c *fakeChild) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

// fakeSlot records deliveries for assertions.
type fakeSlot struct {
	mu     sync.Mutex
	status int
	body   []byte
	events []uint64
	frames [][]byte
	ended  bool
}

func (f *fakeSlot) WriteJSON(status int, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended {
		return session.ErrSlotEnded
	}
	f.status = status
	f.body = body
	f.ended = true
	return nil
}

func (f *fakeSlot) WriteEvent(id uint64, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended {
		return session.ErrSlotEnded
	}
	f.events = append(f.events, id)
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeSlot) End() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = true
}

func (f *fakeSlot) Ended() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ended
}

func (f *fakeSlot) got() (int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, string(f.body)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func mustDecode(t *testing.T, data string) *mcp.Message {
	t.Helper()
	m, err := mcp.Decode([]byte(data))
	if err != nil {
		t.Fatalf("Decode(%s) error = %v", data, err)
	}
	return m
}

// TestForward verifies client messages reach the child verbatim.
func TestForward(t *testing.T) {
	child := &fakeChild{}
	d := NewDispatcher(memory.NewSessionRegistry(), child, WithLogger(discardLogger()))

	msg := mustDecode(t, `{"jsonrpc":"2.0","method":"ping","id":1}`)
	if err := d.Forward(context.Background(), msg); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if child.count() != 1 {
		t.Fatalf("child lines = %d, want 1", child.count())
	}
	if string(child.lines[0]) != `{"jsonrpc":"2.0","method":"ping","id":1}` {
		t.Errorf("child line = %s", child.lines[0])
	}
}

// TestForward_ChildError verifies write failures surface to the caller.
func TestForward_ChildError(t *testing.T) {
	child := &fakeChild{err: errors.New("broken pipe")}
	d := NewDispatcher(memory.NewSessionRegistry(), child, WithLogger(discardLogger()))

	msg := mustDecode(t, `{"jsonrpc":"2.0","method":"ping","id":1}`)
	if err := d.Forward(context.Background(), msg); err == nil {
		t.Error("Forward() error = nil, want error")
	}
}

// TestDispatch_ReplyCorrelation verifies a child reply lands on the slot
// that parked the matching request, normalized into the reply envelope.
func TestDispatch_ReplyCorrelation(t *testing.T) {
	registry := memory.NewSessionRegistry()
	d := NewDispatcher(registry, &fakeChild{}, WithLogger(discardLogger()))

	s, _ := registry.GetOrCreate("")
	slot := &fakeSlot{}
	s.PutPending("1", mustDecode(t, `{"jsonrpc":"2.0","method":"ping","id":1}`))
	s.PutSlot("1", slot)

	d.dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","result":{"ok":true},"id":1}`))

	status, body := slot.got()
	if status != 200 {
		t.Errorf("status = %d, want 200", status)
	}
	want := `{"jsonrpc":"2.0","result":{"ok":true},"id":1}`
	if body != want {
		t.Errorf("body = %s, want %s", body, want)
	}
	if s.Pending("1") {
		t.Error("pending entry survived reply delivery")
	}
}

// TestDispatch_SessionIsolation verifies a reply is delivered exactly once,
// to the session that originated the request id.
func TestDispatch_SessionIsolation(t *testing.T) {
	registry := memory.NewSessionRegistry()
	d := NewDispatcher(registry, &fakeChild{}, WithLogger(discardLogger()))

	owner, _ := registry.GetOrCreate("")
	ownerSlot := &fakeSlot{}
	owner.PutPending("1", mustDecode(t, `{"jsonrpc":"2.0","method":"a","id":1}`))
	owner.PutSlot("1", ownerSlot)

	other, _ := registry.GetOrCreate("")
	otherSlot := &fakeSlot{}
	other.PutSlot("unrelated", otherSlot)

	d.dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","result":1,"id":1}`))

	if status, _ := ownerSlot.got(); status != 200 {
		t.Errorf("owner status = %d, want 200", status)
	}
	if status, body := otherSlot.got(); status != 0 || body != "" {
		t.Errorf("bystander session received the reply: %d %s", status, body)
	}
}

// TestDispatch_BatchFallback verifies that when the originating POST's slot
// is gone but the session has another live response, the reply rides it.
func TestDispatch_BatchFallback(t *testing.T) {
	registry := memory.NewSessionRegistry()
	d := NewDispatcher(registry, &fakeChild{}, WithLogger(discardLogger()))

	s, _ := registry.GetOrCreate("")
	s.PutPending("1", mustDecode(t, `{"jsonrpc":"2.0","method":"a","id":1}`))
	fallback := &fakeSlot{}
	s.PutSlot("some-stream", fallback)

	d.dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","result":"late","id":1}`))

	status, body := fallback.got()
	if status != 200 {
		t.Errorf("status = %d, want 200", status)
	}
	if body != `{"jsonrpc":"2.0","result":"late","id":1}` {
		t.Errorf("body = %s", body)
	}
}

// TestDispatch_DropWithoutSlot verifies a reply with a pending entry but no
// live response anywhere is dropped without touching other sessions.
func TestDispatch_DropWithoutSlot(t *testing.T) {
	registry := memory.NewSessionRegistry()
	d := NewDispatcher(registry, &fakeChild{}, WithLogger(discardLogger()))

	s, _ := registry.GetOrCreate("")
	s.PutPending("1", mustDecode(t, `{"jsonrpc":"2.0","method":"a","id":1}`))

	d.dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","result":1,"id":1}`))

	if s.Pending("1") {
		t.Error("pending entry survived the drop")
	}
}

// TestDispatch_StreamModeReply verifies stream mode fans the reply out to
// the session's SSE streams as an event.
func TestDispatch_StreamModeReply(t *testing.T) {
	registry := memory.NewSessionRegistry()
	d := NewDispatcher(registry, &fakeChild{},
		WithMode(ModeStream), WithLogger(discardLogger()))

	s, _ := registry.GetOrCreate("")
	stream := &fakeSlot{}
	s.PutSlot("stream-1", stream)
	s.PutPending("1", mustDecode(t, `{"jsonrpc":"2.0","method":"a","id":1}`))

	d.dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","result":{},"id":1}`))

	stream.mu.Lock()
	defer stream.mu.Unlock()
	if len(stream.frames) != 1 {
		t.Fatalf("stream frames = %d, want 1", len(stream.frames))
	}
	if string(stream.frames[0]) != `{"jsonrpc":"2.0","result":{},"id":1}` {
		t.Errorf("frame = %s", stream.frames[0])
	}
	if stream.events[0] != 1 {
		t.Errorf("event id = %d, want 1", stream.events[0])
	}
}

// TestDispatch_NotificationBroadcast verifies id-less child messages reach
// every session's streams.
func TestDispatch_NotificationBroadcast(t *testing.T) {
	registry := memory.NewSessionRegistry()
	d := NewDispatcher(registry, &fakeChild{}, WithLogger(discardLogger()))

	s1, _ := registry.GetOrCreate("")
	s2, _ := registry.GetOrCreate("")
	slot1 := &fakeSlot{}
	slot2 := &fakeSlot{}
	s1.PutSlot("a", slot1)
	s2.PutSlot("b", slot2)

	d.dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"p":1}}`))

	want := `{"jsonrpc":"2.0","method":"notifications/progress","params":{"p":1}}`
	for i, slot := range []*fakeSlot{slot1, slot2} {
		slot.mu.Lock()
		if len(slot.frames) != 1 || string(slot.frames[0]) != want {
			t.Errorf("slot %d frames = %v", i, slot.frames)
		}
		slot.mu.Unlock()
	}
}

// TestDispatch_InvalidJSONDropped verifies non-JSON child output is dropped
// without disturbing session state.
func TestDispatch_InvalidJSONDropped(t *testing.T) {
	registry := memory.NewSessionRegistry()
	d := NewDispatcher(registry, &fakeChild{}, WithLogger(discardLogger()))

	s, _ := registry.GetOrCreate("")
	slot := &fakeSlot{}
	s.PutPending("1", mustDecode(t, `{"jsonrpc":"2.0","method":"a","id":1}`))
	s.PutSlot("1", slot)

	d.dispatch(context.Background(), []byte(`garbage not json`))

	if status, _ := slot.got(); status != 0 {
		t.Errorf("slot written for garbage line: %d", status)
	}
	if !s.Pending("1") {
		t.Error("pending entry lost on garbage line")
	}
}

// TestArmTimeout_Batch verifies the 504 timeout error cites the original
// request id.
func TestArmTimeout_Batch(t *testing.T) {
	registry := memory.NewSessionRegistry()
	d := NewDispatcher(registry, &fakeChild{},
		WithBatchTimeout(10*time.Millisecond), WithLogger(discardLogger()))

	s, _ := registry.GetOrCreate("")
	slot := &fakeSlot{}
	msg := mustDecode(t, `{"jsonrpc":"2.0","method":"slow","id":7}`)
	s.PutPending("7", msg)
	s.PutSlot("7", slot)
	d.ArmTimeout(s, "7", slot)

	deadline := time.After(2 * time.Second)
	for {
		if slot.Ended() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timeout never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}

	status, body := slot.got()
	if status != 504 {
		t.Errorf("status = %d, want 504", status)
	}
	want := `{"jsonrpc":"2.0","error":{"code":-32000,"message":"Request timeout"},"id":7}`
	if body != want {
		t.Errorf("body = %s, want %s", body, want)
	}
	if s.Pending("7") {
		t.Error("pending entry survived the timeout")
	}
}

// TestArmTimeout_CancelledBeforehand verifies a timer firing after the
// request was cancelled does nothing.
func TestArmTimeout_CancelledBeforehand(t *testing.T) {
	registry := memory.NewSessionRegistry()
	d := NewDispatcher(registry, &fakeChild{},
		WithBatchTimeout(10*time.Millisecond), WithLogger(discardLogger()))

	s, _ := registry.GetOrCreate("")
	slot := &fakeSlot{}
	s.PutPending("1", mustDecode(t, `{"jsonrpc":"2.0","method":"a","id":1}`))
	s.PutSlot("1", slot)
	d.ArmTimeout(s, "1", slot)

	s.CancelRequest("1")
	slot.End()
	time.Sleep(50 * time.Millisecond)

	if status, body := slot.got(); status != 0 || body != "" {
		t.Errorf("cancelled slot written: %d %s", status, body)
	}
}

// TestArmTimeout_Stream verifies the stream-mode timeout lands as an SSE
// event on the POST's own channel and ends it.
func TestArmTimeout_Stream(t *testing.T) {
	registry := memory.NewSessionRegistry()
	d := NewDispatcher(registry, &fakeChild{},
		WithMode(ModeStream), WithBatchTimeout(10*time.Millisecond),
		WithLogger(discardLogger()))

	s, _ := registry.GetOrCreate("")
	slot := &fakeSlot{}
	s.PutPending("1", mustDecode(t, `{"jsonrpc":"2.0","method":"a","id":1}`))
	d.ArmTimeout(s, "1", slot)

	deadline := time.After(2 * time.Second)
	for {
		if slot.Ended() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timeout never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	if len(slot.frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(slot.frames))
	}
	want := `{"jsonrpc":"2.0","error":{"code":-32000,"message":"Request timeout"},"id":1}`
	if string(slot.frames[0]) != want {
		t.Errorf("frame = %s, want %s", slot.frames[0], want)
	}
}

// TestRun_ConsumesUntilClose verifies Run drains the lines channel and
// returns when it closes.
func TestRun_ConsumesUntilClose(t *testing.T) {
	registry := memory.NewSessionRegistry()
	d := NewDispatcher(registry, &fakeChild{}, WithLogger(discardLogger()))

	s, _ := registry.GetOrCreate("")
	slot := &fakeSlot{}
	s.PutPending("1", mustDecode(t, `{"jsonrpc":"2.0","method":"a","id":1}`))
	s.PutSlot("1", slot)

	lines := make(chan []byte, 2)
	lines <- []byte(`{"jsonrpc":"2.0","result":1,"id":1}`)
	close(lines)

	done := make(chan struct{})
	go func() {
		_ = d.Run(context.Background(), lines)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after channel close")
	}
	if status, _ := slot.got(); status != 200 {
		t.Errorf("status = %d, want 200", status)
	}
}
