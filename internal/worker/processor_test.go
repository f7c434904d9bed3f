package worker

import (
	"sync"
	"testing"

	"github.com/hioload/ioendpoint/api"
	"github.com/hioload/ioendpoint/internal/ioconn"
	"github.com/hioload/ioendpoint/internal/selector"
	"github.com/hioload/ioendpoint/internal/wrapper"
	"golang.org/x/sys/unix"
)

type fakeHandle struct {
	mu       sync.Mutex
	cancels  int
	interest []selector.Interest
}

func (f *fakeHandle) AddInterest(w *wrapper.Wrapper, mask selector.Interest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interest = append(f.interest, mask)
}

func (f *fakeHandle) CancelKey(w *wrapper.Wrapper) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
}

type fakeHandler struct {
	state api.HandlerState
	err   error
	calls int
}

func (h *fakeHandler) Process(w api.Wrapper, event api.SocketEvent) (api.HandlerState, error) {
	h.calls++
	return h.state, h.err
}
func (h *fakeHandler) Release(w api.Wrapper) {}
func (h *fakeHandler) Recycle()              {}

func newTestWrapper(t *testing.T, handle wrapper.PollerHandle) *wrapper.Wrapper {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	unix.Close(fds[1])
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("nonblock: %v", err)
	}
	ch := ioconn.NewPlainChannel(fds[0], make([]byte, 64), make([]byte, 64))
	return wrapper.New(ch, handle, 100, 0, 0)
}

func TestProcessorCallsHandlerOnCompleteHandshake(t *testing.T) {
	handle := &fakeHandle{}
	w := newTestWrapper(t, handle)
	defer w.Close()

	handler := &fakeHandler{state: api.Open}
	p := &Processor{Wrapper: w, Event: api.OpenRead, Handler: handler, running: func() bool { return false }}
	p.Run()

	if handler.calls != 1 {
		t.Fatalf("handler.Process calls=%d, want 1", handler.calls)
	}
	if handle.cancels != 0 {
		t.Fatalf("should not cancel on Open state, got %d cancels", handle.cancels)
	}
}

func TestProcessorCancelsOnClosedState(t *testing.T) {
	handle := &fakeHandle{}
	w := newTestWrapper(t, handle)
	defer w.Close()

	handler := &fakeHandler{state: api.Closed}
	p := &Processor{Wrapper: w, Event: api.OpenRead, Handler: handler, running: func() bool { return false }}
	p.Run()

	if handle.cancels != 1 {
		t.Fatalf("cancels=%d, want 1", handle.cancels)
	}
}

func TestProcessorPassesTerminalEventToHandlerWhenHandshakeDone(t *testing.T) {
	handle := &fakeHandle{}
	w := newTestWrapper(t, handle)
	defer w.Close()

	// A terminal event only takes the handshake-failed branch when the
	// channel's handshake is incomplete. A plain channel always reports its
	// handshake as done, so a Disconnect dispatch goes to the handler.
	handler := &fakeHandler{state: api.Open}
	p := &Processor{Wrapper: w, Event: api.Disconnect, Handler: handler, running: func() bool { return false }}
	p.Run()

	// plain channel HandshakeDone() is always true, so this still routes
	// through the handler with the Disconnect event rather than the
	// handshake-failed branch.
	if handler.calls != 1 {
		t.Fatalf("handler.Process calls=%d, want 1", handler.calls)
	}
}

func TestProcessorRecyclesWhenRunning(t *testing.T) {
	handle := &fakeHandle{}
	w := newTestWrapper(t, handle)
	defer w.Close()

	procPool := NewProcessorPool(4)
	handler := &fakeHandler{state: api.Open}
	err := Submit(inlinePool{}, procPool, handler, w, api.OpenRead, func() bool { return true }, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if procPool.Len() != 1 {
		t.Fatalf("pool len=%d, want 1 after recycle", procPool.Len())
	}
}

// inlinePool runs tasks synchronously so tests don't need real goroutines.
type inlinePool struct{}

func (inlinePool) Execute(task func()) error { task(); return nil }
func (inlinePool) Shutdown()                 {}
