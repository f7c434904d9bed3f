//go:build linux

package poller_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hioload/ioendpoint/api"
	"github.com/hioload/ioendpoint/internal/ioconn"
	"github.com/hioload/ioendpoint/internal/latch"
	"github.com/hioload/ioendpoint/internal/poller"
	"github.com/hioload/ioendpoint/internal/selector"
	"github.com/hioload/ioendpoint/internal/wrapper"
)

type inlinePool struct{}

func (inlinePool) Execute(task func()) error { task(); return nil }
func (inlinePool) Shutdown()                 {}

type signalHandler struct {
	mu       sync.Mutex
	events   []api.SocketEvent
	received chan struct{}
}

func newSignalHandler() *signalHandler {
	return &signalHandler{received: make(chan struct{}, 16)}
}

func (h *signalHandler) Process(w api.Wrapper, event api.SocketEvent) (api.HandlerState, error) {
	h.mu.Lock()
	h.events = append(h.events, event)
	h.mu.Unlock()
	h.received <- struct{}{}
	return api.Open, nil
}
func (h *signalHandler) Release(w api.Wrapper) {}
func (h *signalHandler) Recycle()              {}

func newSocketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			t.Fatalf("nonblock: %v", err)
		}
	}
	return fds[0], fds[1]
}

func newTestPoller(t *testing.T, h api.Handler, l *latch.Latch) *poller.Poller {
	t.Helper()
	sel, err := selector.NewEpollSelector()
	if err != nil {
		t.Fatalf("new selector: %v", err)
	}
	props := api.DefaultSocketProperties()
	props.SelectorTimeout = 30 * time.Millisecond
	props.TimeoutInterval = 50 * time.Millisecond
	props.EventCache = 8
	props.ProcessorCache = 8
	p := poller.New(0, sel, l, inlinePool{}, h, props, func() bool { return true })
	go p.Run()
	return p
}

func TestPollerDispatchesReadOnRegister(t *testing.T) {
	l := latch.New(10)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	h := newSignalHandler()
	p := newTestPoller(t, h, l)
	defer p.Close()

	a, b := newSocketpair(t)
	defer unix.Close(b)

	ch := ioconn.NewPlainChannel(a, make([]byte, 64), make([]byte, 64))
	w := wrapper.New(ch, p, 10, 0, 0)
	p.Register(ch, w)

	if _, err := unix.Write(b, []byte("hi")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-h.received:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked for ready read")
	}
}

func TestPollerCancelKeyReleasesLatch(t *testing.T) {
	l := latch.New(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	h := newSignalHandler()
	p := newTestPoller(t, h, l)
	defer p.Close()

	a, b := newSocketpair(t)
	defer unix.Close(b)

	ch := ioconn.NewPlainChannel(a, make([]byte, 64), make([]byte, 64))
	w := wrapper.New(ch, p, 10, 0, 0)
	p.Register(ch, w)
	time.Sleep(50 * time.Millisecond) // let REGISTER drain

	p.CancelKey(w)

	if got := l.Count(); got != 0 {
		t.Fatalf("latch count=%d after cancel, want 0", got)
	}
	if !w.Closed() {
		t.Fatal("wrapper should be closed after CancelKey")
	}

	// Cancelling twice must not double-release the latch.
	p.CancelKey(w)
	if got := l.Count(); got != 0 {
		t.Fatalf("latch count=%d after double cancel, want 0", got)
	}
}
