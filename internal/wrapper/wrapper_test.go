package wrapper_test

import (
	"testing"

	"github.com/hioload/ioendpoint/api"
	"github.com/hioload/ioendpoint/internal/ioconn"
	"github.com/hioload/ioendpoint/internal/selector"
	"github.com/hioload/ioendpoint/internal/wrapper"
	"golang.org/x/sys/unix"
)

type fakeHandle struct {
	added   *wrapper.Wrapper
	addedTo selector.Interest
}

func (f *fakeHandle) AddInterest(w *wrapper.Wrapper, mask selector.Interest) {
	f.added = w
	f.addedTo = mask
}

func (f *fakeHandle) CancelKey(w *wrapper.Wrapper) {}

func newTestChannel(t *testing.T) ioconn.Channel {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	unix.Close(fds[1])
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}
	return ioconn.NewPlainChannel(fds[0], make([]byte, 64), make([]byte, 64))
}

func TestWrapperSatisfiesAPIWrapper(t *testing.T) {
	var _ api.Wrapper = (*wrapper.Wrapper)(nil)
}

func TestKeepAliveDecrementsToExhaustion(t *testing.T) {
	w := wrapper.New(newTestChannel(t), &fakeHandle{}, 2, 1000, 1000)
	defer w.Close()

	if w.KeepAliveRemaining() != 2 {
		t.Fatalf("remaining=%d, want 2", w.KeepAliveRemaining())
	}
	if exhausted := w.DecrementKeepAlive(); exhausted {
		t.Fatal("should not be exhausted after first decrement")
	}
	if exhausted := w.DecrementKeepAlive(); !exhausted {
		t.Fatal("should be exhausted after second decrement")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	w := wrapper.New(newTestChannel(t), &fakeHandle{}, 1, 0, 0)
	if err := w.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got: %v", err)
	}
	if !w.Closed() {
		t.Fatal("wrapper should report closed")
	}
}

func TestAddInterestDelegatesToPoller(t *testing.T) {
	h := &fakeHandle{}
	w := wrapper.New(newTestChannel(t), h, 1, 0, 0)
	defer w.Close()

	w.AddInterest(selector.Write)
	if h.added != w || h.addedTo != selector.Write {
		t.Fatal("AddInterest did not reach the poller handle")
	}
}

func TestBlockGateSignalsWaiter(t *testing.T) {
	w := wrapper.New(newTestChannel(t), &fakeHandle{}, 1, 0, 0)
	defer w.Close()

	gate := w.ArmBlockGate()
	done := make(chan struct{})
	go func() {
		<-gate
		close(done)
	}()
	w.SignalBlockGate()

	select {
	case <-done:
	default:
		<-done
	}
}
