//go:build linux

package acceptor_test

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/hioload/ioendpoint/api"
	"github.com/hioload/ioendpoint/internal/acceptor"
	"github.com/hioload/ioendpoint/internal/latch"
	"github.com/hioload/ioendpoint/internal/poller"
	"github.com/hioload/ioendpoint/internal/selector"
)

type inlinePool struct{}

func (inlinePool) Execute(task func()) error { task(); return nil }
func (inlinePool) Shutdown()                 {}

type countHandler struct {
	processed chan struct{}
}

func (h *countHandler) Process(w api.Wrapper, event api.SocketEvent) (api.HandlerState, error) {
	h.processed <- struct{}{}
	return api.Open, nil
}
func (h *countHandler) Release(w api.Wrapper) {}
func (h *countHandler) Recycle()               {}

func newTestPoller(t *testing.T, h api.Handler, l *latch.Latch, props *api.SocketProperties) *poller.Poller {
	t.Helper()
	sel, err := selector.NewEpollSelector()
	if err != nil {
		t.Fatalf("new selector: %v", err)
	}
	p := poller.New(0, sel, l, inlinePool{}, h, props, func() bool { return true })
	go p.Run()
	return p
}

func TestAcceptorAssignsConnectionToPoller(t *testing.T) {
	props := api.DefaultSocketProperties()
	props.Address = "127.0.0.1"
	props.Port = 0 // resolved below via a pre-bind probe
	props.SelectorTimeout = 30 * time.Millisecond
	props.TimeoutInterval = 100 * time.Millisecond
	props.EventCache = 8
	props.ProcessorCache = 8
	props.BufferPool = 4
	props.AppReadBufSize = 256
	props.AppWriteBufSize = 256

	// Find a free port the way net/http test helpers do, then hand it to
	// the acceptor's raw-syscall bind path.
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	port := probe.Addr().(*net.TCPAddr).Port
	probe.Close()
	props.Port = port

	l := latch.New(10)
	h := &countHandler{processed: make(chan struct{}, 4)}
	p := newTestPoller(t, h, l, props)
	defer p.Close()

	a := acceptor.New(props, l, []*poller.Poller{p}, h, nil)
	if err := a.Bind(); err != nil {
		t.Fatalf("bind: %v", err)
	}
	go a.Run()
	defer a.Close()

	time.Sleep(20 * time.Millisecond) // let accept loop start listening

	conn, err := net.Dial("tcp", net.JoinHostPort(props.Address, strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-h.processed:
	case <-time.After(3 * time.Second):
		t.Fatal("handler never invoked for accepted connection")
	}
}
