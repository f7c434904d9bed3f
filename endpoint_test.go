//go:build linux

package ioendpoint_test

import (
	"net"
	"strconv"
	"testing"
	"time"

	ioendpoint "github.com/hioload/ioendpoint"
	"github.com/hioload/ioendpoint/api"
)

type echoHandler struct {
	processed chan api.SocketEvent
}

func (h *echoHandler) Process(w api.Wrapper, event api.SocketEvent) (api.HandlerState, error) {
	h.processed <- event
	if event != api.OpenRead {
		return api.Open, nil
	}
	buf := make([]byte, 64)
	n, err := w.Read(buf)
	if err != nil || n == 0 {
		return api.Closed, err
	}
	return api.Closed, nil
}

func (h *echoHandler) Release(w api.Wrapper) {}
func (h *echoHandler) Recycle()               {}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func TestEndpointLifecycleAcceptsAndClosesConnection(t *testing.T) {
	props := api.DefaultSocketProperties()
	props.Address = "127.0.0.1"
	props.Port = freePort(t)
	props.SelectorTimeout = 30 * time.Millisecond
	props.TimeoutInterval = 100 * time.Millisecond
	props.EventCache = 8
	props.ProcessorCache = 8
	props.BufferPool = 4
	props.AppReadBufSize = 256
	props.AppWriteBufSize = 256
	props.PollerThreadCount = 1
	props.MaxConnections = 10

	h := &echoHandler{processed: make(chan api.SocketEvent, 4)}
	ep := ioendpoint.New(props, h)

	if err := ep.Bind(); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := ep.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ep.Unbind()

	conn, err := net.Dial("tcp", net.JoinHostPort(props.Address, strconv.Itoa(props.Port)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-h.processed:
		if ev != api.OpenRead {
			t.Fatalf("event=%v, want OpenRead", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("handler never invoked for accepted connection")
	}

	if err := ep.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestEndpointStatsReportsConnectionCount(t *testing.T) {
	props := api.DefaultSocketProperties()
	props.Address = "127.0.0.1"
	props.Port = freePort(t)
	props.PollerThreadCount = 1
	props.MaxConnections = 5

	h := &echoHandler{processed: make(chan api.SocketEvent, 1)}
	ep := ioendpoint.New(props, h)
	if err := ep.Bind(); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := ep.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	stats := ep.Stats()
	if stats["pollers"] != 1 {
		t.Fatalf("pollers=%v, want 1", stats["pollers"])
	}
	if stats["running"] != true {
		t.Fatalf("running=%v, want true", stats["running"])
	}
	if stats["connections.active"] != 0 {
		t.Fatalf("connections.active=%v, want 0", stats["connections.active"])
	}

	if err := ep.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := ep.Unbind(); err != nil {
		t.Fatalf("unbind: %v", err)
	}
}
