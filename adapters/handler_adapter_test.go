package adapters_test

import (
	"testing"

	"github.com/hioload/ioendpoint/adapters"
	"github.com/hioload/ioendpoint/api"
)

type stubHandler struct {
	calls    int
	released int
}

func (h *stubHandler) Process(w api.Wrapper, event api.SocketEvent) (api.HandlerState, error) {
	h.calls++
	return api.Open, nil
}
func (h *stubHandler) Release(w api.Wrapper) { h.released++ }
func (h *stubHandler) Recycle()               {}

func TestMetricsHandlerDelegatesAndCounts(t *testing.T) {
	ctrl := adapters.NewControlAdapter()
	stub := &stubHandler{}
	mh := adapters.NewMetricsHandler(stub, ctrl)

	if _, err := mh.Process(nil, api.OpenRead); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if stub.calls != 1 {
		t.Fatalf("underlying handler not invoked: calls=%d", stub.calls)
	}

	stats := ctrl.Stats()
	key := "handler." + api.OpenRead.String() + ".count"
	if stats[key] != int64(1) {
		t.Fatalf("stats[%q]=%v, want 1", key, stats[key])
	}

	mh.Release(nil)
	if stub.released != 1 {
		t.Fatal("Release did not delegate")
	}
}
