// File: adapters/handler_adapter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// MetricsHandler decorates an api.Handler, recording per-event counters
// into a ControlAdapter. Grounded on the teacher's adapters/handler_adapter.go
// middleware chain, adapted from its generic Handle(data any) shape to this
// module's Process(wrapper, event) contract — the chain-of-decorators idea
// carries over, the per-call signature does not.

package adapters

import (
	"fmt"

	"github.com/hioload/ioendpoint/api"
)

// MetricsHandler wraps next, incrementing a per-SocketEvent counter on the
// ControlAdapter before delegating.
type MetricsHandler struct {
	next    api.Handler
	control *ControlAdapter
}

// NewMetricsHandler builds a MetricsHandler around next.
func NewMetricsHandler(next api.Handler, control *ControlAdapter) *MetricsHandler {
	return &MetricsHandler{next: next, control: control}
}

func (m *MetricsHandler) Process(w api.Wrapper, event api.SocketEvent) (api.HandlerState, error) {
	m.control.metrics.Set(fmt.Sprintf("handler.%s.count", event), m.bump(event))
	return m.next.Process(w, event)
}

func (m *MetricsHandler) bump(event api.SocketEvent) int64 {
	key := fmt.Sprintf("handler.%s.count", event)
	snap := m.control.metrics.GetSnapshot()
	count, _ := snap[key].(int64)
	return count + 1
}

func (m *MetricsHandler) Release(w api.Wrapper) { m.next.Release(w) }

func (m *MetricsHandler) Recycle() { m.next.Recycle() }

var _ api.Handler = (*MetricsHandler)(nil)
