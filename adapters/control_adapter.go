// File: adapters/control_adapter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ControlAdapter wires control.ConfigStore/MetricsRegistry/DebugProbes into
// the api.Control surface the Endpoint exposes for Stats/OnReload/debug
// introspection. Grounded on the teacher's adapters/control_adapter.go,
// unchanged in shape since the Control contract itself did not change.

package adapters

import (
	"github.com/hioload/ioendpoint/api"
	"github.com/hioload/ioendpoint/control"
)

// ControlAdapter is the default api.Control implementation.
type ControlAdapter struct {
	config  *control.ConfigStore
	metrics *control.MetricsRegistry
	debug   *control.DebugProbes
}

// NewControlAdapter constructs a ControlAdapter with platform debug probes
// already registered.
func NewControlAdapter() *ControlAdapter {
	a := &ControlAdapter{
		config:  control.NewConfigStore(),
		metrics: control.NewMetricsRegistry(),
		debug:   control.NewDebugProbes(),
	}
	control.RegisterPlatformProbes(a.debug)
	return a
}

func (c *ControlAdapter) GetConfig() map[string]any { return c.config.GetSnapshot() }

func (c *ControlAdapter) SetConfig(cfg map[string]any) error {
	c.config.SetConfig(cfg)
	return nil
}

func (c *ControlAdapter) Stats() map[string]any {
	out := c.metrics.GetSnapshot()
	for k, v := range c.debug.DumpState() {
		out["debug."+k] = v
	}
	return out
}

func (c *ControlAdapter) OnReload(fn func()) { c.config.OnReload(fn) }

func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}

// SetMetric is an extension beyond api.Control, exposing direct metric
// writes to the endpoint (connection counts, throughput) without forcing
// every caller through SetConfig's generic key/value surface.
func (c *ControlAdapter) SetMetric(key string, value any) { c.metrics.Set(key, value) }

var _ api.Control = (*ControlAdapter)(nil)
