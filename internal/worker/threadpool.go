// File: internal/worker/threadpool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// DefaultThreadPool is the module's own api.ThreadPool implementation,
// wrapping internal/concurrency.Executor's per-worker lock-free queues plus
// shared overflow channel. spec.md §6 scopes ThreadPool construction to
// "external," but the core still ships a usable default — replaces the
// deleted internal/concurrency/threadpool.go, whose constructor signature
// no longer matched Executor's NUMA-to-affinity rework.

package worker

import (
	"github.com/hioload/ioendpoint/api"
	"github.com/hioload/ioendpoint/internal/concurrency"
)

// DefaultThreadPool adapts concurrency.Executor to api.ThreadPool.
type DefaultThreadPool struct {
	exec *concurrency.Executor
}

// NewDefaultThreadPool starts numWorkers goroutines, optionally pinned to
// cpuIDs round-robin (see affinity.SetAffinity).
func NewDefaultThreadPool(numWorkers int, cpuIDs []int) *DefaultThreadPool {
	return &DefaultThreadPool{exec: concurrency.NewExecutor(numWorkers, cpuIDs)}
}

// Execute satisfies api.ThreadPool.
func (p *DefaultThreadPool) Execute(task func()) error {
	return p.exec.Submit(task)
}

// Shutdown satisfies api.ThreadPool.
func (p *DefaultThreadPool) Shutdown() {
	p.exec.Close()
}

// Stats exposes the underlying executor's counters for Control.Stats.
func (p *DefaultThreadPool) Stats() map[string]int64 {
	return p.exec.Stats()
}

var _ api.ThreadPool = (*DefaultThreadPool)(nil)
