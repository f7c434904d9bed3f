// File: internal/event/event.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package event implements the Event record and the per-poller MPSC queue
// (C5) that carries deferred interest-set mutations from any producer thread
// to the one poller goroutine that owns the selector key. The queue is
// backed by github.com/eapache/queue, a ring-buffer-backed FIFO — the
// teacher's go.mod declared this dependency but the retrieved snapshot never
// imported it; this is its home.

package event

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/hioload/ioendpoint/internal/ioconn"
	"github.com/hioload/ioendpoint/internal/selector"
	"github.com/hioload/ioendpoint/internal/wrapper"
)

// Op identifies the kind of interest-set mutation an Event carries.
type Op int

const (
	// Register attaches wrapper to the selector with initial interest Read.
	Register Op = iota
	// AddInterest ORs Mask into the key's current interest set.
	AddInterest
)

// Event is a deferred instruction to mutate one key's interest set,
// delivered across threads via Queue. Events are pooled and Reset between
// uses (see internal/pool).
type Event struct {
	Channel ioconn.Channel
	Wrapper *wrapper.Wrapper
	Op      Op
	Mask    selector.Interest
}

// Reset clears an Event so it can be returned to a pool and reused.
func (e *Event) Reset() {
	e.Channel = nil
	e.Wrapper = nil
	e.Op = Register
	e.Mask = 0
}

// Queue is the MPSC event queue owned by one Poller. Any thread may Push;
// only the owning poller goroutine may Drain.
type Queue struct {
	mu   sync.Mutex
	q    *queue.Queue
	wake atomic.Int64
	// WakeFn, when set, is invoked exactly when wake transitions -1 -> 0, the
	// sentinel SwapWakeForSelect leaves in place while the owning Poller is
	// blocked in Select, so the poller can be interrupted instead of waiting
	// out the full selector timeout.
	WakeFn func()
}

// NewQueue creates an empty event queue.
func NewQueue() *Queue {
	return &Queue{q: queue.New()}
}

// Push enqueues ev and wakes the poller if it was idle.
func (q *Queue) Push(ev *Event) {
	q.mu.Lock()
	q.q.Add(ev)
	q.mu.Unlock()

	if v := q.wake.Add(1); v == 0 {
		if q.WakeFn != nil {
			q.WakeFn()
		}
	}
}

// Drain removes and returns every event currently queued. Called only by the
// owning poller goroutine.
func (q *Queue) Drain() []*Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.q.Length()
	if n == 0 {
		return nil
	}
	out := make([]*Event, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, q.q.Remove().(*Event))
	}
	return out
}

// SwapWakeForSelect implements the Poller's §4.6 step 2 decision: it atomically
// swaps the wake counter to -1 and reports whether events were pending
// (wake > 0) before the swap, so the caller knows whether to select
// non-blockingly or with the configured timeout.
func (q *Queue) SwapWakeForSelect() (hadPending bool) {
	prev := q.wake.Swap(-1)
	return prev > 0
}

// ResetWake clears the wake counter to 0 after a Select call completes.
func (q *Queue) ResetWake() {
	q.wake.Store(0)
}

// Len reports the number of events currently queued (best-effort, racy by
// design — used only for diagnostics/stats).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.q.Length()
}
