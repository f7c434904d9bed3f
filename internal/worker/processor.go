// File: internal/worker/processor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SocketProcessor (C8): the pooled worker-thread task that advances a
// Channel's handshake and then calls the protocol Handler, re-registering
// interest through the owning Wrapper's PollerHandle on partial progress.
// Grounded on spec.md §4.8; the processor pool itself reuses
// internal/pool.LIFO, same discipline as internal/pool.BufferPool.

package worker

import (
	"log"

	"github.com/hioload/ioendpoint/api"
	"github.com/hioload/ioendpoint/internal/pool"
	"github.com/hioload/ioendpoint/internal/selector"
	"github.com/hioload/ioendpoint/internal/wrapper"
)

// Processor is one SocketProcessor task instance, reset and recycled
// between dispatches.
type Processor struct {
	Wrapper *wrapper.Wrapper
	Event   api.SocketEvent
	Handler api.Handler

	pool    *pool.LIFO[*Processor]
	running func() bool
	logger  *log.Logger
}

// NewProcessorPool creates the bounded pool processors are recycled through.
func NewProcessorPool(capacity int) *pool.LIFO[*Processor] {
	return pool.NewLIFO[*Processor](capacity)
}

// Submit fetches-or-creates a Processor from procPool, assigns it to w/ev,
// and hands it to tp for execution.
func Submit(tp api.ThreadPool, procPool *pool.LIFO[*Processor], handler api.Handler, w *wrapper.Wrapper, ev api.SocketEvent, running func() bool, logger *log.Logger) error {
	p, ok := procPool.Get()
	if !ok {
		p = &Processor{}
	}
	p.Wrapper = w
	p.Event = ev
	p.Handler = handler
	p.pool = procPool
	p.running = running
	p.logger = logger
	return tp.Execute(p.Run)
}

// Run executes the handshake-then-handle sequence described in spec.md §4.8.
func (p *Processor) Run() {
	defer p.recycle()

	w := p.Wrapper
	if w.Key != nil && !w.Key.Valid() {
		return
	}

	ch := w.Channel
	ev := p.Event

	const (
		handshakeComplete = 0
		handshakeFailed   = -1
	)

	handshake := handshakeComplete
	var mask selector.Interest

	switch {
	case ch.HandshakeDone():
		handshake = handshakeComplete
	case ev == api.Stop || ev == api.Disconnect || ev == api.Error:
		handshake = handshakeFailed
	default:
		readable := ev == api.OpenRead
		writable := ev == api.OpenWrite
		m, err := ch.Handshake(readable, writable)
		switch {
		case err != nil:
			handshake = handshakeFailed
		case m == 0:
			handshake = handshakeComplete
			ev = api.OpenRead
		default:
			mask = m
		}
	}

	switch {
	case mask != 0:
		w.AddInterest(mask)
	case handshake == handshakeFailed:
		w.Cancel()
	default:
		state, err := p.Handler.Process(w, ev)
		if err != nil && p.logger != nil {
			p.logger.Printf("worker: handler.Process: %v", err)
		}
		// An Error event (timeout or shutdown) always ends the connection
		// once the handler has seen it.
		if err != nil || state == api.Closed || ev == api.Error {
			w.Cancel()
		}
	}
}

func (p *Processor) recycle() {
	if p.running == nil || !p.running() {
		return
	}
	p.Wrapper = nil
	p.Handler = nil
	procPool := p.pool
	if procPool != nil {
		procPool.Put(p)
	}
}
