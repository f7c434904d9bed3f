// File: internal/poller/poller.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package poller implements the Poller (C6): one selector, one goroutine,
// draining deferred interest-set mutations from its event.Queue before and
// after each readiness wait, dispatching ready keys to the worker pool, and
// running the periodic timeout scan. Grounded on spec.md §4.6 and the
// teacher's internal/concurrency/poller_linux.go epoll-loop shape, adapted
// from a fixed edge-triggered single-purpose poller into one that mutates
// per-key interest sets and tracks timeouts.

package poller

import (
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hioload/ioendpoint/affinity"
	"github.com/hioload/ioendpoint/api"
	"github.com/hioload/ioendpoint/internal/event"
	"github.com/hioload/ioendpoint/internal/ioconn"
	"github.com/hioload/ioendpoint/internal/latch"
	"github.com/hioload/ioendpoint/internal/pool"
	"github.com/hioload/ioendpoint/internal/selector"
	"github.com/hioload/ioendpoint/internal/worker"
	"github.com/hioload/ioendpoint/internal/wrapper"
)

// sendfile transfer outcomes for processSendfile, matching spec.md §4.7.
type sendfileResult int

const (
	sendfileDone sendfileResult = iota
	sendfilePending
	sendfileError
)

// Poller is the per-goroutine readiness loop. It satisfies
// wrapper.PollerHandle so Wrappers can re-arm interest or trigger
// cancellation from any thread without an import cycle.
type Poller struct {
	id int

	sel       selector.Selector
	queue     *event.Queue
	eventPool *pool.LIFO[*event.Event]
	procPool  *pool.LIFO[*worker.Processor]

	latch      *latch.Latch
	threadPool api.ThreadPool
	handler    api.Handler
	props      *api.SocketProperties

	// isRunning reports whether the owning endpoint is both started and not
	// paused; processors only recycle into procPool while this holds.
	isRunning func() bool

	closing          atomic.Bool
	stopWG           sync.WaitGroup
	nextExpirationMs int64
	logger           *log.Logger

	recycler Recycler
}

// Recycler returns a cancelled Wrapper's Channel and Wrapper struct to the
// acceptor's object pools (C1), so CancelKey doesn't need to import
// internal/acceptor.
type Recycler interface {
	Release(w *wrapper.Wrapper)
}

// SetRecycler wires the acceptor's pool-release callback into this poller.
// Optional: a nil recycler means cancelled connections are simply dropped
// for garbage collection.
func (p *Poller) SetRecycler(r Recycler) { p.recycler = r }

// SetThreadPool assigns the worker pool tasks are submitted to. Must be
// called before Run; Bind constructs Pollers before the endpoint's worker
// pool exists, so this is set separately during Start.
func (p *Poller) SetThreadPool(tp api.ThreadPool) { p.threadPool = tp }

// New constructs a Poller. isRunning is consulted by submitted processors
// to decide whether to recycle into the processor pool (spec.md §4.8 step 6).
func New(id int, sel selector.Selector, l *latch.Latch, tp api.ThreadPool, handler api.Handler, props *api.SocketProperties, isRunning func() bool) *Poller {
	p := &Poller{
		id:         id,
		sel:        sel,
		queue:      event.NewQueue(),
		eventPool:  pool.NewLIFO[*event.Event](props.EventCache),
		procPool:   worker.NewProcessorPool(props.ProcessorCache),
		latch:      l,
		threadPool: tp,
		handler:    handler,
		props:      props,
		isRunning:  isRunning,
		logger:     props.Log(),
	}
	p.queue.WakeFn = sel.Wake
	p.stopWG.Add(1)
	return p
}

// ID reports this poller's index, used by the acceptor's round-robin pick.
func (p *Poller) ID() int { return p.id }

// Register enqueues a REGISTER event pairing ch with w, to be applied by
// this poller's own goroutine (spec.md §4.5 step 7).
func (p *Poller) Register(ch ioconn.Channel, w *wrapper.Wrapper) {
	ev := p.acquireEvent()
	ev.Channel = ch
	ev.Wrapper = w
	ev.Op = event.Register
	p.queue.Push(ev)
}

// AddInterest satisfies wrapper.PollerHandle.
func (p *Poller) AddInterest(w *wrapper.Wrapper, mask selector.Interest) {
	ev := p.acquireEvent()
	ev.Wrapper = w
	ev.Op = event.AddInterest
	ev.Mask = mask
	p.queue.Push(ev)
}

// CancelKey satisfies wrapper.PollerHandle, running the idempotent
// cancelledKey sequence from spec.md §4.6. Safe to call from any goroutine
// and more than once per key: DetachAttachment is the idempotency guard.
func (p *Poller) CancelKey(w *wrapper.Wrapper) {
	var attachment any
	if w.Key != nil {
		attachment = w.Key.DetachAttachment()
	} else {
		attachment = w
	}
	if attachment == nil {
		return
	}
	p.handler.Release(w)
	if w.Key != nil {
		_ = w.Key.Cancel()
	}
	_ = w.Close()
	w.SignalBlockGate()
	p.latch.Release()
	if p.recycler != nil {
		p.recycler.Release(w)
	}
}

func (p *Poller) acquireEvent() *event.Event {
	ev, ok := p.eventPool.Get()
	if !ok {
		ev = &event.Event{}
	}
	return ev
}

func (p *Poller) releaseEvent(ev *event.Event) {
	ev.Reset()
	p.eventPool.Put(ev)
}

// Close requests the poller goroutine to finish its current iteration,
// force-timeout all keys, and exit. Blocks until Run has returned.
func (p *Poller) Close() {
	p.closing.Store(true)
	p.sel.Wake()
	p.stopWG.Wait()
}

// Run is the poller's goroutine body; spawn with `go p.Run()`.
func (p *Poller) Run() {
	defer p.stopWG.Done()

	if len(p.props.PollerAffinity) > 0 {
		cpuID := p.props.PollerAffinity[p.id%len(p.props.PollerAffinity)]
		runtime.LockOSThread()
		if err := affinity.SetAffinity(cpuID); err != nil {
			p.logger.Printf("poller %d: set affinity to cpu %d: %v", p.id, cpuID, err)
		}
	}

	for {
		p.drainEvents()

		if p.closing.Load() {
			p.drainEvents()
			p.forceTimeoutAll()
			_ = p.sel.Close()
			return
		}

		hadPending := p.queue.SwapWakeForSelect()
		timeoutMs := 0
		if !hadPending {
			timeoutMs = int(p.props.SelectorTimeout / time.Millisecond)
		}

		ready, err := p.sel.Select(timeoutMs)
		p.queue.ResetWake()
		if err != nil {
			p.logger.Printf("poller %d: select: %v", p.id, err)
			continue
		}

		if len(ready) == 0 && p.queue.Len() > 0 {
			p.drainEvents()
		}

		for _, rk := range ready {
			p.processReady(rk)
		}

		p.timeoutScan(len(p.sel.Keys()), len(ready) > 0)
	}
}

// drainEvents applies every queued REGISTER/ADD_INTEREST mutation, exactly
// as described in spec.md §4.6 step 1.
func (p *Poller) drainEvents() {
	for _, ev := range p.queue.Drain() {
		switch ev.Op {
		case event.Register:
			k, err := p.sel.Register(ev.Channel.Fd(), ev.Wrapper)
			if err != nil {
				p.logger.Printf("poller %d: register fd=%d: %v", p.id, ev.Channel.Fd(), err)
				p.latch.Release()
			} else {
				ev.Wrapper.Key = k
				ev.Wrapper.InterestSet = k.Interest
			}
		case event.AddInterest:
			w := ev.Wrapper
			if w.Key != nil && w.Key.Valid() {
				if err := w.Key.SetInterest(ev.Mask); err == nil {
					w.InterestSet = w.Key.Interest
				}
			}
			// else: key already cancelled; CancelKey already finalized
			// teardown, nothing left to do here.
		}
		p.releaseEvent(ev)
	}
}

// processReady handles one ready key per spec.md §4.6 step 4.
func (p *Poller) processReady(rk selector.ReadyKey) {
	w, ok := rk.Key.Attachment().(*wrapper.Wrapper)
	if !ok || w == nil {
		_ = rk.Key.Cancel()
		return
	}

	_ = rk.Key.ReplaceInterest(rk.Key.Interest &^ rk.Ready)
	w.InterestSet = rk.Key.Interest

	if w.SendfileFd() >= 0 {
		p.processSendfile(w, false)
		return
	}

	closeNow := false
	if rk.Ready&selector.Read != 0 {
		if err := worker.Submit(p.threadPool, p.procPool, p.handler, w, api.OpenRead, p.isRunning, p.logger); err != nil {
			closeNow = true
		}
	}
	if !closeNow && !w.Closed() && rk.Ready&selector.Write != 0 {
		if err := worker.Submit(p.threadPool, p.procPool, p.handler, w, api.OpenWrite, p.isRunning, p.logger); err != nil {
			closeNow = true
		}
	}
	if closeNow {
		w.Cancel()
	}
}

// timeoutScan implements spec.md §4.6 step 5.
func (p *Poller) timeoutScan(keyCount int, hasEvents bool) {
	now := time.Now().UnixMilli()
	if now < p.nextExpirationMs && (keyCount > 0 || hasEvents) && !p.closing.Load() {
		return
	}

	for _, k := range p.sel.Keys() {
		w, ok := k.Attachment().(*wrapper.Wrapper)
		if !ok || w == nil {
			_ = k.Cancel()
			continue
		}
		if p.closing.Load() {
			_ = k.ReplaceInterest(0)
			w.InterestSet = 0
			w.Cancel()
			continue
		}
		if w.TimedOut(now) {
			_ = k.ReplaceInterest(0)
			w.InterestSet = 0
			if err := worker.Submit(p.threadPool, p.procPool, p.handler, w, api.Error, p.isRunning, p.logger); err != nil {
				w.Cancel()
			}
		}
	}

	p.nextExpirationMs = now + int64(p.props.TimeoutInterval/time.Millisecond)
}

// forceTimeoutAll drives every remaining key through the error path during
// shutdown, matching spec.md §4.6 step 3.
func (p *Poller) forceTimeoutAll() {
	for _, k := range p.sel.Keys() {
		w, ok := k.Attachment().(*wrapper.Wrapper)
		if !ok || w == nil {
			_ = k.Cancel()
			continue
		}
		_ = k.ReplaceInterest(0)
		w.InterestSet = 0
		if err := worker.Submit(p.threadPool, p.procPool, p.handler, w, api.Error, p.isRunning, p.logger); err != nil {
			w.Cancel()
		}
	}
}

var _ wrapper.PollerHandle = (*Poller)(nil)
