// File: internal/blockio/blockio.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package blockio implements the blocking-read escape hatch (§4.9) for
// handler code running on a worker thread that needs to block the calling
// goroutine on readiness instead of returning to the poller. A bounded pool
// of helper Selectors is lazily constructed up to a hard cap and then
// waiters block for a release, following the same mutex/sync.Cond counting
// idiom as internal/latch.Latch. Each blocking call registers the Channel on
// a borrowed helper selector and races the wait against the Wrapper's
// block-gate so a concurrent CancelKey (from the owning poller) can
// interrupt it instead of leaking the goroutine until the next deadline.

package blockio

import (
	"sync"
	"time"

	"github.com/hioload/ioendpoint/api"
	"github.com/hioload/ioendpoint/internal/selector"
	"github.com/hioload/ioendpoint/internal/wrapper"
)

// helper wraps one lazily-constructed Selector borrowed transiently by a
// single blocking call.
type helper struct {
	sel selector.Selector
}

// Pool is the bounded set of helper selectors shared by every worker thread
// performing blocking reads/writes.
type Pool struct {
	mu    sync.Mutex
	cond  *sync.Cond
	idle  []*helper
	count int
	max   int
}

// NewPool constructs a Pool that constructs at most max helper selectors.
func NewPool(max int) *Pool {
	if max <= 0 {
		max = 1
	}
	p := &Pool{max: max}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *Pool) borrow() (*helper, error) {
	p.mu.Lock()
	for {
		if n := len(p.idle); n > 0 {
			h := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.mu.Unlock()
			return h, nil
		}
		if p.count < p.max {
			p.count++
			p.mu.Unlock()
			sel, err := selector.New()
			if err != nil {
				p.mu.Lock()
				p.count--
				p.mu.Unlock()
				return nil, err
			}
			return &helper{sel: sel}, nil
		}
		p.cond.Wait()
	}
}

func (p *Pool) release(h *helper) {
	p.mu.Lock()
	p.idle = append(p.idle, h)
	p.mu.Unlock()
	p.cond.Signal()
}

// Close closes every idle helper selector, used on endpoint Unbind. Helpers
// currently borrowed by an in-flight blocking call are not closed: release
// puts them back on the idle list without checking whether Close has run, so
// callers must ensure no blocking calls are in flight before Close.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range p.idle {
		_ = h.sel.Close()
	}
	p.idle = nil
}

type waitResult struct {
	ready []selector.ReadyKey
	err   error
}

// Read blocks the calling goroutine until w's Channel becomes readable (or
// timeout elapses, or w is cancelled concurrently), then performs one Read
// into buf. timeout <= 0 waits indefinitely.
func (p *Pool) Read(w *wrapper.Wrapper, buf []byte, timeout time.Duration) (int, error) {
	if err := p.waitFor(w, selector.Read, timeout); err != nil {
		return 0, err
	}
	return w.Read(buf)
}

// Write blocks the calling goroutine until w's Channel becomes writable (or
// timeout elapses, or w is cancelled concurrently), then performs one Write
// of buf. timeout <= 0 waits indefinitely.
func (p *Pool) Write(w *wrapper.Wrapper, buf []byte, timeout time.Duration) (int, error) {
	if err := p.waitFor(w, selector.Write, timeout); err != nil {
		return 0, err
	}
	return w.Write(buf)
}

// waitFor borrows a helper selector, registers w's Channel on it with want,
// and blocks until readiness, timeout, or the Wrapper's block-gate fires
// because the owning poller cancelled the key out from under this call.
func (p *Pool) waitFor(w *wrapper.Wrapper, want selector.Interest, timeout time.Duration) error {
	if w.Closed() {
		return api.ErrTransportClosed
	}

	h, err := p.borrow()
	if err != nil {
		return err
	}
	defer p.release(h)

	key, err := h.sel.Register(w.Channel.Fd(), w)
	if err != nil {
		return err
	}
	if want != selector.Read {
		if err := key.ReplaceInterest(want); err != nil {
			_ = key.Cancel()
			return err
		}
	}

	gate := w.ArmBlockGate()

	timeoutMs := -1
	if timeout > 0 {
		timeoutMs = int(timeout / time.Millisecond)
	}

	resultCh := make(chan waitResult, 1)
	go func() {
		ready, selErr := h.sel.Select(timeoutMs)
		resultCh <- waitResult{ready: ready, err: selErr}
	}()

	select {
	case res := <-resultCh:
		_ = key.Cancel()
		if res.err != nil {
			return res.err
		}
		for _, rk := range res.ready {
			if rk.Ready&want != 0 {
				return nil
			}
		}
		return api.ErrOperationTimeout
	case <-gate:
		h.sel.Wake()
		<-resultCh // drain the select goroutine before returning the helper
		_ = key.Cancel()
		return api.ErrTransportClosed
	}
}
