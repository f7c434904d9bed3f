// File: endpoint.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package ioendpoint is the facade wiring the acceptor/poller/worker triad
// together behind the bind/start/stop/unbind lifecycle. Grounded on the
// teacher's server/server.go Server facade (cfg/pool/control/listener
// fields, NewServer/Serve/Shutdown/GetControl shape), adapted from its
// single-listener WebSocket-upgrade loop to the readiness-multiplexed
// TCP core: Bind creates the listening socket and the shared blocking-I/O
// selector pool, Start spawns the poller goroutines and the acceptor loop,
// Stop drains them in reverse order (closing the listening socket as it
// stops each acceptor), and Unbind releases the blocking-I/O selector pool,
// the handler and the TLS material.

package ioendpoint

import (
	"crypto/tls"
	"fmt"
	"log"
	"runtime"
	"sync/atomic"

	"github.com/hioload/ioendpoint/adapters"
	"github.com/hioload/ioendpoint/api"
	"github.com/hioload/ioendpoint/internal/acceptor"
	"github.com/hioload/ioendpoint/internal/blockio"
	"github.com/hioload/ioendpoint/internal/latch"
	"github.com/hioload/ioendpoint/internal/poller"
	"github.com/hioload/ioendpoint/internal/selector"
	"github.com/hioload/ioendpoint/internal/worker"
)

// Endpoint is the top-level object embedders construct: one listening
// socket, a fixed pool of poller goroutines, one acceptor goroutine per
// AcceptorThreadCount, and a worker ThreadPool dispatching Handler calls.
type Endpoint struct {
	props   *api.SocketProperties
	handler api.Handler
	control *adapters.ControlAdapter
	logger  *log.Logger

	tlsConfig *tls.Config
	blockPool *blockio.Pool

	pollers    []*poller.Poller
	acceptors  []*acceptor.Acceptor
	threadPool api.ThreadPool
	ownsPool   bool
	connLatch  *latch.Latch

	bound   atomic.Bool
	running atomic.Bool
	paused  atomic.Bool
}

// New constructs an Endpoint bound to props and handler. Call Bind then
// Start to begin accepting connections.
func New(props *api.SocketProperties, handler api.Handler) *Endpoint {
	if props == nil {
		props = api.DefaultSocketProperties()
	}
	return &Endpoint{
		props:   props,
		handler: handler,
		control: adapters.NewControlAdapter(),
		logger:  props.Log(),
	}
}

// SetThreadPool overrides the default worker pool. Must be called before
// Start; the endpoint otherwise constructs its own and shuts it down on Stop.
func (e *Endpoint) SetThreadPool(tp api.ThreadPool) { e.threadPool = tp }

// Control exposes the endpoint's metrics/config/debug surface.
func (e *Endpoint) Control() api.Control { return e.control }

// IsRunning reports whether Start has completed, Stop has not yet run and
// the endpoint is not paused, consulted by each Poller to decide whether to
// recycle Processors.
func (e *Endpoint) IsRunning() bool { return e.running.Load() && !e.paused.Load() }

// Bind creates or adopts the listening socket, builds the TLS configuration
// if SocketProperties.TLS is set, and constructs the shared blocking-I/O
// selector pool, per spec.md §6's bind() step.
func (e *Endpoint) Bind() error {
	if e.bound.Load() {
		return fmt.Errorf("ioendpoint: already bound")
	}

	if e.props.TLS != nil {
		cert, err := tls.LoadX509KeyPair(e.props.TLS.CertFile, e.props.TLS.KeyFile)
		if err != nil {
			return fmt.Errorf("ioendpoint: load TLS keypair: %w", err)
		}
		e.tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	e.blockPool = blockio.NewPool(max(e.props.PollerThreadCount, 1) * 2)

	maxConns := e.props.MaxConnections
	if maxConns <= 0 {
		maxConns = latch.Unbounded
	}
	e.connLatch = latch.New(maxConns)

	pollerCount := e.props.PollerThreadCount
	if pollerCount <= 0 {
		pollerCount = min(2, runtime.NumCPU())
		if pollerCount < 1 {
			pollerCount = 1
		}
	}

	e.pollers = make([]*poller.Poller, pollerCount)
	for i := 0; i < pollerCount; i++ {
		sel, err := selector.New()
		if err != nil {
			return fmt.Errorf("ioendpoint: new selector: %w", err)
		}
		e.pollers[i] = poller.New(i, sel, e.connLatch, nil, e.handler, e.props, e.IsRunning)
	}

	acceptorCount := e.props.AcceptorThreadCount
	if acceptorCount <= 0 {
		acceptorCount = 1
	}
	e.acceptors = make([]*acceptor.Acceptor, acceptorCount)
	for i := 0; i < acceptorCount; i++ {
		a := acceptor.New(e.props, e.connLatch, e.pollers, e.handler, e.tlsConfig)
		if err := a.Bind(); err != nil {
			return fmt.Errorf("ioendpoint: bind: %w", err)
		}
		e.acceptors[i] = a
	}

	e.bound.Store(true)
	return nil
}

// Start allocates the worker pool if none was supplied, then spawns every
// poller goroutine and acceptor goroutine, per spec.md §6's start() step.
func (e *Endpoint) Start() error {
	if !e.bound.Load() {
		return fmt.Errorf("ioendpoint: Start called before Bind")
	}
	if e.running.Load() {
		return fmt.Errorf("ioendpoint: already running")
	}

	if e.threadPool == nil {
		e.threadPool = worker.NewDefaultThreadPool(runtime.NumCPU(), nil)
		e.ownsPool = true
	}
	for _, p := range e.pollers {
		p.SetThreadPool(e.threadPool)
	}

	e.running.Store(true)
	e.paused.Store(false)

	for _, p := range e.pollers {
		go p.Run()
	}
	for _, a := range e.acceptors {
		go a.Run()
	}
	return nil
}

// Pause tells every acceptor to stop accepting new connections without
// tearing down the pollers or worker pool.
func (e *Endpoint) Pause() {
	e.paused.Store(true)
	for _, a := range e.acceptors {
		a.Pause()
	}
}

// Resume undoes Pause.
func (e *Endpoint) Resume() {
	e.paused.Store(false)
	for _, a := range e.acceptors {
		a.Resume()
	}
}

// Stop halts every acceptor, closes every poller (forcing a final timeout
// scan that cancels all remaining keys), and shuts down the worker pool,
// per spec.md §6's stop() step and S6's shutdown-under-load scenario.
func (e *Endpoint) Stop() error {
	if !e.running.Load() {
		return nil
	}
	e.running.Store(false)

	for _, a := range e.acceptors {
		_ = a.Close()
	}
	for _, p := range e.pollers {
		p.Close()
	}
	if e.ownsPool && e.threadPool != nil {
		e.threadPool.Shutdown()
		e.threadPool = nil
		e.ownsPool = false
	}
	return nil
}

// Unbind closes the shared blocking-I/O selector pool and releases the
// handler, per spec.md §6's unbind() step. The listening socket itself was
// already closed by Stop (via each acceptor's Close).
func (e *Endpoint) Unbind() error {
	if !e.bound.Load() {
		return nil
	}
	if e.blockPool != nil {
		e.blockPool.Close()
	}
	e.handler.Recycle()
	e.tlsConfig = nil
	e.bound.Store(false)
	return nil
}

// Stats reports endpoint-wide counters alongside the Control adapter's
// metrics/debug snapshot.
func (e *Endpoint) Stats() map[string]any {
	out := e.control.Stats()
	if e.connLatch != nil {
		out["connections.active"] = e.connLatch.Count()
	}
	out["pollers"] = len(e.pollers)
	out["running"] = e.running.Load()
	out["paused"] = e.paused.Load()
	return out
}
