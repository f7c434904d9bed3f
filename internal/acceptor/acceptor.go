// File: internal/acceptor/acceptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package acceptor implements the Acceptor (C7): a blocking accept(2) loop
// grounded on s00inx-goserver's server/engine/epoll.go listenSocket/Accept
// pattern (raw unix.Socket/Bind/Listen/Accept instead of net.Listener, so
// the accepted fd can be handed directly to a Channel without ever being
// registered with Go's runtime netpoller). Exponential accept-error backoff is
// adapted from internal/concurrency/eventloop.go's adaptiveBackoff, applied
// to "accept failed" instead of "no work available". Acceptor also owns
// the C1 bounded pools for Channel/Wrapper/application buffers and
// implements poller.Recycler to return them on cancellation.

package acceptor

import (
	"context"
	"crypto/tls"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hioload/ioendpoint/api"
	"github.com/hioload/ioendpoint/internal/ioconn"
	"github.com/hioload/ioendpoint/internal/latch"
	"github.com/hioload/ioendpoint/internal/pool"
	"github.com/hioload/ioendpoint/internal/poller"
	"github.com/hioload/ioendpoint/internal/wrapper"
)

const (
	minBackoff = time.Millisecond
	maxBackoff = time.Second
)

// Acceptor runs the blocking accept loop and round-robins accepted
// connections across a fixed set of pollers.
type Acceptor struct {
	listenFd int
	props    *api.SocketProperties
	latch    *latch.Latch
	pollers  []*poller.Poller
	handler  api.Handler
	tlsCfg   *tls.Config
	logger   *log.Logger

	channelPool  *pool.LIFO[ioconn.Channel]
	wrapperPool  *pool.LIFO[*wrapper.Wrapper]
	appReadPool  *pool.BufferPool
	appWritePool *pool.BufferPool

	rotation atomic.Int64

	paused  atomic.Bool
	closing atomic.Bool
	done    chan struct{}
}

// New constructs an Acceptor. tlsCfg activates the secure Channel variant
// for every accepted connection when non-nil.
func New(props *api.SocketProperties, l *latch.Latch, pollers []*poller.Poller, handler api.Handler, tlsCfg *tls.Config) *Acceptor {
	a := &Acceptor{
		props:        props,
		latch:        l,
		pollers:      pollers,
		handler:      handler,
		tlsCfg:       tlsCfg,
		logger:       props.Log(),
		channelPool:  pool.NewLIFO[ioconn.Channel](props.BufferPool),
		wrapperPool:  pool.NewLIFO[*wrapper.Wrapper](props.BufferPool),
		appReadPool:  pool.NewBufferPool(props.AppReadBufSize, props.BufferPool),
		appWritePool: pool.NewBufferPool(props.AppWriteBufSize, props.BufferPool),
		done:         make(chan struct{}),
		listenFd:     -1,
	}
	for _, p := range pollers {
		p.SetRecycler(a)
	}
	return a
}

// Bind creates (or adopts) the listening socket. Must be called before Run.
func (a *Acceptor) Bind() error {
	if a.props.UseInheritedChannel {
		a.listenFd = 3 // conventional first inherited fd, matching systemd socket activation
		return unix.SetNonblock(a.listenFd, false)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return err
	}

	addr, err := parseIPv4(a.props.Address)
	if err != nil {
		unix.Close(fd)
		return err
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: a.props.Port, Addr: addr}); err != nil {
		unix.Close(fd)
		return err
	}
	if err := unix.Listen(fd, a.props.AcceptCount); err != nil {
		unix.Close(fd)
		return err
	}
	a.listenFd = fd
	return nil
}

// Pause tells the accept loop to stop accepting until Resume is called.
func (a *Acceptor) Pause() { a.paused.Store(true) }

// Resume undoes Pause.
func (a *Acceptor) Resume() { a.paused.Store(false) }

// Close stops the accept loop and closes the listening socket.
func (a *Acceptor) Close() error {
	a.closing.Store(true)
	if a.listenFd >= 0 {
		unix.Close(a.listenFd)
	}
	<-a.done
	return nil
}

// Run is the blocking accept loop; spawn with `go a.Run()`.
func (a *Acceptor) Run() {
	defer close(a.done)

	backoff := minBackoff
	for {
		if a.closing.Load() {
			return
		}
		for a.paused.Load() && !a.closing.Load() {
			time.Sleep(50 * time.Millisecond)
		}
		if a.closing.Load() {
			return
		}

		if err := a.latch.Acquire(context.Background()); err != nil {
			continue
		}

		connFd, _, err := unix.Accept(a.listenFd)
		if err != nil {
			a.latch.Release()
			if a.closing.Load() {
				return
			}
			a.logger.Printf("acceptor: accept: %v", err)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = minBackoff

		if err := a.assign(connFd); err != nil {
			a.logger.Printf("acceptor: assign: %v", err)
			a.latch.Release()
			unix.Close(connFd)
		}
	}
}

// assign configures the accepted socket, pairs it with a pooled or new
// Channel/Wrapper, and enqueues a REGISTER event on a round-robin poller.
func (a *Acceptor) assign(connFd int) error {
	if err := unix.SetNonblock(connFd, true); err != nil {
		return err
	}
	_ = unix.SetsockoptInt(connFd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	ch := a.acquireChannel(connFd)
	idx := int(uint64(a.rotation.Add(1)) % uint64(len(a.pollers)))
	p := a.pollers[idx]

	w := a.acquireWrapper(ch, p)
	p.Register(ch, w)
	return nil
}

// acquireChannel pops a recycled Channel when one is available, keeping its
// existing AppRead/AppWrite buffers untouched, and only draws fresh buffers
// from the buffer pools when it must construct a brand-new Channel. Buffers
// must never be acquired independently of the Channel that owns them, or a
// concurrent Release could hand the same backing array to two connections.
func (a *Acceptor) acquireChannel(fd int) ioconn.Channel {
	if ch, ok := a.channelPool.Get(); ok {
		ch.Rebind(fd)
		return ch
	}

	readBuf := a.appReadPool.Acquire()
	writeBuf := a.appWritePool.Acquire()
	if a.tlsCfg != nil {
		return ioconn.NewSecureChannel(fd, a.tlsCfg, readBuf, writeBuf)
	}
	return ioconn.NewPlainChannel(fd, readBuf, writeBuf)
}

func (a *Acceptor) acquireWrapper(ch ioconn.Channel, p *poller.Poller) *wrapper.Wrapper {
	soTimeoutMs := int64(a.props.SoTimeout / time.Millisecond)
	if w, ok := a.wrapperPool.Get(); ok {
		w.Reset(ch, p, a.props.MaxKeepAliveRequests, soTimeoutMs, soTimeoutMs)
		return w
	}
	return wrapper.New(ch, p, a.props.MaxKeepAliveRequests, soTimeoutMs, soTimeoutMs)
}

// Release implements poller.Recycler: returns w's Channel to the channel
// pool for reuse, buffers and all, and returns w itself to the wrapper pool.
// Only when the channel pool is already full (so ch is about to be dropped
// for garbage collection instead of reused) are its buffers released back to
// the buffer pools — a Channel that round-trips through channelPool keeps
// its own buffers for its next connection, so releasing them independently
// here would let two live Channels reference the same backing array.
func (a *Acceptor) Release(w *wrapper.Wrapper) {
	ch := w.Channel
	if !a.channelPool.Put(ch) {
		if pc, ok := ch.(*ioconn.PlainChannel); ok {
			a.appReadPool.Release(pc.AppRead)
			a.appWritePool.Release(pc.AppWrite)
		} else if sc, ok := ch.(*ioconn.SecureChannel); ok {
			a.appReadPool.Release(sc.AppRead)
			a.appWritePool.Release(sc.AppWrite)
		}
	}
	a.wrapperPool.Put(w)
}

