// File: api/socketproperties.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SocketProperties is the structured configuration surface consumed by the
// acceptor, poller, and pools. It owns no behavior; it is read at bind/start
// time and individual fields may be read again per-accept (timeouts,
// keep-alive budget).

package api

import (
	"log"
	"time"
)

// SocketProperties configures the TCP endpoint core.
type SocketProperties struct {
	// Address/port the acceptor binds, or adopts via UseInheritedChannel.
	Address string
	Port    int

	// AcceptCount is the listen(2) backlog.
	AcceptCount int

	// UseInheritedChannel adopts a server socket from the OS (e.g. systemd
	// socket activation) instead of binding a new one.
	UseInheritedChannel bool

	// PollerThreadCount is the number of poller goroutines. Defaults to
	// min(2, NumCPU) when <= 0.
	PollerThreadCount int

	// PollerThreadPriority is an OS scheduling priority for poller threads.
	// The core does not read it: poller threads run at the default priority
	// whatever its value.
	PollerThreadPriority int

	// PollerAffinity optionally pins each poller goroutine's OS thread to a
	// CPU core, indexed by poller number modulo len(PollerAffinity).
	PollerAffinity []int

	// AcceptorThreadCount is the number of acceptor goroutines. Defaults to 1.
	AcceptorThreadCount int

	// SelectorTimeout bounds how long a poller blocks in Select when no
	// events are pending.
	SelectorTimeout time.Duration

	// SoTimeout is the default per-connection read/write timeout.
	SoTimeout time.Duration

	// TimeoutInterval is the minimum gap between timeout scans on a poller.
	TimeoutInterval time.Duration

	// AppReadBufSize / AppWriteBufSize size the application-level buffers a
	// plain or secure Channel allocates.
	AppReadBufSize  int
	AppWriteBufSize int

	// DirectBuffer requests off-heap buffers where the platform buffer pool
	// supports it (currently advisory only; Go's GC makes "direct" memory a
	// pool-capacity concern rather than an allocation-site one).
	DirectBuffer bool

	// EventCache, ProcessorCache, BufferPool are the bounded-pool capacities
	// for C5 events, C8 processors, and C1 byte buffers/channels/wrappers
	// respectively.
	EventCache     int
	ProcessorCache int
	BufferPool     int

	// MaxKeepAliveRequests is the keep-alive budget each accepted connection
	// starts with, visible to the handler as Wrapper.KeepAliveRemaining. The
	// core does not decrement it or close a connection whose budget is spent.
	MaxKeepAliveRequests int

	// MaxConnections bounds concurrent established connections; -1 means
	// unbounded.
	MaxConnections int

	// Logger is the injectable log sink; defaults to log.Default() when nil.
	Logger *log.Logger

	// TLS, when non-nil, activates the secure Channel variant for accepted
	// connections.
	TLS *TLSConfig
}

// TLSConfig names the minimal TLS surface the core needs; the concrete
// certificate/key material and crypto/tls.Config live with the embedder.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// DefaultSocketProperties returns the configuration defaults named in the
// endpoint's configuration surface.
func DefaultSocketProperties() *SocketProperties {
	return &SocketProperties{
		Address:              "0.0.0.0",
		Port:                 8080,
		AcceptCount:          100,
		PollerThreadCount:    0, // resolved to min(2, NumCPU) by the caller
		AcceptorThreadCount:  1,
		SelectorTimeout:      1000 * time.Millisecond,
		SoTimeout:            20000 * time.Millisecond,
		TimeoutInterval:      1000 * time.Millisecond,
		AppReadBufSize:       8192,
		AppWriteBufSize:      8192,
		EventCache:           128,
		ProcessorCache:       128,
		BufferPool:           128,
		MaxKeepAliveRequests: 100,
		MaxConnections:       10000,
	}
}

// Log returns the configured logger or the stdlib default.
func (p *SocketProperties) Log() *log.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return log.Default()
}
