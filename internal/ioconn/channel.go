// File: internal/ioconn/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package ioconn implements the Channel variants (C3): a non-blocking
// wrapper around one accepted socket's raw file descriptor, read/write
// on pooled application buffers, grounded on reactor/reactor_linux.go's
// unix.EpollCreate1/EpollCtl raw-fd discipline and transport/netconn.go's
// thin read/write passthrough shape (here operating on the raw fd instead
// of net.Conn so the Poller, not the runtime's netpoller, owns readiness).

package ioconn

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"

	"github.com/hioload/ioendpoint/internal/selector"
)

// ErrWouldBlock is returned by Read/Write when the underlying fd has no
// data or buffer space available right now (EAGAIN/EWOULDBLOCK).
var ErrWouldBlock = errors.New("ioconn: operation would block")

// Channel is the common capability set plain and secure variants share:
// read/write on plaintext application buffers, handshake progression
// (a no-op for plain channels), outbound flush, and lifecycle reset/close.
type Channel interface {
	// Read fills buf from the socket. Returns (0, io.EOF) on orderly close,
	// (0, ErrWouldBlock) if nothing is available.
	Read(buf []byte) (int, error)

	// Write sends buf to the socket. Returns (0, ErrWouldBlock) if the
	// socket's send buffer is full.
	Write(buf []byte) (int, error)

	// Handshake advances any pending handshake state. readable/writable
	// report which direction became ready since the last call. A zero
	// Interest with a nil error means the handshake is complete (always
	// true for plain channels); a non-zero Interest with a nil error means
	// the caller must re-register that interest and call Handshake again
	// once it fires; a non-nil error means the handshake failed and the
	// channel must be closed.
	Handshake(readable, writable bool) (selector.Interest, error)

	// FlushOutbound drains any buffered outbound bytes (ciphertext for the
	// secure variant) directly to the socket. No-op for plain channels.
	FlushOutbound() error

	// PendingOutbound reports whether FlushOutbound still has buffered
	// bytes it could not push to a non-blocking socket.
	PendingOutbound() bool

	// Reset clears buffered state so the Channel can be handed to a new
	// connection from its pool.
	Reset()

	// Rebind re-points this pooled Channel at a newly accepted fd and
	// resets its state, so the acceptor can recycle Channel structs
	// instead of allocating one per connection.
	Rebind(fd int)

	// Close releases the socket and any handshake resources.
	Close() error

	// Secure reports whether this channel performs a TLS handshake.
	Secure() bool

	// HandshakeDone reports whether the handshake has already completed
	// (always true for plain channels).
	HandshakeDone() bool

	// Fd returns the raw file descriptor backing this channel.
	Fd() int
}

// PlainChannel is a non-blocking TCP channel with no transport security.
type PlainChannel struct {
	fd int

	AppRead  []byte
	AppWrite []byte

	closed bool
}

// NewPlainChannel wraps fd, which the caller must already have put into
// non-blocking mode.
func NewPlainChannel(fd int, appReadBuf, appWriteBuf []byte) *PlainChannel {
	return &PlainChannel{fd: fd, AppRead: appReadBuf, AppWrite: appWriteBuf}
}

func (c *PlainChannel) Read(buf []byte) (int, error) {
	n, err := unix.Read(c.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (c *PlainChannel) Write(buf []byte) (int, error) {
	n, err := unix.Write(c.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

// Handshake is a no-op: plain channels are always handshake-complete.
func (c *PlainChannel) Handshake(readable, writable bool) (selector.Interest, error) {
	return 0, nil
}

func (c *PlainChannel) FlushOutbound() error    { return nil }
func (c *PlainChannel) PendingOutbound() bool   { return false }

func (c *PlainChannel) Reset() {
	c.AppRead = c.AppRead[:0]
	c.AppWrite = c.AppWrite[:0]
	c.closed = false
}

func (c *PlainChannel) Rebind(fd int) {
	c.fd = fd
	c.Reset()
}

func (c *PlainChannel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return unix.Close(c.fd)
}

func (c *PlainChannel) Secure() bool        { return false }
func (c *PlainChannel) HandshakeDone() bool { return true }
func (c *PlainChannel) Fd() int             { return c.fd }
