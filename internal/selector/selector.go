// File: internal/selector/selector.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package selector is the platform-neutral readiness-multiplexing primitive
// underneath a Poller: register a file descriptor with an interest set,
// block until some subset becomes ready, and mutate a key's interest set
// from the owning thread only. Platform backends (epoll on Linux, kqueue on
// BSD/Darwin, a WSAPoll-based level-triggered shim on Windows) satisfy the
// same Selector interface, mirroring the teacher's reactor.EventReactor
// split across reactor_linux.go/iocp_reactor.go but adding per-key interest
// mutation, which a Poller's ADD_INTEREST events require and the teacher's
// reactor package did not need.

package selector

import (
	"errors"
	"sync/atomic"
)

// Interest is a bitmask over the readiness conditions a Key watches for.
type Interest uint8

const (
	Read Interest = 1 << iota
	Write
)

// ErrUnsupported is returned by backends with no implementation on the
// current platform.
var ErrUnsupported = errors.New("selector: not supported on this platform")

// ErrKeyCancelled is returned by operations on an already-cancelled Key.
var ErrKeyCancelled = errors.New("selector: key cancelled")

// keyBackend lets a Key call back into the selector that created it without
// the selector package needing per-platform exported types.
type keyBackend interface {
	modify(k *Key, newInterest Interest) error
	cancel(k *Key) error
}

// Key is the selector's handle for one registered file descriptor. It
// carries an attachment (the owning Poller stores a *wrapper.Wrapper there)
// and mirrors the interest set currently applied on the OS selector.
//
// Only the owning Poller goroutine may call SetInterest; Attachment's
// load/detach are safe from any goroutine so that cancelledKey's
// idempotency guard (detach-attachment-as-guard, spec §4.6) works under
// concurrent cancellation attempts.
type Key struct {
	Fd       int
	Interest Interest // owner-thread-only; mirrors applied selector state

	attachment atomic.Pointer[any]
	valid      atomic.Bool
	backend    keyBackend
}

// newKey constructs a Key bound to backend, initially valid.
func newKey(fd int, backend keyBackend, attachment any) *Key {
	k := &Key{Fd: fd, Interest: Read, backend: backend}
	k.valid.Store(true)
	k.attachment.Store(&attachment)
	return k
}

// Attachment returns the current attachment, or nil if the key has been
// detached (cancelledKey already ran, or is running concurrently).
func (k *Key) Attachment() any {
	p := k.attachment.Load()
	if p == nil {
		return nil
	}
	return *p
}

// DetachAttachment atomically clears the attachment and returns what was
// there. A nil return means some other caller already detached it — this is
// the idempotency guard cancelledKey relies on (spec §4.6).
func (k *Key) DetachAttachment() any {
	old := k.attachment.Swap(nil)
	if old == nil {
		return nil
	}
	return *old
}

// Valid reports whether the key is still registered on its selector.
func (k *Key) Valid() bool { return k.valid.Load() }

// SetInterest ORs mask into the key's current interest and applies it on the
// OS selector. Owner-thread-only.
func (k *Key) SetInterest(mask Interest) error {
	return k.setInterest(k.Interest | mask)
}

// ReplaceInterest sets the key's interest set to exactly mask (used by
// timeout handling and sendfile to clear or pin interest). Owner-thread-only.
func (k *Key) ReplaceInterest(mask Interest) error {
	return k.setInterest(mask)
}

func (k *Key) setInterest(mask Interest) error {
	if !k.valid.Load() {
		return ErrKeyCancelled
	}
	if err := k.backend.modify(k, mask); err != nil {
		return err
	}
	k.Interest = mask
	return nil
}

// Cancel removes the key from its selector. Safe to call more than once.
func (k *Key) Cancel() error {
	if !k.valid.CompareAndSwap(true, false) {
		return nil
	}
	return k.backend.cancel(k)
}

// ReadyKey is one readiness result from Select.
type ReadyKey struct {
	Key   *Key
	Ready Interest
}

// Selector multiplexes readiness across registered Keys for one Poller.
type Selector interface {
	// Register adds fd to the selector with initial interest Read and
	// returns its Key, attaching attachment (normally a *wrapper.Wrapper).
	Register(fd int, attachment any) (*Key, error)

	// Select blocks up to timeoutMs (0 = return immediately, <0 = block
	// indefinitely) and returns the keys that became ready.
	Select(timeoutMs int) ([]ReadyKey, error)

	// Wake interrupts a blocked Select call from any goroutine.
	Wake()

	// Keys returns a snapshot of all currently registered keys, used by the
	// Poller's timeout scan.
	Keys() []*Key

	// Close releases the underlying OS selector handle.
	Close() error
}
