// File: internal/wrapper/wrapper.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package wrapper implements ConnectionWrapper (per-connection state bound
// to one Channel and the Poller that owns its selector key). The arm/signal
// block-gate pattern is grounded on internal/session/cancel.go's
// sync.Once-guarded done-channel idiom, generalized here to a per-call gate
// instead of a once-per-lifetime signal, for internal/blockio's synchronous
// handoff (§4.9). PollerHandle is declared here, not imported from
// internal/poller, so that *poller.Poller can satisfy it structurally
// without wrapper importing poller and creating a cycle.

package wrapper

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hioload/ioendpoint/internal/ioconn"
	"github.com/hioload/ioendpoint/internal/selector"
)

// PollerHandle is the subset of Poller a Wrapper needs to re-arm interest
// from any thread (worker goroutines, blocking-I/O helpers).
type PollerHandle interface {
	// AddInterest enqueues a deferred interest-set mutation for w's key on
	// the owning poller's event queue.
	AddInterest(w *Wrapper, mask selector.Interest)

	// CancelKey runs the owning poller's cancelledKey sequence for w: detach
	// attachment, release the handler, cancel the selector key, close the
	// channel, and decrement the connection latch.
	CancelKey(w *Wrapper)
}

// Wrapper is the per-connection state the spec calls ConnectionWrapper: it
// references the Channel it owns and the Poller it is bound to for its
// lifetime, carries timeouts and keep-alive budget, and exposes the
// synchronous block-gate used by worker-thread blocking reads.
type Wrapper struct {
	Channel ioconn.Channel
	Key     *selector.Key
	poller  PollerHandle

	InterestSet selector.Interest

	LastReadMs  int64
	LastWriteMs int64

	ReadTimeoutMs  int64
	WriteTimeoutMs int64

	keepAliveRemaining int32

	SendfilePath string
	SendfilePos  int64
	SendfileLen  int64
	sendfileFd   int

	closed    atomic.Bool
	closeOnce sync.Once

	blockMu   sync.Mutex
	blockGate chan struct{}
}

// New constructs a Wrapper bound to ch and handle, with keep-alive budget
// maxKeepAlive and initial interest Read, matching the acceptor's §4.5
// step-5 setup.
func New(ch ioconn.Channel, handle PollerHandle, maxKeepAlive int, readTimeoutMs, writeTimeoutMs int64) *Wrapper {
	now := time.Now().UnixMilli()
	return &Wrapper{
		Channel:            ch,
		poller:             handle,
		InterestSet:        selector.Read,
		LastReadMs:         now,
		LastWriteMs:        now,
		keepAliveRemaining: int32(maxKeepAlive),
		ReadTimeoutMs:      readTimeoutMs,
		WriteTimeoutMs:     writeTimeoutMs,
		sendfileFd:         -1,
	}
}

// Read satisfies api.Wrapper by delegating to the underlying Channel and
// stamping LastReadMs on every successful read, so TimedOut measures from
// actual activity rather than from registration.
func (w *Wrapper) Read(buf []byte) (int, error) {
	n, err := w.Channel.Read(buf)
	if n > 0 {
		w.LastReadMs = time.Now().UnixMilli()
	}
	return n, err
}

// Write satisfies api.Wrapper by delegating to the underlying Channel and
// stamping LastWriteMs on every successful write.
func (w *Wrapper) Write(buf []byte) (int, error) {
	n, err := w.Channel.Write(buf)
	if n > 0 {
		w.LastWriteMs = time.Now().UnixMilli()
	}
	return n, err
}

// Sendfile records a zero-copy file transfer request for the poller's
// processSendfile state machine (§4.7) to pick up on the next ready event.
func (w *Wrapper) Sendfile(path string, pos, length int64) error {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return err
	}
	w.SendfilePath = path
	w.SendfilePos = pos
	w.SendfileLen = length
	w.sendfileFd = fd
	return nil
}

// SendfileFd returns the open file descriptor for a pending sendfile
// transfer, or -1 if none is pending.
func (w *Wrapper) SendfileFd() int { return w.sendfileFd }

// ClearSendfile closes and clears any pending sendfile transfer.
func (w *Wrapper) ClearSendfile() {
	if w.sendfileFd >= 0 {
		unix.Close(w.sendfileFd)
		w.sendfileFd = -1
	}
	w.SendfilePath = ""
	w.SendfilePos = 0
	w.SendfileLen = 0
}

// KeepAliveRemaining satisfies api.Wrapper.
func (w *Wrapper) KeepAliveRemaining() int { return int(atomic.LoadInt32(&w.keepAliveRemaining)) }

// DecrementKeepAlive consumes one keep-alive request and reports whether
// the budget is now exhausted.
func (w *Wrapper) DecrementKeepAlive() (exhausted bool) {
	return atomic.AddInt32(&w.keepAliveRemaining, -1) <= 0
}

// Secure satisfies api.Wrapper.
func (w *Wrapper) Secure() bool { return w.Channel.Secure() }

// Closed reports whether Close has run.
func (w *Wrapper) Closed() bool { return w.closed.Load() }

// AddInterest re-arms mask on the owning poller from any thread.
func (w *Wrapper) AddInterest(mask selector.Interest) {
	w.poller.AddInterest(w, mask)
}

// Cancel runs the owning poller's cancelledKey sequence for this wrapper.
func (w *Wrapper) Cancel() {
	w.poller.CancelKey(w)
}

// ArmBlockGate creates and returns a fresh gate channel for a blocking
// caller to wait on; SignalBlockGate closes the most recently armed gate.
func (w *Wrapper) ArmBlockGate() <-chan struct{} {
	ch := make(chan struct{})
	w.blockMu.Lock()
	w.blockGate = ch
	w.blockMu.Unlock()
	return ch
}

// SignalBlockGate closes the currently armed gate, if any, waking exactly
// one blocked waiter. Safe to call when no gate is armed.
func (w *Wrapper) SignalBlockGate() {
	w.blockMu.Lock()
	ch := w.blockGate
	w.blockGate = nil
	w.blockMu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// TimedOut reports whether nowMs has exceeded the read or write deadline
// computed from the channel's last activity timestamps.
func (w *Wrapper) TimedOut(nowMs int64) bool {
	if w.ReadTimeoutMs > 0 && w.InterestSet&selector.Read != 0 {
		if nowMs-w.LastReadMs > w.ReadTimeoutMs {
			return true
		}
	}
	if w.WriteTimeoutMs > 0 && w.InterestSet&selector.Write != 0 {
		if nowMs-w.LastWriteMs > w.WriteTimeoutMs {
			return true
		}
	}
	return false
}

// Close releases the underlying Channel and any pending sendfile fd. Safe
// to call more than once; only the first call has effect.
func (w *Wrapper) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		w.ClearSendfile()
		err = w.Channel.Close()
	})
	return err
}

// Reset clears per-connection state so the Wrapper can be recycled by the
// acceptor for a new accepted socket, possibly rebound to a different
// poller than its previous lifetime (round-robin assignment, §4.5 step 6).
func (w *Wrapper) Reset(ch ioconn.Channel, handle PollerHandle, maxKeepAlive int, readTimeoutMs, writeTimeoutMs int64) {
	now := time.Now().UnixMilli()
	w.Channel = ch
	w.poller = handle
	w.Key = nil
	w.InterestSet = selector.Read
	w.LastReadMs = now
	w.LastWriteMs = now
	w.ReadTimeoutMs = readTimeoutMs
	w.WriteTimeoutMs = writeTimeoutMs
	atomic.StoreInt32(&w.keepAliveRemaining, int32(maxKeepAlive))
	w.ClearSendfile()
	w.closed.Store(false)
	w.closeOnce = sync.Once{}
}
