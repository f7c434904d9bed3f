// File: internal/poller/sendfile.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// processSendfile implements spec.md §4.7's zero-copy transfer state
// machine using golang.org/x/sys/unix.Sendfile, already a module
// dependency via internal/selector. The keep-alive disposition on
// completion is fixed to re-registering READ (the "OPEN" policy): the
// api.Wrapper.Sendfile signature carries no keep-alive hint the Handler
// could set per call, so NONE/PIPELINED are not reachable from the public
// surface — recorded as an Open Question resolution in DESIGN.md.

package poller

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/hioload/ioendpoint/internal/selector"
	"github.com/hioload/ioendpoint/internal/wrapper"
)

// processSendfile advances w's pending file transfer by one step.
// calledByWorker distinguishes a worker-thread invocation (which must
// re-arm interest through the event queue) from a poller-thread one
// (which may mutate the key directly).
func (p *Poller) processSendfile(w *wrapper.Wrapper, calledByWorker bool) sendfileResult {
	ch := w.Channel

	if ch.Secure() {
		if err := ch.FlushOutbound(); err != nil {
			w.Cancel()
			return sendfileError
		}
		if ch.PendingOutbound() {
			w.LastWriteMs = time.Now().UnixMilli()
			p.rearmWrite(w, calledByWorker)
			return sendfilePending
		}
	}

	fd := w.SendfileFd()
	if fd < 0 {
		return p.finishSendfile(w, calledByWorker)
	}

	if w.SendfileLen <= 0 {
		w.ClearSendfile()
		return p.finishSendfile(w, calledByWorker)
	}

	n, err := unix.Sendfile(ch.Fd(), fd, &w.SendfilePos, int(w.SendfileLen))
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			p.rearmWrite(w, calledByWorker)
			return sendfilePending
		}
		w.ClearSendfile()
		w.Cancel()
		return sendfileError
	}

	w.SendfileLen -= int64(n)
	w.LastWriteMs = time.Now().UnixMilli()

	if w.SendfileLen <= 0 {
		w.ClearSendfile()
		return p.finishSendfile(w, calledByWorker)
	}

	p.rearmWrite(w, calledByWorker)
	return sendfilePending
}

func (p *Poller) rearmWrite(w *wrapper.Wrapper, calledByWorker bool) {
	if calledByWorker {
		w.AddInterest(selector.Write)
		return
	}
	if w.Key != nil {
		_ = w.Key.ReplaceInterest(selector.Write)
		w.InterestSet = selector.Write
	}
}

func (p *Poller) finishSendfile(w *wrapper.Wrapper, calledByWorker bool) sendfileResult {
	if calledByWorker {
		return sendfileDone
	}
	if w.Key != nil {
		_ = w.Key.ReplaceInterest(selector.Read)
		w.InterestSet = selector.Read
	}
	return sendfileDone
}
