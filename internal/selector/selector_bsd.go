//go:build darwin || freebsd || netbsd || openbsd || dragonfly

// File: internal/selector/selector_bsd.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// kqueue(2) backend for BSD/Darwin, enrichment beyond the teacher (whose
// reactor package only shipped epoll and an IOCP stub) grounded on the
// retrieval pack's kqueue examples (e.g. other_examples/newacorn-go__netpoll_kqueue.go)
// and following the same Selector contract as selector_linux.go. Wake uses a
// permanent EVFILT_USER event triggered with NOTE_TRIGGER, kqueue's
// self-pipe-equivalent.

package selector

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

const wakeIdent = 0

type kqueueSelector struct {
	kq int

	mu   sync.Mutex
	keys map[int]*Key
}

// NewKqueueSelector creates a kqueue-backed Selector.
func NewKqueueSelector() (Selector, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("selector: kqueue: %w", err)
	}
	wake := []unix.Kevent_t{{
		Ident:  wakeIdent,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}
	if _, err := unix.Kevent(kq, wake, nil, nil); err != nil {
		unix.Close(kq)
		return nil, fmt.Errorf("selector: register wake event: %w", err)
	}
	return &kqueueSelector{kq: kq, keys: make(map[int]*Key)}, nil
}

func (s *kqueueSelector) Register(fd int, attachment any) (*Key, error) {
	k := newKey(fd, s, attachment)
	if err := s.apply(fd, 0, k.Interest); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.keys[fd] = k
	s.mu.Unlock()
	return k, nil
}

// apply submits the kevent changes needed to move from old to new interest.
func (s *kqueueSelector) apply(fd int, old, new Interest) error {
	var changes []unix.Kevent_t
	if (new&Read != 0) && (old&Read == 0) {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD})
	}
	if (new&Read == 0) && (old&Read != 0) {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
	}
	if (new&Write != 0) && (old&Write == 0) {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD})
	}
	if (new&Write == 0) && (old&Write != 0) {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
	}
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(s.kq, changes, nil, nil); err != nil {
		return fmt.Errorf("selector: kevent: %w", err)
	}
	return nil
}

func (s *kqueueSelector) modify(k *Key, newInterest Interest) error {
	return s.apply(k.Fd, k.Interest, newInterest)
}

func (s *kqueueSelector) cancel(k *Key) error {
	s.mu.Lock()
	delete(s.keys, k.Fd)
	s.mu.Unlock()
	if err := s.apply(k.Fd, k.Interest, 0); err != nil {
		return err
	}
	return nil
}

func (s *kqueueSelector) Select(timeoutMs int) ([]ReadyKey, error) {
	events := make([]unix.Kevent_t, 256)
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1_000_000)
		ts = &t
	}
	n, err := unix.Kevent(s.kq, nil, events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("selector: kevent wait: %w", err)
	}

	ready := make(map[int]Interest)
	s.mu.Lock()
	for i := 0; i < n; i++ {
		ev := events[i]
		if ev.Filter == unix.EVFILT_USER {
			continue
		}
		fd := int(ev.Ident)
		if _, ok := s.keys[fd]; !ok {
			continue
		}
		switch ev.Filter {
		case unix.EVFILT_READ:
			ready[fd] |= Read
		case unix.EVFILT_WRITE:
			ready[fd] |= Write
		}
	}
	out := make([]ReadyKey, 0, len(ready))
	for fd, mask := range ready {
		out = append(out, ReadyKey{Key: s.keys[fd], Ready: mask})
	}
	s.mu.Unlock()
	return out, nil
}

func (s *kqueueSelector) Wake() {
	trigger := []unix.Kevent_t{{
		Ident:  wakeIdent,
		Filter: unix.EVFILT_USER,
		Fflags: unix.NOTE_TRIGGER,
	}}
	_, _ = unix.Kevent(s.kq, trigger, nil, nil)
}

func (s *kqueueSelector) Keys() []*Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Key, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k)
	}
	return out
}

func (s *kqueueSelector) Close() error {
	return unix.Close(s.kq)
}
