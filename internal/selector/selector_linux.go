//go:build linux

// File: internal/selector/selector_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux epoll(7) backend, grounded on reactor/reactor_linux.go's
// golang.org/x/sys/unix usage and internal/concurrency/poller_linux.go's
// edge-triggered registration. Wake uses an eventfd(2) registered alongside
// the watched sockets, following the self-pipe pattern spec.md §9 names as
// an alternative to a blocking-mode server socket.

package selector

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

type epollSelector struct {
	epfd int
	wfd  int // eventfd used to interrupt EpollWait

	mu   sync.Mutex // guards keys; Key.Cancel may reach cancel from any goroutine
	keys map[int]*Key
}

// NewEpollSelector creates a Linux epoll-backed Selector.
func NewEpollSelector() (Selector, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("selector: epoll_create1: %w", err)
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("selector: eventfd: %w", err)
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wfd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wfd),
	}); err != nil {
		unix.Close(wfd)
		unix.Close(epfd)
		return nil, fmt.Errorf("selector: epoll_ctl add wake fd: %w", err)
	}
	return &epollSelector{
		epfd: epfd,
		wfd:  wfd,
		keys: make(map[int]*Key),
	}, nil
}

func toEpollEvents(i Interest) uint32 {
	var ev uint32
	if i&Read != 0 {
		ev |= unix.EPOLLIN
	}
	if i&Write != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (s *epollSelector) Register(fd int, attachment any) (*Key, error) {
	k := newKey(fd, s, attachment)
	ev := &unix.EpollEvent{Events: toEpollEvents(k.Interest), Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return nil, fmt.Errorf("selector: epoll_ctl add: %w", err)
	}
	s.mu.Lock()
	s.keys[fd] = k
	s.mu.Unlock()
	return k, nil
}

func (s *epollSelector) modify(k *Key, newInterest Interest) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(newInterest), Fd: int32(k.Fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, k.Fd, ev); err != nil {
		return fmt.Errorf("selector: epoll_ctl mod: %w", err)
	}
	return nil
}

func (s *epollSelector) cancel(k *Key) error {
	s.mu.Lock()
	delete(s.keys, k.Fd)
	s.mu.Unlock()
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, k.Fd, nil); err != nil && err != unix.ENOENT {
		return fmt.Errorf("selector: epoll_ctl del: %w", err)
	}
	return nil
}

func (s *epollSelector) Select(timeoutMs int) ([]ReadyKey, error) {
	var events [256]unix.EpollEvent
	n, err := unix.EpollWait(s.epfd, events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("selector: epoll_wait: %w", err)
	}

	out := make([]ReadyKey, 0, n)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		if fd == s.wfd {
			s.drainWake()
			continue
		}
		k, ok := s.keys[fd]
		if !ok {
			continue
		}
		var ready Interest
		if events[i].Events&unix.EPOLLIN != 0 {
			ready |= Read
		}
		if events[i].Events&unix.EPOLLOUT != 0 {
			ready |= Write
		}
		if events[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			ready |= Read | Write
		}
		out = append(out, ReadyKey{Key: k, Ready: ready})
	}
	return out, nil
}

func (s *epollSelector) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(s.wfd, buf[:])
		if err != nil {
			return
		}
	}
}

func (s *epollSelector) Wake() {
	one := [8]byte{1, 0, 0, 0, 0, 0, 0, 0}
	_, _ = unix.Write(s.wfd, one[:])
}

func (s *epollSelector) Keys() []*Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Key, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k)
	}
	return out
}

func (s *epollSelector) Close() error {
	unix.Close(s.wfd)
	return unix.Close(s.epfd)
}
