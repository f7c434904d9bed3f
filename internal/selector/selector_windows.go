//go:build windows

// File: internal/selector/selector_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Windows backend. The teacher's reactor/iocp_reactor.go drives IOCP's
// completion-based model, which does not expose the level-triggered
// readiness semantics Select/Key.SetInterest need; WSAPoll gives the same
// poll(2)-shaped readiness contract the Linux/BSD backends provide, so this
// shim is built on golang.org/x/sys/windows.WSAPoll instead of adapting
// iocp_reactor.go's completion-port loop. The wake mechanism uses a loopback
// TCP pair (Windows gives no eventfd/kqueue-equivalent usable from WSAPoll).

package selector

import (
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

type pollSelector struct {
	mu   sync.Mutex
	keys map[int]*Key

	wakeListener *net.TCPListener
	wakeConn     net.Conn // write side
	wakeAccepted net.Conn // read side, fd watched by WSAPoll
	wakeFd       int
}

// NewWindowsSelector creates a WSAPoll-backed Selector.
func NewWindowsSelector() (Selector, error) {
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, fmt.Errorf("selector: wake listener: %w", err)
	}
	accepted := make(chan net.Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- c
	}()
	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("selector: wake dial: %w", err)
	}
	var wakeAccepted net.Conn
	select {
	case wakeAccepted = <-accepted:
	case err := <-acceptErr:
		ln.Close()
		conn.Close()
		return nil, fmt.Errorf("selector: wake accept: %w", err)
	}

	fd, err := socketFd(wakeAccepted)
	if err != nil {
		ln.Close()
		conn.Close()
		wakeAccepted.Close()
		return nil, err
	}

	return &pollSelector{
		keys:         make(map[int]*Key),
		wakeListener: ln,
		wakeConn:     conn,
		wakeAccepted: wakeAccepted,
		wakeFd:       fd,
	}, nil
}

func socketFd(c net.Conn) (int, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return 0, fmt.Errorf("selector: %T does not expose a raw fd", c)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("selector: syscall conn: %w", err)
	}
	var fd int
	ctrlErr := raw.Control(func(h uintptr) { fd = int(h) })
	if ctrlErr != nil {
		return 0, fmt.Errorf("selector: raw control: %w", ctrlErr)
	}
	return fd, nil
}

func (s *pollSelector) Register(fd int, attachment any) (*Key, error) {
	k := newKey(fd, s, attachment)
	s.mu.Lock()
	s.keys[fd] = k
	s.mu.Unlock()
	return k, nil
}

func (s *pollSelector) modify(k *Key, newInterest Interest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[k.Fd]; !ok {
		return ErrKeyCancelled
	}
	return nil
}

func (s *pollSelector) cancel(k *Key) error {
	s.mu.Lock()
	delete(s.keys, k.Fd)
	s.mu.Unlock()
	return nil
}

func toPollEvents(i Interest) int16 {
	var ev int16
	if i&Read != 0 {
		ev |= windows.POLLRDNORM
	}
	if i&Write != 0 {
		ev |= windows.POLLWRNORM
	}
	return ev
}

func (s *pollSelector) Select(timeoutMs int) ([]ReadyKey, error) {
	s.mu.Lock()
	fds := make([]windows.WSAPollFd, 0, len(s.keys)+1)
	order := make([]*Key, 0, len(s.keys))
	for _, k := range s.keys {
		fds = append(fds, windows.WSAPollFd{Fd: windows.Handle(k.Fd), Events: toPollEvents(k.Interest)})
		order = append(order, k)
	}
	wakeIdx := len(fds)
	fds = append(fds, windows.WSAPollFd{Fd: windows.Handle(s.wakeFd), Events: windows.POLLRDNORM})
	s.mu.Unlock()

	if timeoutMs < 0 {
		timeoutMs = -1
	}
	n, err := windows.WSAPoll(fds, int32(timeoutMs))
	if err != nil {
		return nil, fmt.Errorf("selector: wsapoll: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	out := make([]ReadyKey, 0, n)
	for i, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		if i == wakeIdx {
			s.drainWake()
			continue
		}
		var ready Interest
		if pfd.Revents&(windows.POLLRDNORM|windows.POLLHUP|windows.POLLERR) != 0 {
			ready |= Read
		}
		if pfd.Revents&windows.POLLWRNORM != 0 {
			ready |= Write
		}
		out = append(out, ReadyKey{Key: order[i], Ready: ready})
	}
	return out, nil
}

func (s *pollSelector) drainWake() {
	buf := make([]byte, 64)
	_ = s.wakeAccepted.SetReadDeadline(time.Now().Add(time.Millisecond))
	for {
		n, err := s.wakeAccepted.Read(buf)
		if n == 0 || err != nil {
			break
		}
	}
	_ = s.wakeAccepted.SetReadDeadline(time.Time{})
}

func (s *pollSelector) Wake() {
	_, _ = s.wakeConn.Write([]byte{1})
}

func (s *pollSelector) Keys() []*Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Key, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k)
	}
	return out
}

func (s *pollSelector) Close() error {
	s.wakeConn.Close()
	s.wakeAccepted.Close()
	return s.wakeListener.Close()
}
