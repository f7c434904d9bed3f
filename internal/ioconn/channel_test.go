package ioconn

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			t.Fatalf("set nonblock: %v", err)
		}
	}
	return fds[0], fds[1]
}

func TestPlainChannelWouldBlockOnEmptyRead(t *testing.T) {
	a, b := socketpair(t)
	defer unix.Close(b)

	ch := NewPlainChannel(a, make([]byte, 64), make([]byte, 64))
	defer ch.Close()

	buf := make([]byte, 16)
	_, err := ch.Read(buf)
	if !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("expected ErrWouldBlock, got %v", err)
	}
}

func TestPlainChannelWriteThenRead(t *testing.T) {
	a, b := socketpair(t)

	chA := NewPlainChannel(a, make([]byte, 64), make([]byte, 64))
	chB := NewPlainChannel(b, make([]byte, 64), make([]byte, 64))
	defer chA.Close()
	defer chB.Close()

	msg := []byte("hello")
	n, err := chA.Write(msg)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != len(msg) {
		t.Fatalf("wrote %d, want %d", n, len(msg))
	}

	buf := make([]byte, 16)
	n, err = chB.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("read %q, want hello", buf[:n])
	}
}

func TestPlainChannelHandshakeAlwaysComplete(t *testing.T) {
	a, b := socketpair(t)
	defer unix.Close(b)

	ch := NewPlainChannel(a, nil, nil)
	defer ch.Close()

	mask, err := ch.Handshake(true, true)
	if err != nil || mask != 0 {
		t.Fatalf("plain handshake should be immediately complete, got mask=%v err=%v", mask, err)
	}
}

func TestPlainChannelResetClearsBuffers(t *testing.T) {
	a, b := socketpair(t)
	defer unix.Close(b)

	ch := NewPlainChannel(a, make([]byte, 0, 32), make([]byte, 0, 32))
	defer ch.Close()

	ch.AppRead = append(ch.AppRead, 1, 2, 3)
	ch.Reset()
	if len(ch.AppRead) != 0 {
		t.Fatalf("reset did not clear AppRead, len=%d", len(ch.AppRead))
	}
}
