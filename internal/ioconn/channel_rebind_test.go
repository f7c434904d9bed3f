package ioconn

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestPlainChannelRebindReusesStruct(t *testing.T) {
	a1, b1 := socketpair(t)
	defer unix.Close(b1)

	ch := NewPlainChannel(a1, make([]byte, 0, 32), make([]byte, 0, 32))
	ch.AppRead = append(ch.AppRead, 9, 9, 9)

	a2, b2 := socketpair(t)
	defer unix.Close(b2)
	defer ch.Close()

	ch.Rebind(a2)
	if ch.Fd() != a2 {
		t.Fatalf("fd=%d, want %d", ch.Fd(), a2)
	}
	if len(ch.AppRead) != 0 {
		t.Fatalf("rebind should reset buffers, len=%d", len(ch.AppRead))
	}

	unix.Close(a1)
}
