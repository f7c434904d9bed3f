package latch_test

import (
	"context"
	"testing"
	"time"

	"github.com/hioload/ioendpoint/internal/latch"
)

func TestAcquireBlocksAtCapacity(t *testing.T) {
	l := latch.New(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		_ = l.Acquire(context.Background())
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should have blocked at capacity 1")
	case <-time.After(50 * time.Millisecond):
	}

	l.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("release did not wake blocked acquirer")
	}
}

func TestUnboundedNeverBlocks(t *testing.T) {
	l := latch.New(latch.Unbounded)
	for i := 0; i < 1000; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
}

func TestCountTracksAcquireRelease(t *testing.T) {
	l := latch.New(10)
	for i := 0; i < 5; i++ {
		_ = l.Acquire(context.Background())
	}
	if got := l.Count(); got != 5 {
		t.Fatalf("count=%d, want 5", got)
	}
	for i := 0; i < 3; i++ {
		l.Release()
	}
	if got := l.Count(); got != 2 {
		t.Fatalf("count=%d, want 2", got)
	}
}
