package concurrency

import "testing"

func TestLockFreeQueueEnqueueDequeueOrder(t *testing.T) {
	q := NewLockFreeQueue[int](4)
	for i := 0; i < 4; i++ {
		if !q.Enqueue(i) {
			t.Fatalf("enqueue %d: expected room", i)
		}
	}
	if q.Enqueue(99) {
		t.Fatal("enqueue beyond capacity: expected false")
	}
	for i := 0; i < 4; i++ {
		v, ok := q.Dequeue()
		if !ok || v != i {
			t.Fatalf("dequeue %d: got (%d, %v), want (%d, true)", i, v, ok, i)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("dequeue on empty queue: expected ok=false")
	}
}
