// File: api/pool.go
// Author: momentics <momentics@gmail.com>
//
// Defines abstract pooling APIs: zero-copy allocators for buffer and object reuse.

package api

// BytePool provides reusable []byte buffers for all high-intensity operations
type BytePool interface {
	// Acquire returns a slice of at least n bytes.
	Acquire(n int) []byte

	// Release returns a buffer to the pool
	Release(buf []byte)
}

// ObjectPool provides generic pooling of Go objects allocated transiently.
// Unlike sync.Pool, implementations are bounded: Put reports whether the
// object was accepted, and Get reports whether an instance was available, so
// callers can tell "recycled" apart from "freed"/"constructed".
type ObjectPool[T any] interface {
	// Get returns an available instance from the pool, or ok=false if empty.
	Get() (obj T, ok bool)

	// Put offers obj back to the pool. Returns false when the pool is at
	// capacity; the caller must then discard/free obj itself.
	Put(obj T) bool

	// Len reports the number of objects currently cached.
	Len() int

	// Cap reports the configured capacity.
	Cap() int
}
