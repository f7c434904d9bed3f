// File: internal/concurrency/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "errors"

// ErrExecutorClosed indicates the executor has been shut down, or that
// Submit found no room in either the local or the global queue.
var ErrExecutorClosed = errors.New("executor is closed")
