// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Lock-free queue and work-stealing executor backing the worker pool that
// runs SocketProcessor tasks.
package concurrency
