//go:build linux

package selector

// New constructs the platform-default Selector.
func New() (Selector, error) { return NewEpollSelector() }
