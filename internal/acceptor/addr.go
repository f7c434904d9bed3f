// File: internal/acceptor/addr.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package acceptor

import (
	"fmt"
	"net"
)

// parseIPv4 resolves an IPv4 literal or "0.0.0.0"/"" wildcard into the
// 4-byte form unix.SockaddrInet4 requires.
func parseIPv4(s string) ([4]byte, error) {
	var out [4]byte
	if s == "" {
		return out, nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return out, fmt.Errorf("acceptor: invalid address %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return out, fmt.Errorf("acceptor: address %q is not IPv4", s)
	}
	copy(out[:], v4)
	return out, nil
}
