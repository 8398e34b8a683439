//go:build !linux

package web

import (
	"fmt"
	"net"
)

// Listen binds a TCP listener. The backlog is left to the OS default here.
func Listen(addr string, backlog int) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("web: listen %s: %w", addr, err)
	}
	return ln, nil
}
