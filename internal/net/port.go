package net

import (
	"fmt"
	"net"
	"strconv"
)

// EphemeralTCPPort asks the kernel for a free loopback port. The port is released before
// returning, so it can be taken by someone else before it is used.
func EphemeralTCPPort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("resolving 127.0.0.1:0: %w", err)
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// EphemeralTCPAddr is EphemeralTCPPort in host:port form.
func EphemeralTCPAddr() (string, error) {
	port, err := EphemeralTCPPort()
	if err != nil {
		return "", err
	}
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), nil
}
