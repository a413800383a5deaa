//go:build !linux

package netutil

import "syscall"

// SetKeepAlive is a no-op on non-Linux platforms; the portable keepalive
// knobs are set through net.Dialer/net.TCPConn instead (see session.go).
// The Linux build applies TCP_KEEPIDLE/INTVL/CNT and TCP_NODELAY directly
// via sockopt_linux.go.
func SetKeepAlive(idleSeconds int) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		return nil
	}
}
