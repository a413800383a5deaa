//go:build linux

package netutil

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// SetKeepAlive configures TCP keepalive on the raw socket fd. It is used as
// the upstream dialer's Control hook; accepted client sockets get their
// keepalive through net.TCPConn in the listener. idleSeconds is the time before the
// first probe; interval and probe count follow the teacher's
// sockopt_linux.go values.
func SetKeepAlive(idleSeconds int) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sysErr error
		err := c.Control(func(fd uintptr) {
			if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); e != nil {
				sysErr = e
				return
			}
			if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, idleSeconds); e != nil {
				sysErr = e
				return
			}
			if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, 10); e != nil {
				sysErr = e
				return
			}
			if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3); e != nil {
				sysErr = e
				return
			}
			// Disable Nagle's algorithm: SOCKS5 handshake replies are small
			// and latency-sensitive.
			if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); e != nil {
				sysErr = e
				return
			}
		})
		if err != nil {
			return err
		}
		return sysErr
	}
}
