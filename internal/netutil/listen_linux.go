//go:build linux

package netutil

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// ListenTCP binds and listens on ip:port with the given listen(2) backlog.
// The standard library's net.Listen derives its backlog from
// /proc/sys/net/core/somaxconn and does not let a caller override it, so
// this builds the socket directly with golang.org/x/sys/unix the way the
// teacher proxy's sockopt_linux.go reaches for raw socket options, then
// hands the fd to net.FileListener.
func ListenTCP(ip net.IP, port int, backlog int) (net.Listener, error) {
	var family int
	var sa unix.Sockaddr

	if v4 := ip.To4(); v4 != nil {
		family = unix.AF_INET
		addr := &unix.SockaddrInet4{Port: port}
		copy(addr.Addr[:], v4)
		sa = addr
	} else {
		family = unix.AF_INET6
		addr := &unix.SockaddrInet6{Port: port}
		copy(addr.Addr[:], ip.To16())
		sa = addr
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	// Closed by the os.File wrapper below (via net.FileListener's dup) or
	// explicitly on any early-return error path.
	closeFD := true
	defer func() {
		if closeFD {
			unix.Close(fd)
		}
	}()

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if family == unix.AF_INET6 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
			return nil, fmt.Errorf("setsockopt IPV6_V6ONLY: %w", err)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		return nil, fmt.Errorf("bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	// os.NewFile takes ownership of fd: it will be closed by f.Close()
	// below regardless of outcome, so the raw-fd defer must stand down now.
	f := os.NewFile(uintptr(fd), "socks5-listener")
	closeFD = false

	ln, err := net.FileListener(f)
	// net.FileListener dups the fd into the returned Listener; the
	// original, wrapped in f, is no longer needed either way.
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("FileListener: %w", err)
	}

	return ln, nil
}
