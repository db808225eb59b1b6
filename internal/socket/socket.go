// Package socket wraps the raw socket syscalls the reactor core needs:
// creating a non-blocking listening socket, accepting connections, and
// twiddling the handful of socket options the spec calls out. It is the
// "socket-options wrapper" the spec treats as an external collaborator.
package socket

import (
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// ListenTCP creates a non-blocking, close-on-exec listening socket bound
// to addr, with SO_REUSEADDR always set and SO_REUSEPORT set when
// reusePort is true. It does not call listen(2); that happens in
// Acceptor.Listen so the backlog can be sized independently.
func ListenTCP(addr *net.TCPAddr, reusePort bool) (fd int, err error) {
	domain := unix.AF_INET
	if addr.IP.To4() == nil {
		domain = unix.AF_INET6
	}
	fd, err = unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, os.NewSyscallError("setsockopt(SO_REUSEADDR)", err)
	}
	if reusePort {
		if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			unix.Close(fd)
			return -1, os.NewSyscallError("setsockopt(SO_REUSEPORT)", err)
		}
	}
	sa, err := sockaddr(addr)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err = unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, os.NewSyscallError("bind", err)
	}
	return fd, nil
}

// Listen calls listen(2) with the given backlog.
func Listen(fd, backlog int) error {
	if err := unix.Listen(fd, backlog); err != nil {
		return os.NewSyscallError("listen", err)
	}
	return nil
}

// Accept accepts one pending connection, returning its fd (already
// non-blocking and close-on-exec) and the peer's address. It surfaces
// EAGAIN/EWOULDBLOCK and EMFILE unwrapped so the Acceptor can special-case
// them per the spec's error taxonomy.
func Accept(listenFd int) (connFd int, peer net.Addr, err error) {
	nfd, sa, err := unix.Accept4(listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, nil, err
	}
	return nfd, sockaddrToAddr(sa), nil
}

// LocalAddr resolves the local address bound to fd via getsockname(2).
func LocalAddr(fd int) (net.Addr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, os.NewSyscallError("getsockname", err)
	}
	return sockaddrToAddr(sa), nil
}

// ShutdownWrite half-closes the write side of fd.
func ShutdownWrite(fd int) error {
	if err := unix.Shutdown(fd, unix.SHUT_WR); err != nil {
		return os.NewSyscallError("shutdown", err)
	}
	return nil
}

// SetKeepAlive enables/disables SO_KEEPALIVE, and when enabling and period
// is positive, also sets TCP_KEEPIDLE to approximate the original's
// Socket::setKeepAlive(true) plus the teacher's configurable keep-alive
// interval.
func SetKeepAlive(fd int, on bool, period time.Duration) error {
	v := 0
	if on {
		v = 1
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, v); err != nil {
		return os.NewSyscallError("setsockopt(SO_KEEPALIVE)", err)
	}
	if on && period > 0 {
		secs := int(period / time.Second)
		if secs < 1 {
			secs = 1
		}
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs)
	}
	return nil
}

// SetNoDelay enables/disables TCP_NODELAY (disabling/enabling Nagle's
// algorithm).
func SetNoDelay(fd int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v); err != nil {
		return os.NewSyscallError("setsockopt(TCP_NODELAY)", err)
	}
	return nil
}

// SetRecvBuffer sets SO_RCVBUF.
func SetRecvBuffer(fd, bytes int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, bytes); err != nil {
		return os.NewSyscallError("setsockopt(SO_RCVBUF)", err)
	}
	return nil
}

// SetSendBuffer sets SO_SNDBUF.
func SetSendBuffer(fd, bytes int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, bytes); err != nil {
		return os.NewSyscallError("setsockopt(SO_SNDBUF)", err)
	}
	return nil
}

func sockaddr(addr *net.TCPAddr) (unix.Sockaddr, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = addr.Port
		copy(sa.Addr[:], ip4)
		return &sa, nil
	}
	var sa unix.SockaddrInet6
	sa.Port = addr.Port
	copy(sa.Addr[:], addr.IP.To16())
	return &sa, nil
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append([]byte(nil), v.Addr[:]...), Port: v.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append([]byte(nil), v.Addr[:]...), Port: v.Port}
	default:
		return nil
	}
}
