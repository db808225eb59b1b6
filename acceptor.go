package reactor

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/gotcp/reactor/internal/logging"
	"github.com/gotcp/reactor/internal/socket"
)

// NewConnectionCallback is invoked once per accepted connection with its
// raw fd and the peer's resolved address.
type NewConnectionCallback func(connFd int, peerAddr net.Addr)

// Acceptor owns the listening socket and its Channel on the main loop.
// On readability it accepts in a tight loop until EAGAIN and hands each
// accepted fd to the installed callback.
type Acceptor struct {
	loop      *EventLoop
	listenFd  int
	channel   *Channel
	listening bool
	closed    bool
	idleFd    int
	newConnCb NewConnectionCallback
	reusePort bool
}

// NewAcceptor creates a non-blocking listening socket bound to addr. It
// does not call listen(2) yet; that happens in Listen.
func NewAcceptor(loop *EventLoop, addr *net.TCPAddr, reusePort bool) (*Acceptor, error) {
	fd, err := socket.ListenTCP(addr, reusePort)
	if err != nil {
		logging.Fatalf("reactor: failed to create listening socket: %v", err)
		return nil, err
	}
	idleFd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		idleFd = -1
	}
	a := &Acceptor{
		loop:      loop,
		listenFd:  fd,
		idleFd:    idleFd,
		reusePort: reusePort,
	}
	a.channel = NewChannel(loop, fd)
	a.channel.SetReadCallback(a.handleRead)
	return a, nil
}

// SetNewConnectionCallback installs the callback fired per accepted
// connection. If unset when a connection arrives, the accepted fd is
// closed immediately to avoid leaking descriptors.
func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) {
	a.newConnCb = cb
}

// Listen calls listen(2) and begins watching the socket for readability.
// Must be called on the main loop's goroutine. Returns ErrListenerClosed
// if the acceptor has already been closed.
func (a *Acceptor) Listen() error {
	a.loop.assertInLoopGoroutine()
	if a.closed {
		return ErrListenerClosed
	}
	a.listening = true
	if err := socket.Listen(a.listenFd, unix.SOMAXCONN); err != nil {
		return err
	}
	a.channel.EnableReading()
	return nil
}

func (a *Acceptor) handleRead(_ Timestamp) {
	for {
		connFd, peerAddr, err := socket.Accept(a.listenFd)
		if err != nil {
			switch err {
			case unix.EAGAIN, unix.EWOULDBLOCK:
				return
			case unix.EMFILE, unix.ENFILE:
				logging.Errorf("reactor: accept failed, too many open files: %v", err)
				a.releaseIdleFd()
				return
			default:
				logging.Errorf("reactor: accept failed: %v", err)
				return
			}
		}
		if a.newConnCb != nil {
			a.newConnCb(connFd, peerAddr)
		} else {
			unix.Close(connFd)
		}
	}
}

// releaseIdleFd closes the reserved idle fd (freeing one descriptor slot
// so the kernel can complete a pending accept), accepts one pending
// connection and closes it at once, then re-opens a fresh placeholder
// fd. This mirrors the
// listener-reuse trick the spec calls for on EMFILE.
func (a *Acceptor) releaseIdleFd() {
	if a.idleFd < 0 {
		return
	}
	unix.Close(a.idleFd)
	connFd, _, err := socket.Accept(a.listenFd)
	if err == nil {
		unix.Close(connFd)
	}
	fd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err == nil {
		a.idleFd = fd
	}
}

// Close releases the listening socket and the reserved idle fd. Safe to
// call at most once; a subsequent Listen reports ErrListenerClosed.
func (a *Acceptor) Close() error {
	a.closed = true
	if a.idleFd >= 0 {
		unix.Close(a.idleFd)
	}
	a.channel.DisableAll()
	a.channel.Remove()
	return unix.Close(a.listenFd)
}
