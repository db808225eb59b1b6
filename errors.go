package reactor

import "errors"

// Sentinel errors returned from setup-time and runtime calls. Programmer
// errors (a second EventLoop on an occupied goroutine slot, failed socket
// or eventfd creation, epoll_ctl ADD/MOD failure, a nil loop) are fatal
// and terminate the process via internal/logging; only ErrNilEventLoop
// stands for one of them, and it is never observed by callers.
var (
	// ErrConnectionClosed is returned by Send/Shutdown when the
	// connection is not currently in the Connected state.
	ErrConnectionClosed = errors.New("reactor: connection is closed")

	// ErrAlreadyStarted is returned by Start when called after the server
	// has already begun accepting connections. Start is idempotent in
	// effect (only the first call does anything) but callers that want
	// to detect a double-start can check for this with errors.Is.
	ErrAlreadyStarted = errors.New("reactor: server already started")

	// ErrNilEventLoop is the error NewTcpServer's nil-main-loop path
	// returns after logging.Fatalf; since Fatalf terminates the process
	// first, no caller receives it.
	ErrNilEventLoop = errors.New("reactor: event loop must not be nil")

	// ErrListenerClosed is returned by Acceptor.Listen when called after
	// the acceptor has already been closed.
	ErrListenerClosed = errors.New("reactor: listener is closed")
)
