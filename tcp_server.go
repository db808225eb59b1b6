package reactor

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/gotcp/reactor/internal/asyncpool"
	"github.com/gotcp/reactor/internal/logging"
	"github.com/gotcp/reactor/internal/socket"
)

// housekeepingPoolSize bounds the goroutines available to a server's
// internal async bookkeeping (periodic sweeps), independent of and much
// smaller than the connection count, since this work never scales with
// traffic.
const housekeepingPoolSize = 4

// ShutdownCallback fires once when Stop begins tearing the server down.
type ShutdownCallback func()

// TcpServer is the top-level composition: an Acceptor on the main loop,
// a pool of I/O sub-loops, and the name->connection map. The connection
// map is modified only on the main loop's goroutine; mu guards it so
// Stop and the housekeeping tick can read it from other goroutines.
type TcpServer struct {
	mainLoop *EventLoop
	name     string
	opts     *Options

	acceptor   *Acceptor
	threadPool *EventLoopThreadPool

	mu          sync.Mutex
	connections map[string]*TcpConnection
	nextID      int

	started atomic.Bool

	connCb    ConnectionCallback
	msgCb     MessageCallback
	writeCb   WriteCompleteCallback
	threadCb  ThreadInitCallback
	shutdownCb ShutdownCallback

	stopOnce sync.Once
	cond     *sync.Cond
	condMu   sync.Mutex
	stopped  bool

	async *asyncpool.Pool
}

// NewTcpServer constructs a server bound to listenAddr, reactored on
// mainLoop. mainLoop must not be nil.
func NewTcpServer(mainLoop *EventLoop, listenAddr string, name string, opts ...Option) (*TcpServer, error) {
	if mainLoop == nil {
		logging.Fatalf("reactor: NewTcpServer called with nil main loop")
		return nil, ErrNilEventLoop
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	addr, err := net.ResolveTCPAddr("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("reactor: resolve listen addr: %w", err)
	}

	acc, err := NewAcceptor(mainLoop, addr, o.ReusePort)
	if err != nil {
		return nil, err
	}

	s := &TcpServer{
		mainLoop:    mainLoop,
		name:        name,
		opts:        o,
		acceptor:    acc,
		connections: make(map[string]*TcpConnection),
	}
	s.cond = sync.NewCond(&s.condMu)
	s.threadPool = NewEventLoopThreadPool(mainLoop, o.LoadBalancer, o.LockOSThread)
	s.threadPool.SetThreadNum(o.NumLoops)
	s.acceptor.SetNewConnectionCallback(s.newConnection)

	async, err := asyncpool.New(housekeepingPoolSize)
	if err != nil {
		return nil, fmt.Errorf("reactor: async pool: %w", err)
	}
	s.async = async
	return s, nil
}

func (s *TcpServer) SetConnectionCallback(cb ConnectionCallback)       { s.connCb = cb }
func (s *TcpServer) SetMessageCallback(cb MessageCallback)            { s.msgCb = cb }
func (s *TcpServer) SetWriteCompleteCallback(cb WriteCompleteCallback) { s.writeCb = cb }
func (s *TcpServer) SetThreadInitCallback(cb ThreadInitCallback)       { s.threadCb = cb }
func (s *TcpServer) SetShutdownCallback(cb ShutdownCallback)          { s.shutdownCb = cb }

// SetThreadNum configures the sub-loop pool size. Must be called before
// Start.
func (s *TcpServer) SetThreadNum(n int) {
	s.threadPool.SetThreadNum(n)
}

// Start begins accepting connections. Idempotent in effect: a second call
// never re-listens, and reports ErrAlreadyStarted so callers that care
// about a double-start can detect it with errors.Is.
func (s *TcpServer) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if s.opts.TickerInterval > 0 {
		s.mainLoop.WithTickerFunc(s.opts.TickerInterval, s.tick)
	}
	s.threadPool.Start(s.threadCb)

	var listenErr error
	done := make(chan struct{})
	s.mainLoop.RunInLoop(func() {
		listenErr = s.acceptor.Listen()
		close(done)
	})
	<-done
	if listenErr != nil {
		return listenErr
	}
	logging.Infof("reactor: TcpServer %s listening", s.name)
	return nil
}

// tick runs on the main loop every WithTicker interval; it offloads the
// actual sweep/log work onto the async pool so it never adds latency to
// the loop's own poll/dispatch cycle.
func (s *TcpServer) tick() {
	s.async.Submit(func() {
		s.mu.Lock()
		n := len(s.connections)
		s.mu.Unlock()
		logging.Debugf("reactor: server %s: %d active connections", s.name, n)
	})
}

// newConnection runs on the main loop: it picks an I/O loop, builds the
// TcpConnection, stores it, wires callbacks, and posts connectEstablished
// to the chosen loop.
func (s *TcpServer) newConnection(connFd int, peerAddr net.Addr) {
	ioLoop := s.threadPool.GetNextLoop(peerAddr)

	s.mu.Lock()
	s.nextID++
	connName := fmt.Sprintf("%s-%s#%d", s.name, peerAddr, s.nextID)
	s.mu.Unlock()

	localAddr, err := socket.LocalAddr(connFd)
	if err != nil {
		logging.Errorf("reactor: getsockname failed for %s: %v", connName, err)
		localAddr = nil
	}

	if s.opts.TCPKeepAlive > 0 {
		logging.LogErr(socket.SetKeepAlive(connFd, true, s.opts.TCPKeepAlive))
	}
	if s.opts.TCPNoDelay {
		logging.LogErr(socket.SetNoDelay(connFd, true))
	}
	if s.opts.SocketRecvBuffer > 0 {
		logging.LogErr(socket.SetRecvBuffer(connFd, s.opts.SocketRecvBuffer))
	}
	if s.opts.SocketSendBuffer > 0 {
		logging.LogErr(socket.SetSendBuffer(connFd, s.opts.SocketSendBuffer))
	}

	conn := NewTcpConnection(ioLoop, connName, connFd, localAddr, peerAddr)
	if s.opts.ReadBufferCap > 0 {
		conn.inputBuffer.data = make([]byte, bufferCheapPrepend+s.opts.ReadBufferCap)
	}
	conn.SetConnectionCallback(s.connCb)
	conn.SetMessageCallback(s.msgCb)
	conn.SetWriteCompleteCallback(s.writeCb)
	conn.SetCloseCallback(s.removeConnection)

	s.mu.Lock()
	s.connections[connName] = conn
	s.mu.Unlock()

	ioLoop.RunInLoop(conn.connectEstablished)
}

// removeConnection runs on conn's I/O loop; it re-posts the map removal
// to the main loop, preserving the rule that the connection map is only
// touched on the main loop's goroutine.
func (s *TcpServer) removeConnection(conn *TcpConnection) {
	s.mainLoop.RunInLoop(func() { s.removeConnectionInLoop(conn) })
}

func (s *TcpServer) removeConnectionInLoop(conn *TcpConnection) {
	s.mu.Lock()
	delete(s.connections, conn.Name())
	s.mu.Unlock()
	s.threadPool.ReleaseLoop(conn.Loop())
	conn.Loop().QueueInLoop(conn.connectDestroyed)
}

// Stop gracefully tears the server down: it fires the shutdown callback,
// force-closes every live connection, stops every sub-loop, and closes
// the listener. It is bounded by ctx and idempotent.
func (s *TcpServer) Stop(ctx context.Context) error {
	var stopErr error
	s.stopOnce.Do(func() {
		if s.shutdownCb != nil {
			s.shutdownCb()
		}

		s.mu.Lock()
		conns := make([]*TcpConnection, 0, len(s.connections))
		for _, c := range s.connections {
			conns = append(conns, c)
		}
		s.mu.Unlock()
		for _, c := range conns {
			c.ForceClose()
		}

		done := make(chan struct{})
		go func() {
			s.threadPool.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			stopErr = ctx.Err()
		}

		acceptorDone := make(chan error, 1)
		s.mainLoop.RunInLoop(func() { acceptorDone <- s.acceptor.Close() })
		select {
		case err := <-acceptorDone:
			if err != nil {
				stopErr = multierr.Append(stopErr, err)
			}
		case <-ctx.Done():
			stopErr = multierr.Append(stopErr, ctx.Err())
		}
		s.async.Release()

		s.condMu.Lock()
		s.stopped = true
		s.cond.Broadcast()
		s.condMu.Unlock()
	})
	return stopErr
}

// WaitForShutdown blocks until Stop has completed, or ctx is done. Useful
// for a goroutine that needs to know the server has fully torn down
// without itself being the caller of Stop.
func (s *TcpServer) WaitForShutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.condMu.Lock()
		for !s.stopped {
			s.cond.Wait()
		}
		s.condMu.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
