package reactor

import (
	"net"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/gotcp/reactor/internal/logging"
	"github.com/gotcp/reactor/internal/socket"
)

// ConnState is the TcpConnection lifecycle state.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConnectionCallback fires on connection up (Connected()==true) and on
// connection down (Connected()==false), distinguished by Connected().
type ConnectionCallback func(conn *TcpConnection)

// MessageCallback fires whenever bytes arrive; the callback retrieves
// whatever it wants from buf, leaving the rest for the next call.
type MessageCallback func(conn *TcpConnection, buf *Buffer, receiveTime Timestamp)

// WriteCompleteCallback fires once everything passed to Send has reached
// the socket: right after a direct write that sent it all, or once the
// output buffer fully drains.
type WriteCompleteCallback func(conn *TcpConnection)

// HighWaterMarkCallback fires the first time the output buffer crosses
// watermark bytes, going from below to at-or-above it.
type HighWaterMarkCallback func(conn *TcpConnection, currentLen int)

// CloseCallback is the server-supplied removal hook; it runs last in
// handleClose because it may drop the final reference to the connection.
// connectDestroyed does not call it.
type CloseCallback func(conn *TcpConnection)

// TcpConnection is a single accepted connection's state machine, I/O
// handlers, and buffers. All mutation and all callback invocation happen
// on loop's goroutine.
type TcpConnection struct {
	loop *EventLoop
	name string
	fd   int

	state atomic.Int32

	reading bool
	channel *Channel

	localAddr net.Addr
	peerAddr  net.Addr

	inputBuffer  *Buffer
	outputBuffer *Buffer

	highWaterMark int
	fault         bool

	connCb    ConnectionCallback
	msgCb     MessageCallback
	writeCb   WriteCompleteCallback
	highWmCb  HighWaterMarkCallback
	closeCb   CloseCallback

	context interface{}
}

const defaultHighWaterMark = 64 * 1024 * 1024

// NewTcpConnection constructs a connection in the Connecting state. It
// does not touch the socket or register the Channel; that happens in
// connectEstablished, posted by TcpServer to loop.
func NewTcpConnection(loop *EventLoop, name string, fd int, localAddr, peerAddr net.Addr) *TcpConnection {
	if loop == nil {
		logging.Fatalf("reactor: NewTcpConnection called with nil loop")
	}
	c := &TcpConnection{
		loop:          loop,
		name:          name,
		fd:            fd,
		localAddr:     localAddr,
		peerAddr:      peerAddr,
		inputBuffer:   NewBuffer(),
		outputBuffer:  NewBuffer(),
		highWaterMark: defaultHighWaterMark,
	}
	c.state.Store(int32(StateConnecting))
	c.channel = NewChannel(loop, fd)
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)
	return c
}

func (c *TcpConnection) Name() string         { return c.name }
func (c *TcpConnection) LocalAddress() net.Addr { return c.localAddr }
func (c *TcpConnection) PeerAddress() net.Addr  { return c.peerAddr }
func (c *TcpConnection) Connected() bool {
	return ConnState(c.state.Load()) == StateConnected
}
func (c *TcpConnection) Loop() *EventLoop { return c.loop }

// SetContext/Context let callers stash arbitrary per-connection state.
func (c *TcpConnection) SetContext(ctx interface{}) { c.context = ctx }
func (c *TcpConnection) Context() interface{}       { return c.context }

func (c *TcpConnection) SetConnectionCallback(cb ConnectionCallback)       { c.connCb = cb }
func (c *TcpConnection) SetMessageCallback(cb MessageCallback)            { c.msgCb = cb }
func (c *TcpConnection) SetWriteCompleteCallback(cb WriteCompleteCallback) { c.writeCb = cb }
func (c *TcpConnection) SetCloseCallback(cb CloseCallback)                { c.closeCb = cb }

// SetHighWaterMarkCallback installs cb, firing when the output buffer
// first crosses watermarkBytes.
func (c *TcpConnection) SetHighWaterMarkCallback(cb HighWaterMarkCallback, watermarkBytes int) {
	c.highWmCb = cb
	c.highWaterMark = watermarkBytes
}

// connectEstablished transitions Connecting -> Connected, ties the
// Channel to this connection, enables Read, and fires ConnectionCallback.
// Must run on c.loop.
func (c *TcpConnection) connectEstablished() {
	c.loop.assertInLoopGoroutine()
	c.state.Store(int32(StateConnected))
	c.channel.Tie(c)
	c.channel.EnableReading()
	c.reading = true
	if c.connCb != nil {
		c.connCb(c)
	}
}

// connectDestroyed forcibly tears the connection down if it is still
// Connected (peer-initiated close raced ahead of handleClose); it always
// removes the Channel from the Poller and closes the connection's fd.
func (c *TcpConnection) connectDestroyed() {
	c.loop.assertInLoopGoroutine()
	if ConnState(c.state.Load()) == StateConnected {
		c.state.Store(int32(StateDisconnected))
		c.channel.DisableAll()
		if c.connCb != nil {
			c.connCb(c)
		}
	}
	c.channel.Remove()
	if err := unix.Close(c.fd); err != nil {
		logging.LogErr(err)
	}
}

func (c *TcpConnection) handleRead(receiveTime Timestamp) {
	n, err := c.inputBuffer.ReadFd(c.fd)
	switch {
	case n > 0:
		if c.msgCb != nil {
			c.msgCb(c, c.inputBuffer, receiveTime)
		}
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		// Spurious readiness (e.g. an urgent-data wake with nothing yet
		// readable on the normal stream): not a close.
	case err == nil:
		c.handleClose()
	default:
		logging.Errorf("reactor: %s read error: %v", c.name, err)
		c.handleError()
	}
}

func (c *TcpConnection) handleWrite() {
	if !c.channel.IsWriting() {
		return
	}
	n, err := c.outputBuffer.WriteFd(c.fd)
	if err != nil {
		logging.Errorf("reactor: %s write error: %v", c.name, err)
		return
	}
	if n > 0 {
		c.outputBuffer.Retrieve(n)
	}
	if c.outputBuffer.ReadableBytes() == 0 {
		c.channel.DisableWriting()
		if c.writeCb != nil {
			cb := c.writeCb
			c.loop.QueueInLoop(func() { cb(c) })
		}
		if ConnState(c.state.Load()) == StateDisconnecting {
			c.shutdownInLoop()
		}
	}
}

func (c *TcpConnection) handleClose() {
	st := ConnState(c.state.Load())
	if st == StateDisconnected {
		return
	}
	c.state.Store(int32(StateDisconnected))
	c.channel.DisableAll()
	if c.connCb != nil {
		c.connCb(c)
	}
	if c.closeCb != nil {
		c.closeCb(c)
	}
}

func (c *TcpConnection) handleError() {
	logging.Errorf("reactor: %s socket error", c.name)
}

// Send queues bytes for writing, returning ErrConnectionClosed if the
// connection is not currently Connected. Safe to call from any goroutine;
// when called off c.loop, the bytes are copied before being posted, since
// the caller's slice is not guaranteed to outlive the post.
func (c *TcpConnection) Send(data []byte) error {
	if ConnState(c.state.Load()) != StateConnected {
		return ErrConnectionClosed
	}
	if c.loop.IsInLoopGoroutine() {
		c.sendInLoop(data)
		return nil
	}
	cp := append([]byte(nil), data...)
	c.loop.QueueInLoop(func() { c.sendInLoop(cp) })
	return nil
}

func (c *TcpConnection) sendInLoop(data []byte) {
	if ConnState(c.state.Load()) == StateDisconnected {
		logging.Warnf("reactor: %s send on disconnected connection, dropping %d bytes", c.name, len(data))
		return
	}

	nwrote := 0
	remaining := len(data)
	fault := false

	if !c.channel.IsWriting() && c.outputBuffer.ReadableBytes() == 0 {
		n, err := unix.Write(c.fd, data)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				if err == unix.EPIPE || err == unix.ECONNRESET {
					fault = true
				} else {
					logging.Errorf("reactor: %s write error: %v", c.name, err)
				}
			}
			n = 0
		}
		nwrote = n
		remaining = len(data) - n
		if remaining == 0 && c.writeCb != nil {
			cb := c.writeCb
			c.loop.QueueInLoop(func() { cb(c) })
		}
	}

	if !fault && remaining > 0 {
		oldLen := c.outputBuffer.ReadableBytes()
		if oldLen+remaining >= c.highWaterMark && oldLen < c.highWaterMark && c.highWmCb != nil {
			cb := c.highWmCb
			total := oldLen + remaining
			c.loop.QueueInLoop(func() { cb(c, total) })
		}
		c.outputBuffer.Append(data[nwrote:])
		if !c.channel.IsWriting() {
			c.channel.EnableWriting()
		}
	}
}

// Shutdown half-closes the write side once the output buffer drains,
// returning ErrConnectionClosed if the connection is not currently
// Connected. Safe to call from any goroutine.
func (c *TcpConnection) Shutdown() error {
	if ConnState(c.state.Load()) != StateConnected {
		return ErrConnectionClosed
	}
	c.state.Store(int32(StateDisconnecting))
	c.loop.RunInLoop(c.shutdownInLoop)
	return nil
}

func (c *TcpConnection) shutdownInLoop() {
	if !c.channel.IsWriting() {
		if err := socket.ShutdownWrite(c.fd); err != nil {
			logging.LogErr(err)
		}
	}
}

// ForceClose transitions directly into the close path, bypassing the
// half-close handshake; used for abrupt teardown (e.g. server shutdown).
func (c *TcpConnection) ForceClose() {
	st := ConnState(c.state.Load())
	if st == StateConnected || st == StateDisconnecting {
		c.state.Store(int32(StateDisconnecting))
		c.loop.QueueInLoop(c.handleClose)
	}
}
