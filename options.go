package reactor

import (
	"time"

	"go.uber.org/zap"

	"github.com/gotcp/reactor/internal/logging"
)

// LoadBalancerPolicy selects how EventLoopThreadPool.GetNextLoop picks a
// sub-loop for a newly accepted connection.
type LoadBalancerPolicy int

const (
	// RoundRobin advances a rotating index across the pool. Default.
	RoundRobin LoadBalancerPolicy = iota
	// LeastConnections returns the sub-loop currently holding the fewest
	// live connections.
	LeastConnections
	// SourceAddrHash hashes the peer address to a deterministic sub-loop.
	SourceAddrHash
)

// Options carries every tunable knob for a TcpServer and the EventLoops
// it owns. Construct via NewTcpServer's variadic Option arguments, never
// by literal.
type Options struct {
	NumLoops         int
	LoadBalancer     LoadBalancerPolicy
	ReusePort        bool
	TCPKeepAlive     time.Duration
	TCPNoDelay       bool
	SocketRecvBuffer int
	SocketSendBuffer int
	ReadBufferCap    int
	LockOSThread     bool
	TickerInterval   time.Duration
}

func defaultOptions() *Options {
	return &Options{
		NumLoops:      0,
		LoadBalancer:  RoundRobin,
		TCPKeepAlive:  15 * time.Second,
		TCPNoDelay:    true,
		ReadBufferCap: bufferInitialSize,
	}
}

// Option mutates an Options instance at TcpServer construction time.
type Option func(*Options)

// WithNumLoops sets the number of I/O sub-loops. 0 means accept and I/O
// share the main loop.
func WithNumLoops(n int) Option {
	return func(o *Options) { o.NumLoops = n }
}

// WithLoadBalancer selects the sub-loop assignment policy.
func WithLoadBalancer(policy LoadBalancerPolicy) Option {
	return func(o *Options) { o.LoadBalancer = policy }
}

// WithReusePort sets SO_REUSEPORT on the listening socket.
func WithReusePort(on bool) Option {
	return func(o *Options) { o.ReusePort = on }
}

// WithTCPKeepAlive sets the keep-alive idle period; zero disables
// keep-alive entirely.
func WithTCPKeepAlive(d time.Duration) Option {
	return func(o *Options) { o.TCPKeepAlive = d }
}

// WithTCPNoDelay toggles TCP_NODELAY (Nagle's algorithm disabled when
// true).
func WithTCPNoDelay(on bool) Option {
	return func(o *Options) { o.TCPNoDelay = on }
}

// WithSocketRecvBuffer sets SO_RCVBUF on every connection socket.
func WithSocketRecvBuffer(bytes int) Option {
	return func(o *Options) { o.SocketRecvBuffer = bytes }
}

// WithSocketSendBuffer sets SO_SNDBUF on every connection socket.
func WithSocketSendBuffer(bytes int) Option {
	return func(o *Options) { o.SocketSendBuffer = bytes }
}

// WithReadBufferCap sets the initial writable capacity of each
// connection's input Buffer.
func WithReadBufferCap(bytes int) Option {
	return func(o *Options) { o.ReadBufferCap = bytes }
}

// WithLockOSThread is retained for callers that want to request OS
// thread pinning explicitly; EventLoop.Loop now locks its goroutine's OS
// thread unconditionally, so this no longer changes behavior.
func WithLockOSThread(on bool) Option {
	return func(o *Options) { o.LockOSThread = on }
}

// WithTicker enables the main loop's housekeeping ticker at the given
// interval; sub-loops get no ticker. Zero (the default) disables it.
func WithTicker(interval time.Duration) Option {
	return func(o *Options) { o.TickerInterval = interval }
}

// WithLogger installs a custom zap logger, replacing the package default.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *Options) { logging.SetLogger(l) }
}

// WithLogFile routes logging output to a rotating file sink.
func WithLogFile(path string, maxSizeMB int) Option {
	return func(o *Options) { logging.UseRotatingFile(path, maxSizeMB, 5, 28) }
}
